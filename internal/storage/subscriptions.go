package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"jobwatch/internal/domain"
)

// MatchingRecipients returns one (recipient, keyword) pair per subscription
// on any of keywords. Recipients that opted out via the bot are excluded;
// recipients with no registration row are treated as active.
func (s *Store) MatchingRecipients(ctx context.Context, keywords []domain.Keyword) ([]domain.Match, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(keywords))
	for _, kw := range keywords {
		args = append(args, kw)
	}
	q := fmt.Sprintf(
		`SELECT s.recipient_id, s.keyword
		 FROM subscriptions s
		 LEFT JOIN recipients r ON r.id = s.recipient_id
		 WHERE s.keyword IN (%s) AND (r.active IS NULL OR r.active = TRUE)
		 ORDER BY s.recipient_id, s.keyword`, placeholders(len(keywords)))

	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, domain.Wrap(domain.ErrPersistence, "matching recipients", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		var m domain.Match
		if err := rows.Scan(&m.RecipientID, &m.Keyword); err != nil {
			return nil, domain.Wrap(domain.ErrPersistence, "matching recipients", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Wrap(domain.ErrPersistence, "matching recipients", err)
	}
	return out, nil
}

// Subscribe records (recipient, keyword). It reports false when the
// subscription already existed.
func (s *Store) Subscribe(ctx context.Context, recipientID string, keyword domain.Keyword) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO subscriptions(recipient_id, keyword, created_at) VALUES(?,?,?)
		 ON CONFLICT(recipient_id, keyword) DO NOTHING`),
		recipientID, keyword, millis(s.now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Unsubscribe removes (recipient, keyword). It reports false when nothing was removed.
func (s *Store) Unsubscribe(ctx context.Context, recipientID string, keyword domain.Keyword) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM subscriptions WHERE recipient_id = ? AND keyword = ?`), recipientID, keyword)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Subscriptions lists a recipient's subscriptions ordered by keyword.
func (s *Store) Subscriptions(ctx context.Context, recipientID string) ([]domain.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT recipient_id, keyword, created_at FROM subscriptions
		 WHERE recipient_id = ? ORDER BY keyword`), recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var (
			sub     domain.Subscription
			created int64
		)
		if err := rows.Scan(&sub.RecipientID, &sub.Keyword, &created); err != nil {
			return nil, err
		}
		sub.CreatedAt = fromMillis(created)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// UpsertRecipient registers a recipient or refreshes its profile, marking it active.
func (s *Store) UpsertRecipient(ctx context.Context, r domain.Recipient) error {
	created := r.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO recipients(id, username, first_name, active, created_at) VALUES(?,?,?,TRUE,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   first_name = excluded.first_name,
		   active = TRUE`),
		r.ID, nullStr(r.Username), nullStr(r.FirstName), millis(created))
	return err
}

// SetRecipientActive toggles delivery for a registered recipient.
// Unknown recipients are registered with the given state.
func (s *Store) SetRecipientActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO recipients(id, active, created_at) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET active = excluded.active`),
		id, active, millis(s.now()))
	return err
}

// Recipient returns the registration row, or ok=false when none exists.
func (s *Store) Recipient(ctx context.Context, id string) (domain.Recipient, bool, error) {
	var (
		r         domain.Recipient
		username  sql.NullString
		firstName sql.NullString
		created   int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, username, first_name, active, created_at FROM recipients WHERE id = ?`), id).
		Scan(&r.ID, &username, &firstName, &r.Active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Recipient{}, false, nil
	}
	if err != nil {
		return domain.Recipient{}, false, err
	}
	r.Username = username.String
	r.FirstName = firstName.String
	r.CreatedAt = fromMillis(created)
	return r, true, nil
}
