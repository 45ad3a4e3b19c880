package storage

import (
	"context"
	"time"

	"jobwatch/internal/domain"
)

// AppendNotification writes one delivered-notification audit row.
func (s *Store) AppendNotification(ctx context.Context, rec domain.NotificationRecord) error {
	sentAt := rec.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO notifications(recipient_id, posting_id, keyword, sent_at) VALUES(?,?,?,?)`),
		rec.RecipientID, rec.PostingID, rec.Keyword, millis(sentAt))
	return domain.Wrap(domain.ErrPersistence, "append notification", err)
}

// Notifications returns a recipient's most recent notification records.
func (s *Store) Notifications(ctx context.Context, recipientID string, limit int) ([]domain.NotificationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT n.recipient_id, n.posting_id, p.url, n.keyword, n.sent_at
		 FROM notifications n JOIN postings p ON p.id = n.posting_id
		 WHERE n.recipient_id = ?
		 ORDER BY n.sent_at DESC, n.id DESC LIMIT ?`), recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.NotificationRecord
	for rows.Next() {
		var (
			rec    domain.NotificationRecord
			sentAt int64
		)
		if err := rows.Scan(&rec.RecipientID, &rec.PostingID, &rec.PostingURL, &rec.Keyword, &sentAt); err != nil {
			return nil, err
		}
		rec.SentAt = fromMillis(sentAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TryAcquire is the shared-state form of the notification rate gate.
//
// It succeeds, stamping now, iff key has no stamp newer than now-window. The
// conditional upsert is a single statement, so concurrent callers (in this
// process or another one sharing the database) cannot both succeed.
func (s *Store) TryAcquire(ctx context.Context, key string, now time.Time, window time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO rate_limits(limit_key, last_sent_at) VALUES(?,?)
		 ON CONFLICT(limit_key) DO UPDATE SET last_sent_at = excluded.last_sent_at
		 WHERE rate_limits.last_sent_at <= ?`),
		key, millis(now), millis(now.Add(-window)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
