package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"jobwatch/internal/domain"
)

// Exists reports whether a posting with exactly this URL is stored.
func (s *Store) Exists(ctx context.Context, url string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM postings WHERE url = ?`), url).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, domain.Wrap(domain.ErrPersistence, "exists", err)
	}
	return true, nil
}

// Insert stores a new posting and returns its id.
//
// The UNIQUE constraint on url is the only dedupe guard that matters: when
// the row already exists (including a concurrent insert that won the race)
// Insert returns an error matching domain.ErrConflict and writes nothing.
func (s *Store) Insert(ctx context.Context, p domain.Posting) (int64, error) {
	ingested := p.IngestedAt
	if ingested.IsZero() {
		ingested = s.now()
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`INSERT INTO postings(url, title, body, origin, published_at, ingested_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(url) DO NOTHING
		 RETURNING id`),
		p.URL, p.Title, p.Body, p.Origin, nullMillis(p.PublishedAt), millis(ingested),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.Error{Kind: domain.ErrConflict, Op: "insert " + p.URL}
	}
	if err != nil {
		return 0, domain.Wrap(domain.ErrPersistence, "insert "+p.URL, err)
	}
	return id, nil
}

// RecordKeywords associates keywords with a posting. Already-present pairs are ignored.
func (s *Store) RecordKeywords(ctx context.Context, postingID int64, keywords []domain.Keyword) error {
	if len(keywords) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.ErrPersistence, "record keywords", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.rebind(
		`INSERT INTO posting_keywords(posting_id, keyword) VALUES(?,?) ON CONFLICT DO NOTHING`))
	if err != nil {
		return domain.Wrap(domain.ErrPersistence, "record keywords", err)
	}
	defer stmt.Close()

	for _, kw := range keywords {
		if _, err := stmt.ExecContext(ctx, postingID, kw); err != nil {
			return domain.Wrap(domain.ErrPersistence, "record keyword "+kw, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.ErrPersistence, "record keywords", err)
	}
	return nil
}

// Keywords returns the keywords recorded for a posting, sorted.
func (s *Store) Keywords(ctx context.Context, postingID int64) ([]domain.Keyword, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT keyword FROM posting_keywords WHERE posting_id = ? ORDER BY keyword`), postingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Keyword
	for rows.Next() {
		var kw string
		if err := rows.Scan(&kw); err != nil {
			return nil, err
		}
		out = append(out, kw)
	}
	return out, rows.Err()
}

// PostingByURL returns the stored posting for url, or sql.ErrNoRows.
func (s *Store) PostingByURL(ctx context.Context, url string) (domain.Posting, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, url, title, body, origin, published_at, ingested_at FROM postings WHERE url = ?`), url)
	p, err := scanPosting(row)
	if err != nil {
		return domain.Posting{}, err
	}
	p.Keywords, err = s.Keywords(ctx, p.ID)
	return p, err
}

// PostingsSince returns postings ingested at or after since, newest first,
// with their keywords attached.
func (s *Store) PostingsSince(ctx context.Context, since time.Time, limit int) ([]domain.Posting, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT id, url, title, body, origin, published_at, ingested_at
		 FROM postings WHERE ingested_at >= ?
		 ORDER BY ingested_at DESC, id DESC LIMIT ?`), millis(since), limit)
	if err != nil {
		return nil, err
	}
	var out []domain.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		kws, err := s.Keywords(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Keywords = kws
	}
	return out, nil
}

// CountPostings returns the number of stored postings.
func (s *Store) CountPostings(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM postings`).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(r rowScanner) (domain.Posting, error) {
	var (
		p         domain.Posting
		published sql.NullInt64
		ingested  int64
	)
	if err := r.Scan(&p.ID, &p.URL, &p.Title, &p.Body, &p.Origin, &published, &ingested); err != nil {
		return domain.Posting{}, err
	}
	if published.Valid {
		p.PublishedAt = fromMillis(published.Int64)
	}
	p.IngestedAt = fromMillis(ingested)
	return p, nil
}
