package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Page is a watched board page.
type Page struct {
	PageID    string `json:"page_id"`
	URL       string `json:"url"`
	Strategy  string `json:"strategy"`
	Fallback  bool   `json:"fallback"`
	StartedAt int64  `json:"started_at"`
	LastSeen  int64  `json:"last_seen"`
}

// UpsertPage records a page and the strategy selected for it.
func (s *Store) UpsertPage(ctx context.Context, p *Page) error {
	now := time.Now().UnixMilli()
	if p.StartedAt == 0 {
		p.StartedAt = now
	}
	p.LastSeen = now
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO pages (page_id, url, strategy, fallback, started_at, last_seen)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(page_id) DO UPDATE SET
			url=excluded.url, strategy=excluded.strategy,
			fallback=excluded.fallback, last_seen=excluded.last_seen`,
		p.PageID, p.URL, p.Strategy, p.Fallback, p.StartedAt, p.LastSeen)
	return err
}

// GetPage returns a page by ID, or nil.
func (s *Store) GetPage(ctx context.Context, pageID string) (*Page, error) {
	p := &Page{}
	err := s.DB.QueryRowContext(ctx, `
		SELECT page_id, url, strategy, fallback, started_at, last_seen
		FROM pages WHERE page_id = ?`, pageID).
		Scan(&p.PageID, &p.URL, &p.Strategy, &p.Fallback, &p.StartedAt, &p.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}
