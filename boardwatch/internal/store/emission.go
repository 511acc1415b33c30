package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hazyhaar/boardwatch/dbopen"
	"github.com/hazyhaar/boardwatch/position"
)

// InsertEmission records one emission.
func (s *Store) InsertEmission(ctx context.Context, e position.Emission) error {
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	p := e.Position
	_, err := dbopen.Exec(ctx, s.DB, `
		INSERT INTO emissions (id, page_id, seq, raw, placement, active, castling,
		                       en_passant, halfmove, fullmove, source, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.PageID, e.Seq, e.Raw, p.Placement, p.Active, p.Castling,
		p.EnPassant, p.Halfmove, p.Fullmove, string(e.Source), e.Timestamp,
	)
	return err
}

const emissionCols = `id, page_id, seq, raw, placement, active, castling,
	en_passant, halfmove, fullmove, source, created_at`

func scanEmission(sc interface{ Scan(...any) error }) (position.Emission, error) {
	var e position.Emission
	var src string
	p := &e.Position
	err := sc.Scan(&e.ID, &e.PageID, &e.Seq, &e.Raw, &p.Placement, &p.Active, &p.Castling,
		&p.EnPassant, &p.Halfmove, &p.Fullmove, &src, &e.Timestamp)
	e.Source = position.Source(src)
	p.Raw = e.Raw
	return e, err
}

// RecentEmissions returns the latest emissions, newest first. An empty
// pageID matches every page.
func (s *Store) RecentEmissions(ctx context.Context, pageID string, limit int) ([]position.Emission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT `+emissionCols+` FROM emissions
		WHERE ? = '' OR page_id = ?
		ORDER BY created_at DESC, seq DESC LIMIT ?`, pageID, pageID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []position.Emission
	for rows.Next() {
		e, err := scanEmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastEmission returns the newest emission for pageID, or nil.
func (s *Store) LastEmission(ctx context.Context, pageID string) (*position.Emission, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT `+emissionCols+` FROM emissions
		WHERE page_id = ? ORDER BY created_at DESC, seq DESC LIMIT 1`, pageID)
	e, err := scanEmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CountEmissions returns the number of stored emissions for pageID, or for
// every page when pageID is empty.
func (s *Store) CountEmissions(ctx context.Context, pageID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emissions WHERE ? = '' OR page_id = ?`, pageID, pageID).Scan(&n)
	return n, err
}

// PruneEmissions keeps the newest keep emissions per page and deletes the
// rest. It returns the number of rows removed.
func (s *Store) PruneEmissions(ctx context.Context, keep int) (int64, error) {
	res, err := dbopen.Exec(ctx, s.DB, `
		DELETE FROM emissions WHERE id IN (
			SELECT id FROM (
				SELECT id, ROW_NUMBER() OVER (PARTITION BY page_id ORDER BY created_at DESC, seq DESC) AS rn
				FROM emissions
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
