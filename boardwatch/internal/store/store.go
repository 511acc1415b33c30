// Package store persists emission history and watched pages in SQLite.
package store

import (
	"database/sql"

	"github.com/hazyhaar/boardwatch/connectivity"
	"github.com/hazyhaar/boardwatch/dbopen"
)

// Store is the boardwatch database handle. The same database carries the
// connectivity routes table.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	all := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
		dbopen.WithSchema(connectivity.Schema),
	}, opts...)
	db, err := dbopen.Open(path, all...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
