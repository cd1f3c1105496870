// Package sqlite provides the SQLite-backed tracker store.
package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver

	"entityportal/internal/infra/persistence/memory"
	"entityportal/internal/infra/persistence/sqlstore"
)

// DefaultPath is used when NewStore receives an empty path.
const DefaultPath = "entityportal.db"

// Store persists the tracker state to a single SQLite table as JSON blobs.
type Store = sqlstore.Store

// NewStore opens (creating if needed) the database at path and hydrates a
// store from it.
func NewStore(ctx context.Context, path string, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, errors.Wrap(err, "create dirs")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// sqlite serializes writers; one connection keeps the snapshot writes ordered.
	db.SetMaxOpenConns(1)
	s, err := sqlstore.New(ctx, db, sqlstore.SQLite, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
