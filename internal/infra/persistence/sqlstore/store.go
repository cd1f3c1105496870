// Package sqlstore snapshots the in-memory tracker state into a single
// database/sql table of JSON buckets. The sqlite and postgres stores are
// thin constructors around it.
package sqlstore

import (
	"context"
	"database/sql"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/infra/persistence/memory"
	"entityportal/pkg/domain"
)

var (
	_ persistence.Store = (*Store)(nil)
	_ persistence.Tx    = (*Tx)(nil)
	_ domain.Preparer   = (*Tx)(nil)
)

// Dialect holds the statements that differ between databases.
type Dialect struct {
	Name        string
	CreateTable string
	Upsert      string
}

// SQLite stores buckets as BLOBs.
var SQLite = Dialect{
	Name: "sqlite",
	CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	Upsert: `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
}

// Postgres stores buckets as JSONB.
var Postgres = Dialect{
	Name: "postgres",
	CreateTable: `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	Upsert: `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
}

var buckets = []string{"roles", "projects", "assignments"}

// Store persists the in-memory state to a database after every commit.
type Store struct {
	*memory.Store
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// New ensures the state table exists in db and hydrates the store from any
// snapshot found there. The memory options default the resource name to
// the dialect name.
func New(ctx context.Context, db *sql.DB, d Dialect, opts ...memory.Option) (*Store, error) {
	if _, err := db.ExecContext(ctx, d.CreateTable); err != nil {
		return nil, errors.Wrap(err, "create state table")
	}
	mem := memory.NewStore(append([]memory.Option{memory.WithName(d.Name)}, opts...)...)
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, dialect: d}, nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return memory.Snapshot{}, errors.Wrap(err, "select state")
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	targets := map[string]any{
		"roles":       &snapshot.Roles,
		"projects":    &snapshot.Projects,
		"assignments": &snapshot.Assignments,
	}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return memory.Snapshot{}, errors.Wrap(err, "scan state")
		}
		if len(payload) == 0 {
			continue
		}
		if target, ok := targets[bucket]; ok {
			if err := json.Unmarshal(payload, target); err != nil {
				return memory.Snapshot{}, errors.Wrapf(err, "decode %s", bucket)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, errors.Wrap(err, "iterate state")
	}
	return snapshot, nil
}

func encodeBucket(snapshot memory.Snapshot, bucket string) ([]byte, error) {
	switch bucket {
	case "roles":
		return json.Marshal(snapshot.Roles)
	case "projects":
		return json.Marshal(snapshot.Projects)
	default:
		return json.Marshal(snapshot.Assignments)
	}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BeginTx opens a memory transaction whose commit is written to the
// database before it becomes visible.
func (s *Store) BeginTx(ctx context.Context) (domain.Tx, error) {
	mtx, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: mtx, store: s, ctx: ctx}, nil
}

// Tx writes the pending snapshot inside a database transaction during
// Prepare and commits both on Commit.
type Tx struct {
	*memory.Tx
	store *Store
	ctx   context.Context
	sqlTx *sql.Tx
}

// Prepare validates the pending state and writes it, uncommitted, to the
// database. The database transaction is bound to the context the Tx was
// begun with, so ctx only bounds the writes themselves.
func (tx *Tx) Prepare(ctx context.Context) (retErr error) {
	if tx.sqlTx != nil {
		return nil
	}
	if err := tx.Tx.Prepare(ctx); err != nil {
		return err
	}
	snapshot := tx.Pending()
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	stx, err := tx.store.db.BeginTx(tx.ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() {
		if retErr != nil {
			_ = stx.Rollback()
		}
	}()
	for _, bucket := range buckets {
		data, err := encodeBucket(snapshot, bucket)
		if err != nil {
			return err
		}
		if _, err := stx.ExecContext(ctx, tx.store.dialect.Upsert, bucket, data); err != nil {
			return errors.Wrapf(err, "upsert %s", bucket)
		}
	}
	tx.sqlTx = stx
	return nil
}

// Commit prepares the transaction if needed, commits the database write
// and then publishes the memory state. A failed database commit rolls the
// memory transaction back.
func (tx *Tx) Commit() error {
	if err := tx.Prepare(tx.ctx); err != nil {
		_ = tx.Tx.Rollback()
		return err
	}
	if err := tx.sqlTx.Commit(); err != nil {
		_ = tx.Tx.Rollback()
		return errors.Wrap(err, "commit")
	}
	return tx.Tx.Commit()
}

// Rollback discards the database write, if any, and the memory state.
func (tx *Tx) Rollback() error {
	if tx.sqlTx != nil {
		_ = tx.sqlTx.Rollback()
		tx.sqlTx = nil
	}
	return tx.Tx.Rollback()
}
