// Package testutil provides a stub database/sql driver for the sql store
// tests. It holds the bucket/payload state table and nothing else.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// StateRow is one row of the state table.
type StateRow struct {
	Bucket  string
	Payload []byte
}

// StubConn is the single connection behind a stub database. Upserts made
// inside a transaction apply immediately; Commits and Rollbacks only count.
type StubConn struct {
	Execs []string
	State []StateRow

	FailExec   bool
	FailPing   bool
	FailBegin  bool
	FailUpsert bool
	FailCommit bool

	Commits   int
	Rollbacks int
}

// Seed appends a row to the state table as if an earlier run wrote it.
func (c *StubConn) Seed(bucket string, payload []byte) {
	c.State = append(c.State, StateRow{Bucket: bucket, Payload: payload})
}

// Payload returns the payload stored for bucket.
func (c *StubConn) Payload(bucket string) ([]byte, bool) {
	for _, row := range c.State {
		if row.Bucket == bucket {
			return row.Payload, true
		}
	}
	return nil, false
}

var driverSeq atomic.Int64

// NewStubDB registers a fresh stub driver and opens a database on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubstate%d", driverSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Every statement goes through the
// context-aware fast paths instead.
func (c *StubConn) Prepare(string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepared statements unsupported")
}

func (c *StubConn) Close() error { return nil }

func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return stubTx{conn: c}, nil
}

// ExecContext records query and applies upserts into the state table. Any
// other statement, such as the table DDL, is accepted as is.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO STATE") {
		return driver.RowsAffected(0), nil
	}
	if c.FailUpsert {
		return nil, fmt.Errorf("upsert fail")
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("stub: upsert wants 2 args, got %d", len(args))
	}
	bucket, _ := args[0].Value.(string)
	payload, _ := args[1].Value.([]byte)
	for i := range c.State {
		if c.State[i].Bucket == bucket {
			c.State[i].Payload = payload
			return driver.RowsAffected(1), nil
		}
	}
	c.Seed(bucket, payload)
	return driver.RowsAffected(1), nil
}

// QueryContext answers the snapshot select with every state row.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(strings.ToLower(query), "from state") {
		return nil, fmt.Errorf("stub: unsupported query %q", query)
	}
	return &stateRows{rows: append([]StateRow(nil), c.State...)}, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	t.conn.Commits++
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.Rollbacks++
	return nil
}

type stateRows struct {
	rows []StateRow
	idx  int
}

func (r *stateRows) Columns() []string { return []string{"bucket", "payload"} }
func (r *stateRows) Close() error      { return nil }

func (r *stateRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	dest[0] = r.rows[r.idx].Bucket
	dest[1] = r.rows[r.idx].Payload
	r.idx++
	return nil
}
