package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/infra/persistence/memory"
	"entityportal/internal/infra/persistence/postgres/testutil"
)

func TestNewStoreEnsuresTableAndPersists(t *testing.T) {
	db, conn := testutil.NewStubDB()
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driver, dsn
		return db, nil
	})
	defer restore()

	ctx := context.Background()
	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if gotDriver != "pgx" || gotDSN != defaultDSN {
		t.Fatalf("unexpected open(%q, %q)", gotDriver, gotDSN)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "JSONB") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got execs: %v", conn.Execs)
	}
	if err := persistence.Write(ctx, store, func(tx persistence.Tx) error {
		return tx.InsertRole(memory.RoleRecord{ID: 1, Name: "Developer"})
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if payload, ok := conn.Payload("roles"); !ok || !strings.Contains(string(payload), "Developer") {
		t.Fatalf("expected roles persisted, got %s", payload)
	}
}

func TestNewStoreReportsOpenAndPingFailures(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no driver") })
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "open postgres") {
		t.Fatalf("expected open failure, got %v", err)
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "ping postgres") {
		t.Fatalf("expected ping failure, got %v", err)
	}
}
