package sqlstore

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/infra/persistence/memory"
	"entityportal/internal/infra/persistence/postgres/testutil"
)

func newStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	s, err := New(context.Background(), db, Postgres)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, conn
}

func insertRole(t *testing.T, s *Store, id int, name string) error {
	t.Helper()
	return persistence.Write(context.Background(), s, func(tx persistence.Tx) error {
		return tx.InsertRole(memory.RoleRecord{ID: id, Name: name})
	})
}

func TestCommitWritesEveryBucket(t *testing.T) {
	s, conn := newStub(t)
	if s.Name() != "postgres" {
		t.Fatalf("expected dialect name as resource name, got %q", s.Name())
	}
	if err := insertRole(t, s, 1, "Developer"); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, bucket := range buckets {
		if _, ok := conn.Payload(bucket); !ok {
			t.Fatalf("bucket %s not written", bucket)
		}
	}
	payload, _ := conn.Payload("roles")
	var roles []memory.RoleRecord
	if err := json.Unmarshal(payload, &roles); err != nil {
		t.Fatalf("decode roles: %v", err)
	}
	if len(roles) != 1 || roles[0].Name != "Developer" {
		t.Fatalf("unexpected roles payload: %s", payload)
	}
	if conn.Commits != 1 {
		t.Fatalf("expected one sql commit, got %d", conn.Commits)
	}
}

func TestNewHydratesFromExistingSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Seed("roles", []byte(`[{"id":4,"name":"Lead"}]`))
	conn.Seed("projects", []byte(``))
	conn.Seed("unknown", []byte(`{}`))
	s, err := New(context.Background(), db, SQLite)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	roles := s.ExportState().Roles
	if len(roles) != 1 || roles[0].ID != 4 {
		t.Fatalf("unexpected hydrated roles: %+v", roles)
	}
}

func TestNewReportsCorruptSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.Seed("roles", []byte(`{`))
	if _, err := New(context.Background(), db, Postgres); err == nil {
		t.Fatalf("expected decode failure")
	}
}

func TestNewReportsTableFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	if _, err := New(context.Background(), db, Postgres); err == nil {
		t.Fatalf("expected create table failure")
	}
}

func TestSQLCommitFailureRollsBackMemory(t *testing.T) {
	s, conn := newStub(t)
	conn.FailCommit = true
	if err := insertRole(t, s, 1, "Developer"); err == nil {
		t.Fatalf("expected commit failure")
	}
	if len(s.ExportState().Roles) != 0 {
		t.Fatalf("memory state published despite sql failure")
	}
	conn.FailCommit = false
	if err := insertRole(t, s, 2, "Lead"); err != nil {
		t.Fatalf("store should be usable after a failed commit: %v", err)
	}
}

func TestPrepareFailuresLeaveNoWrite(t *testing.T) {
	s, conn := newStub(t)

	conn.FailBegin = true
	tx, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := tx.(*Tx).Prepare(context.Background()); err == nil {
		t.Fatalf("expected begin failure")
	}
	_ = tx.Rollback()
	conn.FailBegin = false

	conn.FailUpsert = true
	if err := insertRole(t, s, 1, "Developer"); err == nil {
		t.Fatalf("expected upsert failure")
	}
	if conn.Rollbacks == 0 {
		t.Fatalf("expected the sql transaction to roll back")
	}
	conn.FailUpsert = false

	tx, _ = s.BeginTx(context.Background())
	ptx := tx.(*Tx)
	_ = ptx.InsertAssignment(memory.AssignmentRecord{ResourceID: 1, Role: 1})
	if err := ptx.Prepare(context.Background()); !errors.Is(err, persistence.ErrIntegrity) {
		t.Fatalf("expected integrity error before any sql, got %v", err)
	}
	_ = ptx.Rollback()
}

func TestPreparedTxRollsBackBoth(t *testing.T) {
	s, conn := newStub(t)
	tx, _ := s.BeginTx(context.Background())
	ptx := tx.(*Tx)
	_ = ptx.InsertRole(memory.RoleRecord{ID: 1, Name: "Developer"})
	if err := ptx.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if err := ptx.Prepare(context.Background()); err != nil {
		t.Fatalf("second Prepare should be a no-op: %v", err)
	}
	before := conn.Rollbacks
	if err := ptx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if conn.Rollbacks != before+1 {
		t.Fatalf("expected sql rollback")
	}
	if len(s.ExportState().Roles) != 0 {
		t.Fatalf("rolled back role visible")
	}
}

func TestPreparedTxOutlivesPrepareContext(t *testing.T) {
	s, conn := newStub(t)
	tx, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	ptx := tx.(*Tx)
	_ = ptx.InsertRole(memory.RoleRecord{ID: 1, Name: "Developer"})

	prepareCtx, cancel := context.WithCancel(context.Background())
	if err := ptx.Prepare(prepareCtx); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	cancel()

	if err := ptx.Commit(); err != nil {
		t.Fatalf("commit after the prepare context ended: %v", err)
	}
	if conn.Commits != 1 {
		t.Fatalf("expected one sql commit, got %d", conn.Commits)
	}
	if got := s.ExportState().Roles; len(got) != 1 {
		t.Fatalf("expected committed role, got %+v", got)
	}
}
