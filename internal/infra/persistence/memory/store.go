// Package memory provides an in-memory implementation of the tracker
// persistence store used for tests and ephemeral environments, and as the
// working state behind the SQL-backed stores.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"entityportal/internal/infra/persistence"
	"entityportal/pkg/domain"
)

// Compile-time contract assertions.
var (
	_ persistence.Store = (*Store)(nil)
	_ persistence.Tx    = (*Tx)(nil)
	_ domain.Preparer   = (*Tx)(nil)
)

type (
	// RoleRecord aliases persistence.RoleRecord.
	RoleRecord = persistence.RoleRecord
	// ProjectRecord aliases persistence.ProjectRecord.
	ProjectRecord = persistence.ProjectRecord
	// AssignmentRecord aliases persistence.AssignmentRecord.
	AssignmentRecord = persistence.AssignmentRecord
)

type memoryState struct {
	roles       map[int]RoleRecord
	projects    map[uuid.UUID]ProjectRecord
	assignments map[string]AssignmentRecord
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Roles       []RoleRecord       `json:"roles"`
	Projects    []ProjectRecord    `json:"projects"`
	Assignments []AssignmentRecord `json:"assignments"`
}

func newMemoryState() memoryState {
	return memoryState{
		roles:       make(map[int]RoleRecord),
		projects:    make(map[uuid.UUID]ProjectRecord),
		assignments: make(map[string]AssignmentRecord),
	}
}

func (s memoryState) clone() memoryState {
	return memoryState{
		roles:       maps.Clone(s.roles),
		projects:    maps.Clone(s.projects),
		assignments: maps.Clone(s.assignments),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	snap := Snapshot{
		Roles:       slices.Collect(maps.Values(state.roles)),
		Projects:    slices.Collect(maps.Values(state.projects)),
		Assignments: slices.Collect(maps.Values(state.assignments)),
	}
	slices.SortFunc(snap.Roles, func(a, b RoleRecord) int { return a.ID - b.ID })
	slices.SortFunc(snap.Projects, func(a, b ProjectRecord) int { return compareUUID(a.ID, b.ID) })
	slices.SortFunc(snap.Assignments, func(a, b AssignmentRecord) int {
		if c := compareUUID(a.ProjectID, b.ProjectID); c != 0 {
			return c
		}
		return a.ResourceID - b.ResourceID
	})
	return snap
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for _, r := range s.Roles {
		state.roles[r.ID] = r
	}
	for _, p := range s.Projects {
		state.projects[p.ID] = normalizeProject(p)
	}
	for _, a := range s.Assignments {
		a.Assigned = a.Assigned.UTC()
		state.assignments[a.Key()] = a
	}
	return state
}

func compareUUID(a, b uuid.UUID) int {
	for i := range a {
		if a[i] != b[i] {
			return int(a[i]) - int(b[i])
		}
	}
	return 0
}

func normalizeProject(p ProjectRecord) ProjectRecord {
	p.Started = p.Started.UTC()
	p.Ended = p.Ended.UTC()
	return p
}

// validate reports references to missing records and duplicate role names.
func (s memoryState) validate() error {
	names := make(map[string]int, len(s.roles))
	for _, r := range s.roles {
		if prev, dup := names[r.Name]; dup {
			return errors.Wrapf(persistence.ErrIntegrity, "roles %d and %d share the name %q", prev, r.ID, r.Name)
		}
		names[r.Name] = r.ID
	}
	for _, a := range s.assignments {
		if _, ok := s.projects[a.ProjectID]; !ok {
			return errors.Wrapf(persistence.ErrIntegrity, "assignment %s references missing project", a.Key())
		}
		if _, ok := s.roles[a.Role]; !ok {
			return errors.Wrapf(persistence.ErrIntegrity, "assignment %s references missing role %d", a.Key(), a.Role)
		}
	}
	return nil
}

// Store provides an in-memory transactional store. At most one transaction
// is open at a time; readers see the last committed state.
type Store struct {
	name  string
	nowFn func() time.Time

	txMu  sync.Mutex
	mu    sync.RWMutex
	state memoryState
}

// Option configures a Store.
type Option func(*Store)

// WithName sets the resource name transactions are enlisted under.
func WithName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.name = name
		}
	}
}

// WithClock sets the time source used to stamp new assignments.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		name:  "memory",
		nowFn: func() time.Time { return time.Now().UTC() },
		state: newMemoryState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements domain.TxResource.
func (s *Store) Name() string { return s.name }

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time { return s.nowFn }

// Close implements persistence.Store.
func (s *Store) Close() error { return nil }

// BeginTx opens a transaction over a private copy of the state. It blocks
// while another transaction is open.
func (s *Store) BeginTx(ctx context.Context) (domain.Tx, error) {
	return s.Begin(ctx)
}

// Begin is BeginTx returning the concrete transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.RLock()
	state := s.state.clone()
	s.mu.RUnlock()
	return &Tx{store: s, state: state, now: s.nowFn()}, nil
}

// View executes fn against a read-only snapshot of the committed state.
func (s *Store) View(_ context.Context, fn func(persistence.View) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(stateView{state: &snapshot})
}

type stateView struct {
	state *memoryState
}

func (v stateView) ListRoles() []RoleRecord {
	return snapshotFromMemoryState(memoryState{roles: v.state.roles}).Roles
}

func (v stateView) FindRole(id int) (RoleRecord, bool) {
	r, ok := v.state.roles[id]
	return r, ok
}

func (v stateView) ListProjects() []ProjectRecord {
	return snapshotFromMemoryState(memoryState{projects: v.state.projects}).Projects
}

func (v stateView) FindProject(id uuid.UUID) (ProjectRecord, bool) {
	p, ok := v.state.projects[id]
	return p, ok
}

func (v stateView) ListAssignments(project uuid.UUID) []AssignmentRecord {
	out := make([]AssignmentRecord, 0)
	for _, a := range v.state.assignments {
		if a.ProjectID == project {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b AssignmentRecord) int { return a.ResourceID - b.ResourceID })
	return out
}

// Tx is an open memory transaction. Its writes become visible when it
// commits and are discarded on rollback.
type Tx struct {
	store *Store
	state memoryState
	now   time.Time
	done  bool
}

func (tx *Tx) view() stateView { return stateView{state: &tx.state} }

func (tx *Tx) ListRoles() []RoleRecord            { return tx.view().ListRoles() }
func (tx *Tx) FindRole(id int) (RoleRecord, bool) { return tx.view().FindRole(id) }
func (tx *Tx) ListProjects() []ProjectRecord      { return tx.view().ListProjects() }

func (tx *Tx) FindProject(id uuid.UUID) (ProjectRecord, bool) {
	return tx.view().FindProject(id)
}

func (tx *Tx) ListAssignments(project uuid.UUID) []AssignmentRecord {
	return tx.view().ListAssignments(project)
}

// Pending returns the state the transaction would commit.
func (tx *Tx) Pending() Snapshot { return snapshotFromMemoryState(tx.state) }

// InsertRole stores a new role.
func (tx *Tx) InsertRole(r RoleRecord) error {
	if _, exists := tx.state.roles[r.ID]; exists {
		return errors.Wrapf(persistence.ErrConflict, "role %d", r.ID)
	}
	tx.state.roles[r.ID] = r
	return nil
}

// UpdateRole replaces an existing role.
func (tx *Tx) UpdateRole(r RoleRecord) error {
	if _, ok := tx.state.roles[r.ID]; !ok {
		return errors.Wrapf(persistence.ErrNotFound, "role %d", r.ID)
	}
	tx.state.roles[r.ID] = r
	return nil
}

// DeleteRole removes a role. Assignments still using it fail the commit.
func (tx *Tx) DeleteRole(id int) error {
	if _, ok := tx.state.roles[id]; !ok {
		return errors.Wrapf(persistence.ErrNotFound, "role %d", id)
	}
	delete(tx.state.roles, id)
	return nil
}

// InsertProject stores a new project.
func (tx *Tx) InsertProject(p ProjectRecord) error {
	if p.ID == uuid.Nil {
		return errors.New("project id must be set")
	}
	if _, exists := tx.state.projects[p.ID]; exists {
		return errors.Wrapf(persistence.ErrConflict, "project %s", p.ID)
	}
	tx.state.projects[p.ID] = normalizeProject(p)
	return nil
}

// UpdateProject replaces an existing project.
func (tx *Tx) UpdateProject(p ProjectRecord) error {
	if _, ok := tx.state.projects[p.ID]; !ok {
		return errors.Wrapf(persistence.ErrNotFound, "project %s", p.ID)
	}
	tx.state.projects[p.ID] = normalizeProject(p)
	return nil
}

// DeleteProject removes a project and its assignments.
func (tx *Tx) DeleteProject(id uuid.UUID) error {
	if _, ok := tx.state.projects[id]; !ok {
		return errors.Wrapf(persistence.ErrNotFound, "project %s", id)
	}
	delete(tx.state.projects, id)
	maps.DeleteFunc(tx.state.assignments, func(_ string, a AssignmentRecord) bool {
		return a.ProjectID == id
	})
	return nil
}

// InsertAssignment stores a new assignment. A zero Assigned time is
// stamped with the transaction time.
func (tx *Tx) InsertAssignment(a AssignmentRecord) error {
	if _, exists := tx.state.assignments[a.Key()]; exists {
		return errors.Wrapf(persistence.ErrConflict, "assignment %s", a.Key())
	}
	if a.Assigned.IsZero() {
		a.Assigned = tx.now
	}
	a.Assigned = a.Assigned.UTC()
	tx.state.assignments[a.Key()] = a
	return nil
}

// UpdateAssignment replaces an existing assignment.
func (tx *Tx) UpdateAssignment(a AssignmentRecord) error {
	if _, ok := tx.state.assignments[a.Key()]; !ok {
		return errors.Wrapf(persistence.ErrNotFound, "assignment %s", a.Key())
	}
	a.Assigned = a.Assigned.UTC()
	tx.state.assignments[a.Key()] = a
	return nil
}

// DeleteAssignment removes an assignment.
func (tx *Tx) DeleteAssignment(project uuid.UUID, resource int) error {
	key := AssignmentRecord{ProjectID: project, ResourceID: resource}.Key()
	if _, ok := tx.state.assignments[key]; !ok {
		return errors.Wrapf(persistence.ErrNotFound, "assignment %s", key)
	}
	delete(tx.state.assignments, key)
	return nil
}

var errTxDone = errors.New("transaction already finished")

// Prepare checks that the pending state can be committed.
func (tx *Tx) Prepare(context.Context) error {
	if tx.done {
		return errTxDone
	}
	return tx.state.validate()
}

// Commit publishes the transaction's state and releases the store.
// A state failing validation is rolled back instead.
func (tx *Tx) Commit() error {
	if tx.done {
		return errTxDone
	}
	if err := tx.state.validate(); err != nil {
		tx.release()
		return err
	}
	tx.store.mu.Lock()
	tx.store.state = tx.state
	tx.store.mu.Unlock()
	tx.release()
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction
// is a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.release()
	return nil
}

func (tx *Tx) release() {
	tx.done = true
	tx.store.txMu.Unlock()
}
