// Package persistence defines the project tracker's data store contract and
// the helpers persistence hooks use to join the transaction the portal
// enlisted for them.
package persistence

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"entityportal/pkg/domain"
)

var (
	// ErrNotFound is wrapped by lookups and writes naming a missing record.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is wrapped by inserts of an existing key.
	ErrConflict = errors.New("record already exists")
	// ErrIntegrity is wrapped when a transaction would leave dangling
	// references or duplicate role names.
	ErrIntegrity = errors.New("integrity violation")
)

// RoleRecord is a stored role.
type RoleRecord struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProjectRecord is a stored project. Times are UTC; a zero Ended means open.
type ProjectRecord struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended"`
}

// AssignmentRecord links a resource to a project in a role.
type AssignmentRecord struct {
	ProjectID  uuid.UUID `json:"projectId"`
	ResourceID int       `json:"resourceId"`
	Role       int       `json:"role"`
	Assigned   time.Time `json:"assigned"`
}

// Key identifies the assignment within the store.
func (a AssignmentRecord) Key() string {
	return a.ProjectID.String() + "/" + strconv.Itoa(a.ResourceID)
}

// View is read access to a consistent state.
type View interface {
	ListRoles() []RoleRecord
	FindRole(id int) (RoleRecord, bool)
	ListProjects() []ProjectRecord
	FindProject(id uuid.UUID) (ProjectRecord, bool)
	ListAssignments(project uuid.UUID) []AssignmentRecord
}

// Tx is an open unit of work. Reads see the transaction's own writes.
type Tx interface {
	View
	domain.Tx

	InsertRole(r RoleRecord) error
	UpdateRole(r RoleRecord) error
	DeleteRole(id int) error

	InsertProject(p ProjectRecord) error
	UpdateProject(p ProjectRecord) error
	// DeleteProject removes the project and its assignments.
	DeleteProject(id uuid.UUID) error

	InsertAssignment(a AssignmentRecord) error
	UpdateAssignment(a AssignmentRecord) error
	DeleteAssignment(project uuid.UUID, resource int) error
}

// Store is a transactional resource holding tracker data.
type Store interface {
	domain.TxResource
	View(ctx context.Context, fn func(View) error) error
	Close() error
}

// Write runs fn in the transaction enlisted for s in ctx. Without one, fn
// runs in a transaction of its own that is committed when fn succeeds.
func Write(ctx context.Context, s Store, fn func(Tx) error) (err error) {
	if tx, ok := enlisted(ctx, s); ok {
		return fn(tx)
	}
	dtx, err := s.BeginTx(ctx)
	if err != nil {
		return errors.Wrapf(err, "begin %s", s.Name())
	}
	tx, ok := dtx.(Tx)
	if !ok {
		_ = dtx.Rollback()
		return errors.Errorf("%s: unexpected transaction type %T", s.Name(), dtx)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrapf(tx.Commit(), "commit %s", s.Name())
}

// Read runs fn against the transaction enlisted for s in ctx, or against
// the committed state when there is none.
func Read(ctx context.Context, s Store, fn func(View) error) error {
	if tx, ok := enlisted(ctx, s); ok {
		return fn(tx)
	}
	return s.View(ctx, fn)
}

func enlisted(ctx context.Context, s Store) (Tx, bool) {
	dtx, ok := domain.TxFrom(ctx, s.Name())
	if !ok {
		return nil, false
	}
	tx, ok := dtx.(Tx)
	return tx, ok
}
