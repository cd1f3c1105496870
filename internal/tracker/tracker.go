// Package tracker is a small project tracker built on the entity engine. It
// has an editable root with an owned child list (Project), an editable root
// list (Roles), a read-only list (RoleList) and a command (ProjectExists).
package tracker

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/infra/persistence/memory"
	"entityportal/internal/infra/persistence/postgres"
	"entityportal/internal/infra/persistence/sqlite"
	"entityportal/internal/portal"
	"entityportal/pkg/domain"
	"entityportal/pkg/rules"
)

// Registered type names.
const (
	TypeProject       = "project"
	TypeRoles         = "roles"
	TypeRoleList      = "roleList"
	TypeProjectExists = "projectExists"
)

// Roles recognised by the object authorization rules.
const (
	RoleAdministrator  = "Administrator"
	RoleProjectManager = "ProjectManager"
)

// StorageDriver selects the store OpenStore builds.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// OpenStore builds the store for driver. dsn is the sqlite path or the
// postgres connection string and is ignored by the memory store.
func OpenStore(ctx context.Context, driver StorageDriver, dsn string) (persistence.Store, error) {
	switch driver {
	case StorageMemory, "":
		return memory.NewStore(), nil
	case StorageSQLite:
		return sqlite.NewStore(ctx, dsn)
	case StoragePostgres:
		return postgres.NewStore(ctx, dsn)
	default:
		return nil, errors.Errorf("unknown storage driver %s", driver)
	}
}

// Tracker holds what the business objects need at run time: the store their
// hooks write to and the object authorization rules.
type Tracker struct {
	store  persistence.Store
	rules  *rules.ObjectRules
	now    func() time.Time
	logger *zap.SugaredLogger

	mu        sync.Mutex
	roleCache []RoleInfo
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the time source for new projects.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New returns a tracker over store with the default authorization rules:
// projects are created, edited and deleted by administrators and project
// managers, roles are edited by administrators, and anyone may fetch.
func New(store persistence.Store, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("tracker: nil store")
	}
	or, err := rules.NewObjectRules()
	if err != nil {
		return nil, err
	}
	for _, action := range []rules.Action{rules.ActionCreate, rules.ActionEdit, rules.ActionDelete} {
		or.AllowRoles(TypeProject, action, RoleAdministrator, RoleProjectManager)
		if err := or.AddPolicy(TypeProject, action, `principal.authenticated`); err != nil {
			return nil, err
		}
	}
	if err := or.AddPolicy(TypeRoles, rules.ActionEdit, `"`+RoleAdministrator+`" in principal.roles`); err != nil {
		return nil, err
	}
	t := &Tracker{
		store:  store,
		rules:  or,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Store returns the store the hooks write to.
func (t *Tracker) Store() persistence.Store { return t.store }

// Register adds the tracker's types to reg.
func (t *Tracker) Register(reg *portal.Registry) error {
	return stderrors.Join(
		portal.Register(reg, TypeProject, t.newProject, portal.WithCriteria[uuid.UUID]()),
		portal.Register(reg, TypeRoles, t.NewRoles),
		portal.Register(reg, TypeRoleList, t.newRoleList),
		portal.Register(reg, TypeProjectExists, t.newProjectExists),
	)
}

// Can reports whether p may perform action on the named type. UIs use it to
// enable or hide commands; the hooks enforce the same rules.
func (t *Tracker) Can(p domain.Principal, typeName string, action rules.Action) bool {
	ok, err := t.rules.Can(p, typeName, action)
	if err != nil {
		t.logger.Warnw("authorization policy failed", "type", typeName, "action", action, "error", err)
		return false
	}
	return ok
}

func (t *Tracker) authorize(ctx context.Context, typeName string, action rules.Action) error {
	return t.rules.Check(portal.PrincipalFrom(ctx), typeName, action)
}

// InvalidateRoleCache drops the cached role list so the next RoleList
// fetch reads the store.
func (t *Tracker) InvalidateRoleCache() {
	t.mu.Lock()
	t.roleCache = nil
	t.mu.Unlock()
}

func (t *Tracker) cachedRoles(ctx context.Context) ([]RoleInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.roleCache != nil {
		return t.roleCache, nil
	}
	var out []RoleInfo
	err := t.store.View(ctx, func(v persistence.View) error {
		for _, r := range v.ListRoles() {
			out = append(out, RoleInfo{ID: r.ID, Name: r.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []RoleInfo{}
	}
	t.roleCache = out
	return out, nil
}
