package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/infra/persistence/memory"
	"entityportal/internal/portal"
	"entityportal/pkg/domain"
	"entityportal/pkg/entity"
	"entityportal/pkg/rules"
)

var clock = time.Date(2024, 5, 6, 14, 0, 0, 0, time.UTC)

type env struct {
	tracker *Tracker
	store   *memory.Store
	client  *portal.Client
	ident   *domain.Identity
}

func newEnv(t *testing.T, p domain.Principal) *env {
	t.Helper()
	store := memory.NewStore(memory.WithClock(func() time.Time { return clock }))
	store.ImportState(memory.Snapshot{Roles: []memory.RoleRecord{
		{ID: 1, Name: "Developer"},
		{ID: 2, Name: "Lead"},
	}})
	tr, err := New(store, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	reg := portal.NewRegistry()
	require.NoError(t, tr.Register(reg))
	router := portal.NewRouter(reg, nil, portal.WithResources(portal.NewResources(store)))
	ident := domain.NewIdentity(p)
	client := portal.NewClient(reg, nil, portal.WithLocal(router), portal.WithIdentity(ident))
	return &env{tracker: tr, store: store, client: client, ident: ident}
}

func manager() domain.Principal { return domain.NewBusinessPrincipal("pat", RoleProjectManager) }
func admin() domain.Principal   { return domain.NewBusinessPrincipal("ada", RoleAdministrator) }
func reader() domain.Principal  { return domain.NewBusinessPrincipal("rae", "Reader") }

func newSavedProject(t *testing.T, e *env, name string, assign ...[2]int) *Project {
	t.Helper()
	ctx := context.Background()
	p, err := portal.CreateAs[*Project](ctx, e.client, nil)
	require.NoError(t, err)
	require.NoError(t, p.SetName(name))
	for _, a := range assign {
		_, err := p.Resources().Assign(a[0], a[1])
		require.NoError(t, err)
	}
	saved, err := entity.Save(ctx, e.client, p)
	require.NoError(t, err)
	return saved
}

func TestProject_CreateSaveFetchRoundTrip(t *testing.T) {
	e := newEnv(t, manager())
	ctx := context.Background()

	p, err := portal.CreateAs[*Project](ctx, e.client, nil)
	require.NoError(t, err)
	assert.True(t, p.IsNew())
	assert.NotEqual(t, uuid.Nil, p.ID())
	assert.True(t, p.Started().Equal(clock.Truncate(24*time.Hour)))
	assert.False(t, p.IsValid(), "name is required")

	require.NoError(t, p.SetName("Portal"))
	require.NoError(t, p.SetDescription("remote data portal"))
	_, err = p.Resources().Assign(10, 1)
	require.NoError(t, err)
	require.True(t, p.IsSavable())

	saved, err := entity.Save(ctx, e.client, p)
	require.NoError(t, err)
	assert.NotSame(t, p, saved)
	assert.False(t, saved.IsNew())
	assert.False(t, saved.IsDirty())
	assert.True(t, p.IsNew(), "the caller's copy is left alone")

	got, err := portal.FetchAs[*Project](ctx, e.client, saved.ID())
	require.NoError(t, err)
	assert.Equal(t, "Portal", got.Name())
	assert.Equal(t, "remote data portal", got.Description())
	assert.False(t, got.IsNew())
	assert.False(t, got.IsDirty())
	require.Equal(t, 1, got.Resources().Len())
	res := got.Resources().At(0)
	assert.Equal(t, 10, res.ResourceID())
	assert.Equal(t, 1, res.Role())
	assert.True(t, res.Assigned().Equal(clock))
	assert.True(t, res.IsChild())
}

func TestProject_UpdateWritesResourceChanges(t *testing.T) {
	e := newEnv(t, manager())
	ctx := context.Background()
	p := newSavedProject(t, e, "Portal", [2]int{10, 1}, [2]int{11, 2})

	require.NoError(t, p.SetName("Portal v2"))
	removed, err := p.Resources().Unassign(10)
	require.NoError(t, err)
	require.True(t, removed)
	require.NoError(t, p.Resources().At(0).SetRole(1))
	_, err = p.Resources().Assign(12, 2)
	require.NoError(t, err)

	saved, err := entity.Save(ctx, e.client, p)
	require.NoError(t, err)
	assert.Empty(t, saved.Resources().Deleted())

	var assignments []persistence.AssignmentRecord
	var name string
	require.NoError(t, e.store.View(ctx, func(v persistence.View) error {
		assignments = v.ListAssignments(p.ID())
		rec, _ := v.FindProject(p.ID())
		name = rec.Name
		return nil
	}))
	assert.Equal(t, "Portal v2", name)
	require.Len(t, assignments, 2)
	assert.Equal(t, 11, assignments[0].ResourceID)
	assert.Equal(t, 1, assignments[0].Role)
	assert.Equal(t, 12, assignments[1].ResourceID)
}

func TestProject_DeleteSelfAndDeleteByID(t *testing.T) {
	e := newEnv(t, manager())
	ctx := context.Background()
	first := newSavedProject(t, e, "First", [2]int{1, 1})
	second := newSavedProject(t, e, "Second")

	require.NoError(t, first.Delete())
	out, err := entity.Save(ctx, e.client, first)
	require.NoError(t, err)
	assert.True(t, out.IsNew(), "a deleted object comes back new")
	assert.False(t, out.IsDeleted())

	require.NoError(t, portal.DeleteAs[*Project](ctx, e.client, second.ID()))

	assert.Empty(t, e.store.ExportState().Projects)
	assert.Empty(t, e.store.ExportState().Assignments)
}

func TestProject_FetchMissingIsServerFault(t *testing.T) {
	e := newEnv(t, reader())
	_, err := portal.FetchAs[*Project](context.Background(), e.client, uuid.New())
	sf, ok := domain.AsServerFault(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, domain.HookFetch, sf.Hook)
	assert.True(t, errors.Is(err, persistence.ErrNotFound))
}

func TestProject_HostAuthenticationInProcess(t *testing.T) {
	store := memory.NewStore(memory.WithClock(func() time.Time { return clock }))
	tr, err := New(store, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	reg := portal.NewRegistry()
	require.NoError(t, tr.Register(reg))
	cfg := portal.StaticConfig{Auth: portal.AuthHost}
	router := portal.NewRouter(reg, cfg, portal.WithResources(portal.NewResources(store)))
	ident := domain.NewIdentity(domain.HostPrincipal{Username: "hal", Groups: []string{RoleProjectManager}})
	client := portal.NewClient(reg, cfg, portal.WithLocal(router), portal.WithIdentity(ident))
	e := &env{tracker: tr, store: store, client: client, ident: ident}

	p := newSavedProject(t, e, "Hosted")
	got, err := portal.FetchAs[*Project](context.Background(), client, p.ID())
	require.NoError(t, err)
	assert.Equal(t, "Hosted", got.Name())

	ident.Set(domain.HostPrincipal{Username: "rae", Groups: []string{"Reader"}})
	_, err = portal.CreateAs[*Project](context.Background(), client, nil)
	assert.True(t, domain.IsSecurityViolation(err), "host groups drive authorization: %v", err)
}

func TestProject_AuthorizationRules(t *testing.T) {
	e := newEnv(t, reader())
	_, err := portal.CreateAs[*Project](context.Background(), e.client, nil)
	assert.True(t, domain.IsSecurityViolation(err), "got %v", err)

	assert.False(t, e.tracker.Can(reader(), TypeProject, rules.ActionEdit))
	assert.True(t, e.tracker.Can(reader(), TypeProject, rules.ActionFetch))
	assert.True(t, e.tracker.Can(manager(), TypeProject, rules.ActionDelete))
	assert.False(t, e.tracker.Can(domain.NewBusinessPrincipal("", RoleAdministrator), TypeProject, rules.ActionCreate),
		"an anonymous principal fails the authenticated policy")

	m := newEnv(t, manager())
	p := newSavedProject(t, m, "Guarded")
	m.ident.Set(reader())
	require.NoError(t, p.SetName("Changed"))
	_, err = entity.Save(context.Background(), m.client, p)
	assert.True(t, domain.IsSecurityViolation(err), "got %v", err)
}

func TestProject_DateRule(t *testing.T) {
	e := newEnv(t, manager())
	p, err := portal.CreateAs[*Project](context.Background(), e.client, nil)
	require.NoError(t, err)
	require.NoError(t, p.SetName("Dates"))

	require.NoError(t, p.SetEnded(p.Started().Add(-48*time.Hour)))
	assert.False(t, p.IsValid())
	broken, ok := p.BrokenRules().FirstFor("Ended")
	require.True(t, ok)
	assert.Equal(t, "Start date can't be after end date", broken.Description)

	require.NoError(t, p.SetStarted(p.Ended().Add(-24*time.Hour)))
	assert.True(t, p.IsValid(), "fixing the start date clears the end date rule: %v", p.BrokenRules())

	require.NoError(t, p.SetEnded(time.Time{}))
	assert.True(t, p.IsValid())
}

func TestProject_CancelEditRestoresResources(t *testing.T) {
	e := newEnv(t, manager())
	p := newSavedProject(t, e, "Checkpoint", [2]int{10, 1})

	require.NoError(t, p.BeginEdit())
	require.NoError(t, p.SetName("Scratch"))
	_, err := p.Resources().Assign(11, 2)
	require.NoError(t, err)
	_, err = p.Resources().Unassign(10)
	require.NoError(t, err)
	require.True(t, p.IsDirty())

	require.NoError(t, p.CancelEdit())
	assert.Equal(t, "Checkpoint", p.Name())
	require.Equal(t, 1, p.Resources().Len())
	assert.Equal(t, 10, p.Resources().At(0).ResourceID())
	assert.Empty(t, p.Resources().Deleted())
	assert.False(t, p.IsDirty())
}

func TestProjectResources_AssignRules(t *testing.T) {
	e := newEnv(t, manager())
	p, err := portal.CreateAs[*Project](context.Background(), e.client, nil)
	require.NoError(t, err)

	_, err = p.Resources().Assign(5, 0)
	require.NoError(t, err)
	assert.False(t, p.Resources().IsValid(), "role must be assigned")

	_, err = p.Resources().Assign(5, 1)
	assert.True(t, domain.IsValidationFailed(err))
	assert.True(t, p.Resources().IsAssigned(5))

	_, err = entity.Save(context.Background(), e.client, p.Resources().At(0))
	assert.True(t, domain.IsUnsupported(err), "children are saved through their owner")
}

func TestRoles_FetchEditSave(t *testing.T) {
	e := newEnv(t, admin())
	ctx := context.Background()

	roles, err := portal.FetchAs[*Roles](ctx, e.client, nil)
	require.NoError(t, err)
	require.Equal(t, 2, roles.Len())
	assert.False(t, roles.IsDirty())

	list, err := portal.FetchAs[*RoleList](ctx, e.client, nil)
	require.NoError(t, err)
	assert.Equal(t, "Lead", list.Name(2))
	assert.Equal(t, 1, list.DefaultRole())

	tester, err := roles.AddNew("Tester")
	require.NoError(t, err)
	assert.Equal(t, 3, tester.ID())
	lead, ok := roles.Find(2)
	require.True(t, ok)
	require.NoError(t, lead.SetName("Team lead"))
	dev, _ := roles.Find(1)
	_, err = roles.Remove(dev)
	require.NoError(t, err)

	saved, err := entity.Save(ctx, e.client, roles)
	require.NoError(t, err)
	assert.False(t, saved.IsDirty())
	assert.Empty(t, saved.Deleted())

	stored := e.store.ExportState().Roles
	require.Len(t, stored, 2)
	assert.Equal(t, memory.RoleRecord{ID: 2, Name: "Team lead"}, stored[0])
	assert.Equal(t, memory.RoleRecord{ID: 3, Name: "Tester"}, stored[1])

	list, err = portal.FetchAs[*RoleList](ctx, e.client, nil)
	require.NoError(t, err)
	assert.Equal(t, "Team lead", list.Name(2), "saving roles invalidates the cached list")
	assert.Equal(t, "", list.Name(1))
}

func TestRoles_SaveOverSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "roles.db")
	store, err := OpenStore(ctx, StorageSQLite, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	tr, err := New(store)
	require.NoError(t, err)
	reg := portal.NewRegistry()
	require.NoError(t, tr.Register(reg))
	router := portal.NewRouter(reg, nil, portal.WithResources(portal.NewResources(store)))
	client := portal.NewClient(reg, nil, portal.WithLocal(router), portal.WithIdentity(domain.NewIdentity(admin())))

	roles, err := portal.FetchAs[*Roles](ctx, client, nil)
	require.NoError(t, err)
	_, err = roles.AddNew("Tester")
	require.NoError(t, err)
	_, err = entity.Save(ctx, client, roles)
	require.NoError(t, err, "distributed save over sql")
	require.NoError(t, store.Close())

	reopened, err := OpenStore(ctx, StorageSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	err = persistence.Read(ctx, reopened, func(v persistence.View) error {
		got := v.ListRoles()
		require.Len(t, got, 1)
		assert.Equal(t, "Tester", got[0].Name)
		return nil
	})
	require.NoError(t, err)
}

func TestRoles_RulesAndPermissions(t *testing.T) {
	e := newEnv(t, manager())
	ctx := context.Background()
	roles, err := portal.FetchAs[*Roles](ctx, e.client, nil)
	require.NoError(t, err)

	r, err := roles.AddNew("")
	require.NoError(t, err)
	assert.False(t, roles.IsValid())
	require.NoError(t, r.SetName("Ops"))
	require.NoError(t, r.SetID(1))
	broken, ok := r.BrokenRules().FirstFor("ID")
	require.True(t, ok)
	assert.Equal(t, "Role id must be unique", broken.Description)
	require.NoError(t, r.SetID(9))
	require.True(t, roles.IsValid())

	_, err = entity.Save(ctx, e.client, roles)
	assert.True(t, domain.IsSecurityViolation(err), "only administrators edit roles: %v", err)
	assert.Len(t, e.store.ExportState().Roles, 2)
}

func TestRoles_DeletingRoleInUseFailsCommit(t *testing.T) {
	e := newEnv(t, admin())
	ctx := context.Background()
	newSavedProject(t, e, "Uses developer", [2]int{10, 1})

	roles, err := portal.FetchAs[*Roles](ctx, e.client, nil)
	require.NoError(t, err)
	dev, _ := roles.Find(1)
	_, err = roles.Remove(dev)
	require.NoError(t, err)

	_, err = entity.Save(ctx, e.client, roles)
	require.Error(t, err)
	_, fault := domain.AsServerFault(err)
	assert.True(t, fault)
	assert.True(t, errors.Is(err, persistence.ErrIntegrity))
	assert.Len(t, e.store.ExportState().Roles, 2, "the distributed transaction rolled back")
	assert.True(t, roles.ContainsDeleted(dev), "the caller's list is unchanged")
}

func TestProjectExists(t *testing.T) {
	e := newEnv(t, manager())
	ctx := context.Background()
	p := newSavedProject(t, e, "Exists")

	ok, err := ProjectExistsIn(ctx, e.client, p.ID())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ProjectExistsIn(ctx, e.client, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenStore(t *testing.T) {
	s, err := OpenStore(context.Background(), StorageMemory, "")
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	_, err = OpenStore(context.Background(), "etcd", "")
	assert.ErrorContains(t, err, "unknown storage driver")

	_, err = New(nil)
	assert.Error(t, err)
}

func TestIdentityHelpers(t *testing.T) {
	e := newEnv(t, manager())
	a := newSavedProject(t, e, "A")
	b, err := portal.FetchAs[*Project](context.Background(), e.client, a.ID())
	require.NoError(t, err)
	assert.True(t, entity.Equal(a, b))
	assert.Equal(t, entity.Hash(a), entity.Hash(b))
	assert.Equal(t, a.ID().String(), entity.String(b))
}
