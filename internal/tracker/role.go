package tracker

import (
	"context"

	"entityportal/internal/infra/persistence"
	"entityportal/internal/portal"
	"entityportal/pkg/domain"
	"entityportal/pkg/entity"
	"entityportal/pkg/rules"
)

type roleData struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Role is a role a resource can hold on a project. Roles are edited only
// as items of a Roles list.
type Role struct {
	entity.Base
	data entity.Fields[roleData]
}

func newRole() *Role {
	r := &Role{}
	r.Init(r, &r.data)
	r.MarkAsChild()
	r.ValidationRules().Add("Name", rules.StringRequired())
	r.ValidationRules().Add("Name", rules.StringMaxLength(50))
	r.ValidationRules().AddHandler("ID", "uniqueID", uniqueRoleID,
		rules.WithDescription("Role id must be unique"))
	return r
}

func uniqueRoleID(target any, _ *rules.Args) bool {
	r := target.(*Role)
	list, ok := r.Parent().(*entity.List[*Role])
	if !ok {
		return true
	}
	for _, other := range list.Items() {
		if other != r && other.data.V.ID == r.data.V.ID {
			return false
		}
	}
	return true
}

func (r *Role) IDValue() any { return r.data.V.ID }

func (r *Role) RuleEnv() map[string]any {
	return map[string]any{"ID": r.data.V.ID, "Name": r.data.V.Name}
}

func (r *Role) ID() int { return entity.ReadField(r, "ID", r.data.V.ID) }

func (r *Role) SetID(v int) error { return entity.SetField(r, "ID", &r.data.V.ID, v) }

func (r *Role) Name() string { return entity.ReadField(r, "Name", r.data.V.Name) }

func (r *Role) SetName(v string) error { return entity.SetField(r, "Name", &r.data.V.Name, v) }

func (r *Role) record() persistence.RoleRecord {
	return persistence.RoleRecord{ID: r.data.V.ID, Name: r.data.V.Name}
}

// Roles is the editable list of all roles. Saving it writes deletions
// first, then inserts and updates, in one distributed transaction.
type Roles struct {
	*entity.List[*Role]
	t *Tracker
}

// NewRoles returns an empty role list.
func (t *Tracker) NewRoles() *Roles {
	return &Roles{List: entity.NewList(newRole), t: t}
}

// AddNew appends a new role with the next free id.
func (l *Roles) AddNew(name string) (*Role, error) {
	next := 1
	for _, r := range l.Items() {
		if r.data.V.ID >= next {
			next = r.data.V.ID + 1
		}
	}
	for _, r := range l.Deleted() {
		if r.data.V.ID >= next {
			next = r.data.V.ID + 1
		}
	}
	r := newRole()
	r.data.V = roleData{ID: next, Name: name}
	if err := l.Add(r); err != nil {
		return nil, err
	}
	r.CheckAllRules()
	return r, nil
}

// Find returns the active role with id.
func (l *Roles) Find(id int) (*Role, bool) {
	for _, r := range l.Items() {
		if r.data.V.ID == id {
			return r, true
		}
	}
	return nil, false
}

// TransactionMode implements domain.TransactionAnnotated.
func (l *Roles) TransactionMode(h domain.Hook) domain.TransactionalType {
	if h == domain.HookUpdate {
		return domain.TxDistributed
	}
	return domain.TxNone
}

// DataFetch loads every role.
func (l *Roles) DataFetch(ctx context.Context, _ any) error {
	if err := l.t.authorize(ctx, TypeRoles, rules.ActionFetch); err != nil {
		return err
	}
	return persistence.Read(ctx, l.t.store, func(v persistence.View) error {
		for _, rec := range v.ListRoles() {
			r := newRole()
			r.data.V = roleData{ID: rec.ID, Name: rec.Name}
			if err := l.Add(r); err != nil {
				return err
			}
			r.CheckAllRules()
			r.MarkOld()
		}
		return nil
	})
}

// DataUpdate persists the list's changes.
func (l *Roles) DataUpdate(ctx context.Context) error {
	if err := l.t.authorize(ctx, TypeRoles, rules.ActionEdit); err != nil {
		return err
	}
	err := persistence.Write(ctx, l.t.store, func(tx persistence.Tx) error {
		for _, r := range l.Deleted() {
			if r.IsNew() {
				continue
			}
			if err := tx.DeleteRole(r.data.V.ID); err != nil {
				return err
			}
		}
		for _, r := range l.Items() {
			switch {
			case r.IsNew():
				if err := tx.InsertRole(r.record()); err != nil {
					return err
				}
			case r.IsDirty():
				if err := tx.UpdateRole(r.record()); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	l.ClearDeleted()
	for _, r := range l.Items() {
		r.MarkOld()
	}
	l.t.InvalidateRoleCache()
	l.t.logger.Debugw("roles saved", "count", l.Len(), "location", portal.LocationFrom(ctx).String())
	return nil
}
