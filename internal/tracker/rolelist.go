package tracker

import (
	"context"

	"entityportal/pkg/entity"
	"entityportal/pkg/rules"
)

// RoleInfo is one name/value pair of a RoleList.
type RoleInfo struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// RoleList is the read-only list of role names used to fill pickers. It
// is served from a cache that saving Roles invalidates.
type RoleList struct {
	entity.ReadOnly
	Items []RoleInfo `json:"items"`

	t *Tracker
}

func (t *Tracker) newRoleList() *RoleList { return &RoleList{t: t} }

// DefaultRole returns the id of the first role, or 0 when there are none.
func (l *RoleList) DefaultRole() int {
	if len(l.Items) == 0 {
		return 0
	}
	return l.Items[0].ID
}

// Name returns the name of role id, or "" when it is unknown.
func (l *RoleList) Name(id int) string {
	for _, it := range l.Items {
		if it.ID == id {
			return it.Name
		}
	}
	return ""
}

// DataFetch loads the role names.
func (l *RoleList) DataFetch(ctx context.Context, _ any) error {
	if err := l.t.authorize(ctx, TypeRoles, rules.ActionFetch); err != nil {
		return err
	}
	items, err := l.t.cachedRoles(ctx)
	if err != nil {
		return err
	}
	l.Items = append([]RoleInfo(nil), items...)
	return nil
}
