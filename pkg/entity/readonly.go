package entity

import (
	"fmt"

	"entityportal/pkg/domain"
	"entityportal/pkg/rules"
)

// ReadOnly is embedded by objects that are fetched and displayed but never
// edited or saved. Only read authorization applies.
type ReadOnly struct {
	authz    *rules.AuthorizationRules
	identity domain.IdentitySource
}

// AuthorizationRules exposes the object's field authorization rules.
func (r *ReadOnly) AuthorizationRules() *rules.AuthorizationRules {
	if r.authz == nil {
		r.authz = rules.NewAuthorizationRules()
	}
	return r.authz
}

// BindIdentity sets the principal source used for field authorization.
func (r *ReadOnly) BindIdentity(src domain.IdentitySource) { r.identity = src }

// Principal returns the bound principal, or nil.
func (r *ReadOnly) Principal() domain.Principal {
	if r.identity == nil {
		return nil
	}
	return r.identity.Principal()
}

// CanReadProperty reports whether the current principal may read field.
func (r *ReadOnly) CanReadProperty(field string) bool {
	return r.AuthorizationRules().CanRead(r.Principal(), field)
}

// CheckRead returns a SecurityViolation when field may not be read.
func (r *ReadOnly) CheckRead(field string) error {
	if !r.CanReadProperty(field) {
		return domain.NewSecurityError("read", fmt.Sprintf("property get not allowed: %s", field))
	}
	return nil
}

// CommandBase is embedded by command objects. The portal routes an update of
// a command to its execute hook.
type CommandBase struct{}

// IsCommand marks the embedding type as a command.
func (CommandBase) IsCommand() {}
