package entity

import (
	"fmt"

	"entityportal/pkg/domain"
	"entityportal/pkg/rules"
)

// ValidationRules exposes the object's rule set for registration.
func (b *Base) ValidationRules() *rules.ValidationRules { return b.validation }

// AuthorizationRules exposes the object's field authorization rules.
func (b *Base) AuthorizationRules() *rules.AuthorizationRules { return b.authz }

// BrokenRules returns the object's currently broken rules.
func (b *Base) BrokenRules() domain.BrokenRules { return b.validation.Broken() }

// CheckRules re-runs the rules of one field without marking the object dirty.
func (b *Base) CheckRules(field string) domain.BrokenRules {
	return b.validation.Check(b.self, field)
}

// CheckAllRules re-runs every registered rule.
func (b *Base) CheckAllRules() domain.BrokenRules {
	return b.validation.CheckAll(b.self)
}

// BindIdentity sets the principal source used for field authorization on b
// and its owned children.
func (b *Base) BindIdentity(src domain.IdentitySource) {
	b.bindIdentity(src)
}

func (b *Base) bindIdentity(src domain.IdentitySource) {
	b.identity = src
	for _, n := range b.nodes {
		n.node.bindIdentity(src)
	}
}

// Principal returns the bound principal, or nil.
func (b *Base) Principal() domain.Principal {
	if b.identity == nil {
		return nil
	}
	return b.identity.Principal()
}

// CanReadProperty reports whether the current principal may read field.
func (b *Base) CanReadProperty(field string) bool {
	return b.authz.CanRead(b.Principal(), field)
}

// CanWriteProperty reports whether the current principal may write field.
func (b *Base) CanWriteProperty(field string) bool {
	return b.authz.CanWrite(b.Principal(), field)
}

// CheckRead returns a SecurityViolation when field may not be read.
func (b *Base) CheckRead(field string) error {
	if !b.CanReadProperty(field) {
		return domain.NewSecurityError("read", fmt.Sprintf("property get not allowed: %s", field))
	}
	return nil
}

// CheckWrite returns a SecurityViolation when field may not be written.
func (b *Base) CheckWrite(field string) error {
	if !b.CanWriteProperty(field) {
		return domain.NewSecurityError("write", fmt.Sprintf("property set not allowed: %s", field))
	}
	return nil
}

type readChecker interface {
	CanReadProperty(field string) bool
}

// ReadField returns v when field may be read, and the zero value otherwise.
func ReadField[T any](obj readChecker, field string, v T) T {
	if !obj.CanReadProperty(field) {
		var zero T
		return zero
	}
	return v
}

// SetField assigns v to *dst after a write check and raises the change when
// the value differs.
func SetField[T comparable](obj Editable, field string, dst *T, v T) error {
	b := obj.entityBase()
	if err := b.CheckWrite(field); err != nil {
		return err
	}
	if *dst == v {
		return nil
	}
	*dst = v
	b.PropertyHasChanged(field)
	return nil
}
