package rules

import "entityportal/pkg/domain"

// AuthorizationRules holds per-field read and write role lists.
type AuthorizationRules struct {
	readAllowed  map[string][]string
	readDenied   map[string][]string
	writeAllowed map[string][]string
	writeDenied  map[string][]string
}

// NewAuthorizationRules constructs an empty, permit-all rule set.
func NewAuthorizationRules() *AuthorizationRules {
	return &AuthorizationRules{
		readAllowed:  make(map[string][]string),
		readDenied:   make(map[string][]string),
		writeAllowed: make(map[string][]string),
		writeDenied:  make(map[string][]string),
	}
}

// AllowRead restricts reads of field to roles.
func (a *AuthorizationRules) AllowRead(field string, roles ...string) {
	a.readAllowed[field] = append(a.readAllowed[field], roles...)
}

// DenyRead blocks reads of field for roles.
func (a *AuthorizationRules) DenyRead(field string, roles ...string) {
	a.readDenied[field] = append(a.readDenied[field], roles...)
}

// AllowWrite restricts writes of field to roles.
func (a *AuthorizationRules) AllowWrite(field string, roles ...string) {
	a.writeAllowed[field] = append(a.writeAllowed[field], roles...)
}

// DenyWrite blocks writes of field for roles.
func (a *AuthorizationRules) DenyWrite(field string, roles ...string) {
	a.writeDenied[field] = append(a.writeDenied[field], roles...)
}

// CanRead reports whether p may read field.
func (a *AuthorizationRules) CanRead(p domain.Principal, field string) bool {
	return permitted(p, a.readAllowed[field], a.readDenied[field])
}

// CanWrite reports whether p may write field.
func (a *AuthorizationRules) CanWrite(p domain.Principal, field string) bool {
	return permitted(p, a.writeAllowed[field], a.writeDenied[field])
}

// An allow list, when present, decides on its own. A deny list is only
// consulted without one.
func permitted(p domain.Principal, allowed, denied []string) bool {
	if len(allowed) > 0 {
		return domain.InRole(p, allowed...)
	}
	if len(denied) > 0 {
		return !domain.InRole(p, denied...)
	}
	return true
}
