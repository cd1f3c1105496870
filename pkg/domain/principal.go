package domain

import (
	"slices"
	"sync"
)

// AuthTypeCustom identifies principals issued by the application itself.
const AuthTypeCustom = "custom"

// AuthTypeHost identifies principals supplied by the hosting environment.
const AuthTypeHost = "host"

// Principal is the identity consumed by authorization checks.
type Principal interface {
	Name() string
	IsAuthenticated() bool
	AuthenticationType() string
	IsInRole(role string) bool
}

// BusinessPrincipal is the application-issued principal. It is the only
// principal type accepted on remote calls in custom authentication mode.
type BusinessPrincipal struct {
	Username string   `json:"name"`
	Roles    []string `json:"roles,omitempty"`
}

// NewBusinessPrincipal constructs an authenticated principal with roles.
func NewBusinessPrincipal(name string, roles ...string) *BusinessPrincipal {
	return &BusinessPrincipal{Username: name, Roles: append([]string(nil), roles...)}
}

func (p *BusinessPrincipal) Name() string { return p.Username }

// IsAuthenticated reports whether the principal carries a user name.
func (p *BusinessPrincipal) IsAuthenticated() bool { return p.Username != "" }

func (p *BusinessPrincipal) AuthenticationType() string { return AuthTypeCustom }

func (p *BusinessPrincipal) IsInRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p *BusinessPrincipal) RoleNames() []string { return append([]string(nil), p.Roles...) }

// HostPrincipal represents an identity established by the host process.
type HostPrincipal struct {
	Username string
	Groups   []string
}

func (p HostPrincipal) Name() string               { return p.Username }
func (p HostPrincipal) IsAuthenticated() bool      { return p.Username != "" }
func (p HostPrincipal) AuthenticationType() string { return AuthTypeHost }
func (p HostPrincipal) IsInRole(role string) bool  { return slices.Contains(p.Groups, role) }
func (p HostPrincipal) RoleNames() []string        { return append([]string(nil), p.Groups...) }

// RoleLister is implemented by principals that can enumerate their roles.
type RoleLister interface {
	RoleNames() []string
}

// InRole reports whether p is non-nil and in any of roles.
func InRole(p Principal, roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.IsInRole(r) {
			return true
		}
	}
	return false
}

// IdentitySource supplies the current principal.
type IdentitySource interface {
	Principal() Principal
}

// Identity is a swappable holder for the current principal.
type Identity struct {
	mu        sync.RWMutex
	principal Principal
}

// NewIdentity constructs a holder seeded with p.
func NewIdentity(p Principal) *Identity {
	return &Identity{principal: p}
}

// Principal returns the current principal, which may be nil.
func (i *Identity) Principal() Principal {
	if i == nil {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.principal
}

// Set replaces the current principal.
func (i *Identity) Set(p Principal) {
	i.mu.Lock()
	i.principal = p
	i.mu.Unlock()
}
