// Package portal routes create, fetch, update, delete and execute requests
// to an object's persistence hooks, either in process or through a remote
// host, wrapping each hook in the transactional strategy it asks for.
package portal

import (
	"context"
	"maps"

	"golang.org/x/text/language"

	"entityportal/pkg/domain"
)

// Location tells a hook whether it runs in the caller's process or on a
// remote portal host.
type Location int

const (
	LocationClient Location = iota
	LocationServer
)

func (l Location) String() string {
	if l == LocationServer {
		return "server"
	}
	return "client"
}

// Bag is a key/value context bag carried with a call.
type Bag map[string]any

// Clone returns a shallow copy of b. A nil bag clones to an empty one.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	maps.Copy(out, b)
	return out
}

// DispatchContext is the per-call state sent along with a request.
type DispatchContext struct {
	// Principal is the caller's identity. In host authentication mode it
	// is never sent over the wire; the portal host supplies it instead
	// through WithHostPrincipal.
	Principal domain.Principal

	// Client travels from caller to server only.
	Client Bag

	// Global travels to the server and back. Hooks may modify it.
	Global Bag

	Locale   language.Tag
	UILocale language.Tag

	// Remote is set by the portal host for calls that crossed the wire.
	Remote bool
}

func (dc *DispatchContext) location() Location {
	if dc.Remote {
		return LocationServer
	}
	return LocationClient
}

type dispatchKey struct{}

type hostPrincipalKey struct{}

// WithHostPrincipal attaches the identity the hosting environment
// established for a remote call. Under host authentication the router
// adopts it as the call's principal.
func WithHostPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, hostPrincipalKey{}, p)
}

func hostPrincipalFrom(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(hostPrincipalKey{}).(domain.Principal)
	return p
}

// enter installs dc in ctx for the duration of one call. The returned
// release function must be called when the call ends; it cancels the call
// context so work started by hooks cannot outlive the call.
func enter(ctx context.Context, dc *DispatchContext) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.WithValue(ctx, dispatchKey{}, dc))
	return ctx, cancel
}

// FromContext returns the dispatch context of the call running in ctx.
func FromContext(ctx context.Context) (*DispatchContext, bool) {
	dc, ok := ctx.Value(dispatchKey{}).(*DispatchContext)
	return dc, ok
}

// LocationFrom reports where the current call executes. Outside a portal
// call it reports LocationClient.
func LocationFrom(ctx context.Context) Location {
	if dc, ok := FromContext(ctx); ok {
		return dc.location()
	}
	return LocationClient
}

// PrincipalFrom returns the principal of the current call, or nil.
func PrincipalFrom(ctx context.Context) domain.Principal {
	if dc, ok := FromContext(ctx); ok {
		return dc.Principal
	}
	return nil
}

// GlobalFrom returns the call's round-trip bag. Writes are returned to the
// caller when the call completes.
func GlobalFrom(ctx context.Context) Bag {
	if dc, ok := FromContext(ctx); ok && dc.Global != nil {
		return dc.Global
	}
	return Bag{}
}

// ClientFrom returns the call's client bag.
func ClientFrom(ctx context.Context) Bag {
	if dc, ok := FromContext(ctx); ok && dc.Client != nil {
		return dc.Client
	}
	return Bag{}
}

// ParseLocale parses a BCP 47 tag. The empty string and "und" yield
// language.Und.
func ParseLocale(s string) (language.Tag, error) {
	if s == "" || s == "und" {
		return language.Und, nil
	}
	return language.Parse(s)
}
