package portal

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/language"

	"entityportal/pkg/domain"
)

// Client is the caller-side portal. It builds the dispatch context for each
// call and hands the request to the local router or the remote proxy,
// whichever the configuration names at the time of the call.
type Client struct {
	registry *Registry
	config   Config
	local    Proxy
	remote   Proxy
	identity *domain.Identity
	logger   *zap.SugaredLogger

	autoClone bool
	locale    language.Tag
	uiLocale  language.Tag

	mu     sync.Mutex
	global Bag
	client Bag
}

var _ domain.Dispatcher = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLocal sets the in-process proxy, normally a *Router.
func WithLocal(p Proxy) ClientOption {
	return func(c *Client) { c.local = p }
}

// WithRemote sets the proxy used when the configuration selects a remote
// portal.
func WithRemote(p Proxy) ClientOption {
	return func(c *Client) { c.remote = p }
}

// WithIdentity sets the holder of the caller's principal.
func WithIdentity(id *domain.Identity) ClientOption {
	return func(c *Client) {
		if id != nil {
			c.identity = id
		}
	}
}

// WithLocales sets the culture and UI culture sent with every call.
func WithLocales(locale, ui language.Tag) ClientOption {
	return func(c *Client) {
		c.locale, c.uiLocale = locale, ui
	}
}

// WithoutAutoClone makes local updates operate on the caller's object
// directly. A failed save may then leave it partially updated.
func WithoutAutoClone() ClientOption {
	return func(c *Client) { c.autoClone = false }
}

// WithClientLogger sets the client's logger.
func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient returns a client resolving type names through reg.
func NewClient(reg *Registry, cfg Config, opts ...ClientOption) *Client {
	if cfg == nil {
		cfg = StaticConfig{}
	}
	c := &Client{
		registry:  reg,
		config:    cfg,
		identity:  domain.NewIdentity(nil),
		logger:    zap.NewNop().Sugar(),
		autoClone: true,
		locale:    language.Und,
		uiLocale:  language.Und,
		global:    Bag{},
		client:    Bag{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the holder of the caller's principal.
func (c *Client) Identity() *domain.Identity { return c.identity }

// Registry returns the client's type registry.
func (c *Client) Registry() *Registry { return c.registry }

// Global returns a copy of the round-trip bag as of the last call.
func (c *Client) Global() Bag {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global.Clone()
}

// SetGlobal stores a value sent to the server on the next call.
func (c *Client) SetGlobal(key string, v any) {
	c.mu.Lock()
	c.global[key] = v
	c.mu.Unlock()
}

// SetClientValue stores a value sent to the server on every call. Server
// changes to it are not returned.
func (c *Client) SetClientValue(key string, v any) {
	c.mu.Lock()
	c.client[key] = v
	c.mu.Unlock()
}

// Create asks the portal for a new, defaulted instance of typeName.
func (c *Client) Create(ctx context.Context, typeName string, criteria any) (any, error) {
	resp, err := c.dispatch(ctx, &Request{Operation: domain.OpCreate, TypeName: typeName, Criteria: criteria})
	if err != nil {
		return nil, err
	}
	return resp.Object, nil
}

// Fetch loads an existing instance of typeName.
func (c *Client) Fetch(ctx context.Context, typeName string, criteria any) (any, error) {
	resp, err := c.dispatch(ctx, &Request{Operation: domain.OpFetch, TypeName: typeName, Criteria: criteria})
	if err != nil {
		return nil, err
	}
	return resp.Object, nil
}

// Update sends obj to its insert, update or delete-self hook and returns the
// object the caller should continue with.
func (c *Client) Update(ctx context.Context, obj any) (any, error) {
	kind := c.config.ProxyKind()
	if kind == ProxyLocal && c.autoClone {
		if _, err := c.registry.NameOf(obj); err == nil {
			clone, err := c.registry.Clone(obj)
			if err != nil {
				return nil, errors.Wrap(err, "clone before update")
			}
			obj = clone
		}
	}
	resp, err := c.dispatchTo(ctx, kind, &Request{Operation: domain.OpUpdate, Object: obj})
	if err != nil {
		return nil, err
	}
	return resp.Object, nil
}

// Delete removes the instance of typeName identified by criteria.
func (c *Client) Delete(ctx context.Context, typeName string, criteria any) error {
	_, err := c.dispatch(ctx, &Request{Operation: domain.OpDelete, TypeName: typeName, Criteria: criteria})
	return err
}

// Execute runs cmd's execute hook and returns the command as the hook left it.
func (c *Client) Execute(ctx context.Context, cmd domain.Command) (domain.Command, error) {
	resp, err := c.dispatch(ctx, &Request{Operation: domain.OpExecute, Object: cmd})
	if err != nil {
		return nil, err
	}
	out, ok := resp.Object.(domain.Command)
	if !ok {
		return nil, errors.Errorf("portal: execute returned %T", resp.Object)
	}
	return out, nil
}

func (c *Client) dispatch(ctx context.Context, req *Request) (*Response, error) {
	return c.dispatchTo(ctx, c.config.ProxyKind(), req)
}

func (c *Client) dispatchTo(ctx context.Context, kind ProxyKind, req *Request) (*Response, error) {
	proxy := c.local
	if kind == ProxyHTTP {
		proxy = c.remote
	}
	if proxy == nil {
		return nil, errors.Errorf("portal: no %s proxy configured", kind)
	}

	// Host authentication keeps the principal off the wire; in process the
	// caller's identity is the host's.
	var principal domain.Principal
	if kind == ProxyLocal || c.config.AuthenticationMode() != AuthHost {
		principal = c.identity.Principal()
	}
	c.mu.Lock()
	req.Context = &DispatchContext{
		Principal: principal,
		Client:    c.client.Clone(),
		Global:    c.global.Clone(),
		Locale:    c.locale,
		UILocale:  c.uiLocale,
	}
	c.mu.Unlock()

	resp, err := proxy.Dispatch(ctx, req)
	if resp != nil && resp.Global != nil {
		c.mu.Lock()
		c.global = resp.Global
		c.mu.Unlock()
	}
	if err != nil {
		c.logger.Debugw("portal call failed", "operation", req.Operation, "proxy", kind, "error", err)
		return nil, err
	}
	if resp == nil {
		return nil, errors.Errorf("portal: %s returned no response", req.Operation)
	}
	if b, ok := resp.Object.(identityBinder); ok {
		b.BindIdentity(c.identity)
	}
	return resp, nil
}

func nameFor[T any](c *Client) (string, error) {
	return c.registry.NameOfType(reflect.TypeFor[T]())
}

func as[T any](obj any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	out, ok := obj.(T)
	if !ok {
		return zero, fmt.Errorf("portal: got %T, want %T", obj, zero)
	}
	return out, nil
}

// CreateAs creates a new instance of the registered type T.
func CreateAs[T any](ctx context.Context, c *Client, criteria any) (T, error) {
	name, err := nameFor[T](c)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](c.Create(ctx, name, criteria))
}

// FetchAs fetches an instance of the registered type T.
func FetchAs[T any](ctx context.Context, c *Client, criteria any) (T, error) {
	name, err := nameFor[T](c)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](c.Fetch(ctx, name, criteria))
}

// DeleteAs deletes the instance of the registered type T named by criteria.
func DeleteAs[T any](ctx context.Context, c *Client, criteria any) error {
	name, err := nameFor[T](c)
	if err != nil {
		return err
	}
	return c.Delete(ctx, name, criteria)
}

// ExecuteAs runs cmd and returns it typed.
func ExecuteAs[T domain.Command](ctx context.Context, c *Client, cmd T) (T, error) {
	out, err := c.Execute(ctx, cmd)
	return as[T](out, err)
}
