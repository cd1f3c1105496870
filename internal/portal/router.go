package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"entityportal/pkg/domain"
)

// Request is one portal call. Create, Fetch and Delete name a registered
// type and carry criteria; Update and Execute carry the object itself.
type Request struct {
	Operation domain.Operation
	TypeName  string
	Criteria  any
	Object    any
	Context   *DispatchContext
}

// Response carries the object the caller should continue with and the
// round-trip bag as the server left it.
type Response struct {
	Object any
	Global Bag
}

// Proxy delivers requests to a router, locally or over a transport.
type Proxy interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Router resolves requests to persistence hooks and runs each hook in the
// strategy its type declares.
type Router struct {
	registry   *Registry
	config     Config
	resources  *Resources
	overrides  []Strategy
	strategies map[domain.TransactionalType]Strategy
	logger     *zap.SugaredLogger
	metrics    MetricsRecorder
	tracer     Tracer
}

var _ Proxy = (*Router)(nil)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router's logger.
func WithLogger(l *zap.SugaredLogger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) RouterOption {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithResources sets the stores enlisted by the transactional strategies.
func WithResources(res *Resources) RouterOption {
	return func(r *Router) {
		if res != nil {
			r.resources = res
		}
	}
}

// WithStrategy replaces the strategy registered for s.Kind().
func WithStrategy(s Strategy) RouterOption {
	return func(r *Router) {
		if s != nil {
			r.overrides = append(r.overrides, s)
		}
	}
}

// NewRouter returns a router resolving types through reg. cfg is consulted
// on every remote call for the authentication mode.
func NewRouter(reg *Registry, cfg Config, opts ...RouterOption) *Router {
	if cfg == nil {
		cfg = StaticConfig{}
	}
	r := &Router{
		registry:  reg,
		config:    cfg,
		resources: NewResources(),
		logger:    zap.NewNop().Sugar(),
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
	}
	for _, opt := range opts {
		opt(r)
	}
	direct := Direct{}
	r.strategies = map[domain.TransactionalType]Strategy{
		domain.TxNone:        direct,
		domain.TxAmbient:     NewAmbient(direct, r.resources, r.logger),
		domain.TxDistributed: NewDistributed(direct, r.resources, r.logger),
	}
	for _, s := range r.overrides {
		r.strategies[s.Kind()] = s
	}
	return r
}

// Registry returns the type registry the router resolves names with.
func (r *Router) Registry() *Registry { return r.registry }

// Resources returns the transactional resource set.
func (r *Router) Resources() *Resources { return r.resources }

// Dispatch runs one call. The response is returned even on failure so the
// caller can pick up the round-trip bag.
func (r *Router) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	dc := req.Context
	if dc == nil {
		dc = &DispatchContext{}
	}
	if dc.Global == nil {
		dc.Global = Bag{}
	}
	if dc.Client == nil {
		dc.Client = Bag{}
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, string(req.Operation))
	c := r.newCall(req, dc)
	out, err := c.run(ctx)
	span.End(err)
	r.metrics.Observe(ctx, string(req.Operation), err == nil, time.Since(start))

	resp := &Response{Object: out, Global: dc.Global}
	if err != nil {
		if _, fault := domain.AsServerFault(err); fault {
			c.log.Warnw("hook failed", "phase", c.phase(), "error", err)
		} else {
			c.log.Errorw("dispatch failed", "phase", c.phase(), "error", err)
		}
		return resp, err
	}
	c.log.Debugw("dispatch complete", "phase", c.phase(), "duration", time.Since(start))
	return resp, nil
}

// Call phases. Every call walks resolve, select, prepare and complete in
// order, or drops to failed from any of them.
const (
	phaseIdle     = "idle"
	phaseResolved = "resolved"
	phaseSelected = "selected"
	phasePrepared = "prepared"
	phaseDone     = "done"
	phaseFailed   = "failed"

	eventResolve  = "resolve"
	eventSelect   = "select"
	eventPrepare  = "prepare"
	eventComplete = "complete"
	eventFail     = "fail"
)

type call struct {
	router   *Router
	req      *Request
	dc       *DispatchContext
	inv      *Invocation
	strategy Strategy
	machine  *fsm.FSM
	log      *zap.SugaredLogger
}

func (r *Router) newCall(req *Request, dc *DispatchContext) *call {
	c := &call{
		router: r,
		req:    req,
		dc:     dc,
		log: r.logger.With(
			"call", uuid.NewString(),
			"operation", req.Operation,
			"remote", dc.Remote,
		),
	}
	c.machine = fsm.NewFSM(
		phaseIdle,
		fsm.Events{
			{Name: eventResolve, Src: []string{phaseIdle}, Dst: phaseResolved},
			{Name: eventSelect, Src: []string{phaseResolved}, Dst: phaseSelected},
			{Name: eventPrepare, Src: []string{phaseSelected}, Dst: phasePrepared},
			{Name: eventComplete, Src: []string{phasePrepared}, Dst: phaseDone},
			{Name: eventFail, Src: []string{phaseIdle, phaseResolved, phaseSelected, phasePrepared}, Dst: phaseFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.log.Debugw("dispatch phase", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return c
}

func (c *call) phase() string { return c.machine.Current() }

func (c *call) advance(ctx context.Context, event string) error {
	if err := c.machine.Event(ctx, event); err != nil {
		return errors.Wrapf(err, "dispatch %s", event)
	}
	return nil
}

func (c *call) run(ctx context.Context) (out any, err error) {
	defer func() {
		if err != nil {
			_ = c.machine.Event(ctx, eventFail)
		}
	}()

	if err = c.resolve(); err != nil {
		return nil, err
	}
	if err = c.advance(ctx, eventResolve); err != nil {
		return nil, err
	}

	if err = c.selectStrategy(); err != nil {
		return nil, err
	}
	if err = c.advance(ctx, eventSelect); err != nil {
		return nil, err
	}

	if c.dc.Remote {
		mode := c.router.config.AuthenticationMode()
		if err = checkRemotePrincipal(mode, c.dc.Principal); err != nil {
			return nil, err
		}
		if mode == AuthHost {
			c.dc.Principal = hostPrincipalFrom(ctx)
		}
	}
	callCtx, release := enter(ctx, c.dc)
	defer release()
	if b, ok := c.inv.Target.(identityBinder); ok && c.dc.Principal != nil {
		b.BindIdentity(domain.NewIdentity(c.dc.Principal))
	}
	if err = c.advance(callCtx, eventPrepare); err != nil {
		return nil, err
	}

	out, err = c.invoke(callCtx)
	if err != nil {
		return nil, classify(c.inv, err)
	}
	if err = c.advance(callCtx, eventComplete); err != nil {
		return nil, err
	}
	return out, nil
}

type identityBinder interface {
	BindIdentity(src domain.IdentitySource)
}

func (c *call) resolve() error {
	reg := c.router.registry
	inv := &Invocation{Operation: c.req.Operation, Criteria: c.req.Criteria}
	switch c.req.Operation {
	case domain.OpCreate, domain.OpFetch, domain.OpDelete:
		info, err := reg.Lookup(c.req.TypeName)
		if err != nil {
			return err
		}
		inv.TypeName = info.Name
		inv.Target = info.New()
		inv.Hook = map[domain.Operation]domain.Hook{
			domain.OpCreate: domain.HookCreate,
			domain.OpFetch:  domain.HookFetch,
			domain.OpDelete: domain.HookDelete,
		}[c.req.Operation]
	case domain.OpUpdate:
		if c.req.Object == nil {
			return errors.New("portal: update without an object")
		}
		inv.Target = c.req.Object
		inv.TypeName = typeName(reg, c.req.Object)
		inv.Hook = updateHook(c.req.Object)
	case domain.OpExecute:
		if _, ok := c.req.Object.(domain.Command); !ok {
			return domain.NewUnsupportedError("execute", fmt.Sprintf("%T is not a command", c.req.Object))
		}
		inv.Target = c.req.Object
		inv.TypeName = typeName(reg, c.req.Object)
		inv.Hook = domain.HookExecute
	default:
		return errors.Errorf("portal: unknown operation %q", c.req.Operation)
	}
	c.inv = inv
	c.log = c.log.With("type", inv.TypeName, "hook", inv.Hook)
	return nil
}

// updateHook picks the hook an update of obj runs.
func updateHook(obj any) domain.Hook {
	if _, ok := obj.(domain.Command); ok {
		return domain.HookExecute
	}
	if st, ok := obj.(domain.EditableState); ok {
		switch {
		case st.IsDeleted():
			return domain.HookDeleteSelf
		case st.IsNew():
			return domain.HookInsert
		}
	}
	return domain.HookUpdate
}

func (c *call) selectStrategy() error {
	mode := domain.TxNone
	if a, ok := c.inv.Target.(domain.TransactionAnnotated); ok {
		if m := a.TransactionMode(c.inv.Hook); m != "" {
			mode = m
		}
	}
	s, ok := c.router.strategies[mode]
	if !ok {
		return domain.NewUnsupportedError(string(c.inv.Hook), fmt.Sprintf("unknown transactional type %q", mode))
	}
	c.strategy = s
	c.log = c.log.With("strategy", mode)
	return nil
}

func (c *call) invoke(ctx context.Context) (any, error) {
	switch c.inv.Operation {
	case domain.OpCreate:
		return c.strategy.Create(ctx, c.inv)
	case domain.OpFetch:
		return c.strategy.Fetch(ctx, c.inv)
	case domain.OpDelete:
		return nil, c.strategy.Delete(ctx, c.inv)
	default:
		return c.strategy.Update(ctx, c.inv)
	}
}

// classify leaves classified errors alone and reports anything else raised
// while the strategy ran, such as a failed commit, as a server fault.
func classify(inv *Invocation, err error) error {
	if _, ok := domain.AsServerFault(err); ok {
		return err
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return &domain.ServerFault{
		Operation: inv.Operation,
		Type:      inv.TypeName,
		Hook:      inv.Hook,
		Cause:     err,
	}
}

func checkRemotePrincipal(mode AuthMode, p domain.Principal) error {
	if mode == AuthHost {
		if p != nil {
			return domain.NewSecurityError("dispatch", "no principal may be passed when using host authentication")
		}
		return nil
	}
	if p == nil {
		return domain.NewSecurityError("dispatch", "a principal is required when using custom authentication")
	}
	if _, ok := p.(*domain.BusinessPrincipal); !ok {
		return domain.NewSecurityError("dispatch", fmt.Sprintf("principal must be a business principal, got %T", p))
	}
	return nil
}
