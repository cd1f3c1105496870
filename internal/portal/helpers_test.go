package portal

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"entityportal/pkg/domain"
)

// ledger implements every data hook and records what each call saw.
type ledger struct {
	ID       int                      `json:"id"`
	Name     string                   `json:"name"`
	New      bool                     `json:"new"`
	Deleted  bool                     `json:"deleted"`
	FailOn   domain.Hook              `json:"failOn,omitempty"`
	Mode     domain.TransactionalType `json:"mode,omitempty"`
	Calls    []domain.Hook            `json:"calls,omitempty"`
	Where    string                   `json:"where,omitempty"`
	Who      string                   `json:"who,omitempty"`
	Enlisted []string                 `json:"enlisted,omitempty"`

	identity domain.IdentitySource
	notSup   bool
}

func newLedger() *ledger { return &ledger{New: true} }

func (l *ledger) hook(ctx context.Context, h domain.Hook) error {
	l.Calls = append(l.Calls, h)
	l.Where = LocationFrom(ctx).String()
	if p := PrincipalFrom(ctx); p != nil {
		l.Who = p.Name()
	}
	l.Enlisted = domain.EnlistedResources(ctx)
	GlobalFrom(ctx)["last"] = string(h)
	if l.FailOn == h {
		if l.notSup {
			return domain.ErrNotSupported
		}
		return errors.New("boom")
	}
	return nil
}

func (l *ledger) DataCreate(ctx context.Context, criteria any) error {
	if id, ok := criteria.(int); ok {
		l.ID = id
	}
	return l.hook(ctx, domain.HookCreate)
}

func (l *ledger) DataFetch(ctx context.Context, criteria any) error {
	if id, ok := criteria.(int); ok {
		l.ID = id
	}
	l.Name = "fetched"
	return l.hook(ctx, domain.HookFetch)
}

func (l *ledger) DataInsert(ctx context.Context) error     { return l.hook(ctx, domain.HookInsert) }
func (l *ledger) DataUpdate(ctx context.Context) error     { return l.hook(ctx, domain.HookUpdate) }
func (l *ledger) DataDeleteSelf(ctx context.Context) error { return l.hook(ctx, domain.HookDeleteSelf) }

func (l *ledger) DataDelete(ctx context.Context, criteria any) error {
	if id, ok := criteria.(int); ok {
		l.ID = id
	}
	return l.hook(ctx, domain.HookDelete)
}

func (l *ledger) IsNew() bool     { return l.New }
func (l *ledger) IsDeleted() bool { return l.Deleted }
func (l *ledger) MarkNew()        { l.New, l.Deleted = true, false }
func (l *ledger) MarkOld()        { l.New = false }

func (l *ledger) TransactionMode(h domain.Hook) domain.TransactionalType {
	if h == domain.HookFetch || h == domain.HookCreate {
		return domain.TxNone
	}
	return l.Mode
}

func (l *ledger) BindIdentity(src domain.IdentitySource) { l.identity = src }

// watched observes its own hook invocations.
type watched struct {
	ledger
	events []string
}

func (w *watched) BeforeInvoke(_ context.Context, h domain.Hook) {
	w.events = append(w.events, "before:"+string(h))
}

func (w *watched) AfterInvoke(_ context.Context, h domain.Hook) {
	w.events = append(w.events, "after:"+string(h))
}

func (w *watched) OnInvokeError(_ context.Context, h domain.Hook, err error) {
	w.events = append(w.events, "error:"+string(h)+":"+err.Error())
}

// pinger is a command object.
type pinger struct {
	Target string `json:"target"`
	Reply  string `json:"reply"`
}

func (p *pinger) IsCommand() {}

func (p *pinger) DataExecute(ctx context.Context) error {
	p.Reply = "pong from " + LocationFrom(ctx).String()
	return nil
}

// bare implements no hooks.
type bare struct {
	Value string `json:"value"`
}

func testRegistry() *Registry {
	reg := NewRegistry()
	_ = Register(reg, "ledger", newLedger, WithCriteria[int]())
	_ = Register(reg, "watched", func() *watched { return &watched{ledger: ledger{New: true}} })
	_ = Register(reg, "pinger", func() *pinger { return &pinger{} })
	_ = Register(reg, "bare", func() *bare { return &bare{} })
	return reg
}

// fakeResource records the transaction calls made against it.
type fakeResource struct {
	name       string
	beginErr   error
	prepareErr error
	commitErr  error

	mu  sync.Mutex
	log []string
}

func (r *fakeResource) record(s string) {
	r.mu.Lock()
	r.log = append(r.log, s)
	r.mu.Unlock()
}

func (r *fakeResource) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.log)
}

func (r *fakeResource) Name() string { return r.name }

func (r *fakeResource) BeginTx(context.Context) (domain.Tx, error) {
	r.record("begin")
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	return &fakeTx{r: r}, nil
}

type fakeTx struct {
	r        *fakeResource
	prepared context.Context
}

func (t *fakeTx) Prepare(ctx context.Context) error {
	t.r.record("prepare")
	t.prepared = ctx
	return t.r.prepareErr
}

// Commit fails like a database transaction bound to the prepare context
// would once that context has ended.
func (t *fakeTx) Commit() error {
	t.r.record("commit")
	if t.prepared != nil && t.prepared.Err() != nil {
		return t.prepared.Err()
	}
	return t.r.commitErr
}

func (t *fakeTx) Rollback() error {
	t.r.record("rollback")
	return nil
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	calls []metricsCall
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

type captureTracer struct {
	ended map[string]error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	if s.tracer.ended == nil {
		s.tracer.ended = make(map[string]error)
	}
	s.tracer.ended[s.op] = err
}

func business(name string, roles ...string) *domain.BusinessPrincipal {
	return domain.NewBusinessPrincipal(name, roles...)
}
