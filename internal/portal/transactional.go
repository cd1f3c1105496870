package portal

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"entityportal/pkg/domain"
)

// ErrNoResource is returned by transactional strategies when no resource
// has been registered.
var ErrNoResource = errors.New("portal: no transactional resource registered")

// Resources is the set of stores transactional strategies enlist. The first
// registered resource is the ambient default.
type Resources struct {
	mu   sync.RWMutex
	list []domain.TxResource
}

// NewResources returns a set holding rs.
func NewResources(rs ...domain.TxResource) *Resources {
	r := &Resources{}
	for _, res := range rs {
		_ = r.Add(res)
	}
	return r
}

// Add registers res. Names must be unique.
func (r *Resources) Add(res domain.TxResource) error {
	if res == nil {
		return errors.New("portal: nil resource")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.list {
		if cur.Name() == res.Name() {
			return errors.Errorf("portal: resource %s already registered", res.Name())
		}
	}
	r.list = append(r.list, res)
	return nil
}

// Default returns the first registered resource.
func (r *Resources) Default() (domain.TxResource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.list) == 0 {
		return nil, false
	}
	return r.list[0], true
}

// All returns every registered resource in registration order.
func (r *Resources) All() []domain.TxResource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TxResource(nil), r.list...)
}

type scopeFunc func(ctx context.Context, fn func(context.Context) error) error

// wrapped runs an inner strategy inside a transactional scope.
type wrapped struct {
	kind  domain.TransactionalType
	inner Strategy
	scope scopeFunc
}

func (w *wrapped) Kind() domain.TransactionalType { return w.kind }

func (w *wrapped) Create(ctx context.Context, inv *Invocation) (out any, err error) {
	err = w.scope(ctx, func(ctx context.Context) error {
		out, err = w.inner.Create(ctx, inv)
		return err
	})
	return out, err
}

func (w *wrapped) Fetch(ctx context.Context, inv *Invocation) (out any, err error) {
	err = w.scope(ctx, func(ctx context.Context) error {
		out, err = w.inner.Fetch(ctx, inv)
		return err
	})
	return out, err
}

func (w *wrapped) Update(ctx context.Context, inv *Invocation) (out any, err error) {
	err = w.scope(ctx, func(ctx context.Context) error {
		out, err = w.inner.Update(ctx, inv)
		return err
	})
	return out, err
}

func (w *wrapped) Delete(ctx context.Context, inv *Invocation) error {
	return w.scope(ctx, func(ctx context.Context) error {
		return w.inner.Delete(ctx, inv)
	})
}

// NewAmbient wraps inner in a local transaction on the default resource:
// commit on success, rollback on error. A call that already holds a
// transaction on that resource joins it.
func NewAmbient(inner Strategy, res *Resources, logger *zap.SugaredLogger) Strategy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &wrapped{
		kind:  domain.TxAmbient,
		inner: inner,
		scope: func(ctx context.Context, fn func(context.Context) error) error {
			r, ok := res.Default()
			if !ok {
				return ErrNoResource
			}
			if _, joined := domain.TxFrom(ctx, r.Name()); joined {
				return fn(ctx)
			}
			tx, err := r.BeginTx(ctx)
			if err != nil {
				return errors.Wrapf(err, "begin %s", r.Name())
			}
			if err := fn(domain.WithTx(ctx, r.Name(), tx)); err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					logger.Warnw("rollback failed", "resource", r.Name(), "error", rbErr)
				}
				return err
			}
			return errors.Wrapf(tx.Commit(), "commit %s", r.Name())
		},
	}
}

type enlisted struct {
	name string
	tx   domain.Tx
}

// NewDistributed wraps inner in a transaction spanning every registered
// resource. After the hook succeeds, transactions implementing
// domain.Preparer are prepared in parallel; any failure rolls back all of
// them. Only then is each committed.
func NewDistributed(inner Strategy, res *Resources, logger *zap.SugaredLogger) Strategy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &wrapped{
		kind:  domain.TxDistributed,
		inner: inner,
		scope: func(ctx context.Context, fn func(context.Context) error) error {
			all := res.All()
			if len(all) == 0 {
				return ErrNoResource
			}
			var open []enlisted
			rollback := func() {
				for i := len(open) - 1; i >= 0; i-- {
					if err := open[i].tx.Rollback(); err != nil {
						logger.Warnw("rollback failed", "resource", open[i].name, "error", err)
					}
				}
			}

			txCtx := ctx
			for _, r := range all {
				tx, err := r.BeginTx(ctx)
				if err != nil {
					rollback()
					return errors.Wrapf(err, "begin %s", r.Name())
				}
				open = append(open, enlisted{name: r.Name(), tx: tx})
				txCtx = domain.WithTx(txCtx, r.Name(), tx)
			}

			if err := fn(txCtx); err != nil {
				rollback()
				return err
			}

			// Prepared work must outlive the group, so prepare runs on ctx
			// rather than a group-scoped context cancelled by Wait.
			var g errgroup.Group
			for _, e := range open {
				p, ok := e.tx.(domain.Preparer)
				if !ok {
					continue
				}
				g.Go(func() error {
					return errors.Wrapf(p.Prepare(ctx), "prepare %s", e.name)
				})
			}
			if err := g.Wait(); err != nil {
				rollback()
				return err
			}

			var errs []error
			for _, e := range open {
				if err := e.tx.Commit(); err != nil {
					errs = append(errs, errors.Wrapf(err, "commit %s", e.name))
				}
			}
			if len(errs) > 0 {
				logger.Errorw("distributed commit incomplete", "errors", len(errs))
			}
			return stderrors.Join(errs...)
		},
	}
}
