package portal

import (
	"context"
	"fmt"

	"entityportal/pkg/domain"
)

// Invocation is a resolved call: the hook to run, on which object, with
// which criteria.
type Invocation struct {
	Operation domain.Operation
	Hook      domain.Hook
	TypeName  string
	Target    any
	Criteria  any
}

// Strategy runs resolved hooks. Create, Fetch and Update return the object
// the caller uses from then on. Commands run through Update.
type Strategy interface {
	Kind() domain.TransactionalType
	Create(ctx context.Context, inv *Invocation) (any, error)
	Fetch(ctx context.Context, inv *Invocation) (any, error)
	Update(ctx context.Context, inv *Invocation) (any, error)
	Delete(ctx context.Context, inv *Invocation) error
}

// Direct calls hooks with no transaction around them. Hook errors come back
// as *domain.ServerFault.
type Direct struct{}

var _ Strategy = Direct{}

func (Direct) Kind() domain.TransactionalType { return domain.TxNone }

func (Direct) Create(ctx context.Context, inv *Invocation) (any, error) {
	c, ok := inv.Target.(domain.Creator)
	if !ok {
		return nil, missingHook(inv)
	}
	if err := invoke(ctx, inv, func(ctx context.Context) error {
		return c.DataCreate(ctx, inv.Criteria)
	}); err != nil {
		return nil, err
	}
	if m, ok := inv.Target.(domain.StateMarker); ok {
		m.MarkNew()
	}
	return inv.Target, nil
}

func (Direct) Fetch(ctx context.Context, inv *Invocation) (any, error) {
	f, ok := inv.Target.(domain.Fetcher)
	if !ok {
		return nil, missingHook(inv)
	}
	if err := invoke(ctx, inv, func(ctx context.Context) error {
		return f.DataFetch(ctx, inv.Criteria)
	}); err != nil {
		return nil, err
	}
	if m, ok := inv.Target.(domain.StateMarker); ok {
		m.MarkOld()
	}
	return inv.Target, nil
}

func (Direct) Update(ctx context.Context, inv *Invocation) (any, error) {
	var (
		fn    func(context.Context) error
		after func(domain.StateMarker)
	)
	switch inv.Hook {
	case domain.HookExecute:
		e, ok := inv.Target.(domain.Executor)
		if !ok {
			return nil, missingHook(inv)
		}
		fn = e.DataExecute
	case domain.HookInsert:
		i, ok := inv.Target.(domain.Inserter)
		if !ok {
			return nil, missingHook(inv)
		}
		fn, after = i.DataInsert, domain.StateMarker.MarkOld
	case domain.HookUpdate:
		u, ok := inv.Target.(domain.Updater)
		if !ok {
			return nil, missingHook(inv)
		}
		fn, after = u.DataUpdate, domain.StateMarker.MarkOld
	case domain.HookDeleteSelf:
		d, ok := inv.Target.(domain.SelfDeleter)
		if !ok {
			return nil, missingHook(inv)
		}
		fn, after = d.DataDeleteSelf, domain.StateMarker.MarkNew
	default:
		return nil, domain.NewUnsupportedError(string(inv.Hook), "not an update hook")
	}
	if err := invoke(ctx, inv, fn); err != nil {
		return nil, err
	}
	if m, ok := inv.Target.(domain.StateMarker); ok && after != nil {
		after(m)
	}
	return inv.Target, nil
}

func (Direct) Delete(ctx context.Context, inv *Invocation) error {
	d, ok := inv.Target.(domain.Deleter)
	if !ok {
		return missingHook(inv)
	}
	return invoke(ctx, inv, func(ctx context.Context) error {
		return d.DataDelete(ctx, inv.Criteria)
	})
}

func invoke(ctx context.Context, inv *Invocation, fn func(context.Context) error) error {
	obs, _ := inv.Target.(domain.LifecycleObserver)
	if obs != nil {
		obs.BeforeInvoke(ctx, inv.Hook)
	}
	if err := fn(ctx); err != nil {
		if obs != nil {
			obs.OnInvokeError(ctx, inv.Hook, err)
		}
		return &domain.ServerFault{
			Operation: inv.Operation,
			Type:      inv.TypeName,
			Hook:      inv.Hook,
			Object:    inv.Target,
			Cause:     err,
		}
	}
	if obs != nil {
		obs.AfterInvoke(ctx, inv.Hook)
	}
	return nil
}

func missingHook(inv *Invocation) error {
	return domain.NewUnsupportedError(string(inv.Hook),
		fmt.Sprintf("%s does not implement the %s hook", inv.TypeName, inv.Hook))
}
