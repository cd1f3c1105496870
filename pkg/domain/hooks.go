package domain

import "context"

// Persistence hooks. A type implements only the hooks it supports; the
// portal reports UnsupportedOperation for the rest. Hooks may also return
// ErrNotSupported themselves.

type Creator interface {
	DataCreate(ctx context.Context, criteria any) error
}

type Fetcher interface {
	DataFetch(ctx context.Context, criteria any) error
}

type Inserter interface {
	DataInsert(ctx context.Context) error
}

type Updater interface {
	DataUpdate(ctx context.Context) error
}

type SelfDeleter interface {
	DataDeleteSelf(ctx context.Context) error
}

type Deleter interface {
	DataDelete(ctx context.Context, criteria any) error
}

type Executor interface {
	DataExecute(ctx context.Context) error
}

// TransactionAnnotated declares the transactional strategy per hook.
// Types that do not implement it run every hook without a transaction.
type TransactionAnnotated interface {
	TransactionMode(h Hook) TransactionalType
}

// LifecycleObserver is notified around each hook invocation. It cannot
// alter routing.
type LifecycleObserver interface {
	BeforeInvoke(ctx context.Context, h Hook)
	AfterInvoke(ctx context.Context, h Hook)
	OnInvokeError(ctx context.Context, h Hook, err error)
}

// EditableState is implemented by objects whose update hook depends on
// their new/deleted flags.
type EditableState interface {
	IsNew() bool
	IsDeleted() bool
}

// StateMarker lets the portal reset flags after a hook completes.
type StateMarker interface {
	MarkNew()
	MarkOld()
}

// Command marks objects routed to the execute hook on update.
type Command interface {
	Executor
	IsCommand()
}

// Dispatcher routes an update of a root object and returns its replacement.
type Dispatcher interface {
	Update(ctx context.Context, obj any) (any, error)
}
