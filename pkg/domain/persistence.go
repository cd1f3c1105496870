package domain

import "context"

// Tx is a unit of work opened against a transactional resource.
type Tx interface {
	Commit() error
	Rollback() error
}

// Preparer is implemented by transactions that take part in two-phase
// commit. Prepare must leave the transaction able to commit without error.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// TxResource opens transactions on a named backing store.
type TxResource interface {
	Name() string
	BeginTx(ctx context.Context) (Tx, error)
}

type txKey struct{ name string }

type txSetKey struct{}

// WithTx stores the transaction opened on resource name in ctx.
func WithTx(ctx context.Context, name string, tx Tx) context.Context {
	ctx = context.WithValue(ctx, txKey{name}, tx)
	names, _ := ctx.Value(txSetKey{}).([]string)
	return context.WithValue(ctx, txSetKey{}, append(append([]string(nil), names...), name))
}

// TxFrom returns the transaction enlisted for resource name, if any.
func TxFrom(ctx context.Context, name string) (Tx, bool) {
	tx, ok := ctx.Value(txKey{name}).(Tx)
	return tx, ok
}

// EnlistedResources lists resource names with an open transaction in ctx.
func EnlistedResources(ctx context.Context) []string {
	names, _ := ctx.Value(txSetKey{}).([]string)
	return names
}
