// Package txn abstracts the transaction boundary of a settlement operation.
package txn

import "context"

// Manager runs fn inside one transaction. The context passed to fn carries
// the transaction; repositories called with it take part in the same commit.
// Calling WithTransaction with a context that already carries a transaction
// joins it instead of opening a new one.
type Manager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ManagerFunc adapts a function to Manager.
type ManagerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// WithTransaction calls f.
func (f ManagerFunc) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// Nop runs fn directly, without any transactional guarantee.
var Nop Manager = ManagerFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
})
