// Package txn defines the transactional boundary every mutating lifecycle
// operation runs in. The data change and its audit entry share one Runner
// call and therefore commit or roll back together.
package txn

import "context"

// Runner executes fn inside a transaction. Stores and audit sinks invoked
// with the ctx passed to fn participate in that transaction. A non-nil
// error from fn rolls everything back and is returned unchanged.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f RunnerFunc) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
