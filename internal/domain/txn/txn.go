// Package txn defines the transaction boundary used by services that write
// to more than one aggregate.
package txn

import "context"

// Manager runs fn inside a single storage transaction. Repositories called
// with the context passed to fn take part in that transaction; fn returning
// an error rolls every write back.
type Manager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Nop runs fn directly. It is meant for tests and for stores without
// transactions.
type Nop struct{}

// RunInTx implements Manager.
func (Nop) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
