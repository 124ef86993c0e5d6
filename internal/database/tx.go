package database

import "context"

// Transactor is implemented by stores that can run a group of calls
// atomically. Calls made with the ctx handed to fn join the transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RunInTx runs fn inside a transaction when store supports one, and plainly
// otherwise. The Supabase backend has no multi-request transactions, so its
// calls stay sequential there.
func RunInTx(ctx context.Context, store RecordStore, fn func(ctx context.Context) error) error {
	if t, ok := store.(Transactor); ok {
		return t.InTx(ctx, fn)
	}
	return fn(ctx)
}
