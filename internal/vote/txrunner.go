package vote

import (
	"context"
	"sync"
)

// TxRunner executes fn atomically. The postgres implementation opens a
// transaction and places it in the context so every store write inside fn
// joins it; any error rolls the whole sequence back, audit row included.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// MemoryTxRunner serializes submissions under one coarse lock. The memory
// stores cannot roll back, so this runner trades the postgres runner's
// atomicity for mutual exclusion; it exists for tests and single-node dev.
type MemoryTxRunner struct {
	mu sync.Mutex
}

func NewMemoryTxRunner() *MemoryTxRunner {
	return &MemoryTxRunner{}
}

func (r *MemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(ctx)
}
