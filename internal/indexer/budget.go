package indexer

import "sync/atomic"

// Budget is the number of embedding-provider calls left in a run. It is
// shared by every lesson and worker of the run.
type Budget struct {
	remaining atomic.Int64
}

// NewBudget creates a budget of n calls
func NewBudget(n int) *Budget {
	b := &Budget{}
	b.remaining.Store(int64(n))
	return b
}

// TryTake reserves one call. It returns false once the budget is spent.
func (b *Budget) TryTake() bool {
	for {
		cur := b.remaining.Load()
		if cur <= 0 {
			return false
		}
		if b.remaining.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Remaining returns the calls left
func (b *Budget) Remaining() int {
	return int(b.remaining.Load())
}

// Exhausted reports whether no calls are left
func (b *Budget) Exhausted() bool {
	return b.remaining.Load() <= 0
}
