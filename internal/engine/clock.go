package engine

import "sync/atomic"

// Clock stamps chain transitions and node results with a strictly
// increasing seq. Wall time never orders ledger events, so two
// deployments of the same plan with a single worker record identical
// sequences.
//
// A Deployer owns one clock for all its deployments; the harness passes a
// shared clock with WithClock so seqs keep increasing across applies.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first seq is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out, or 0.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
