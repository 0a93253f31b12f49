package runtime

import "sync/atomic"

// seqGen hands out event sequence numbers for one top-level run. Nested runs
// share their parent's generator.
type seqGen struct {
	counter atomic.Uint64
}

func newSeqGen() *seqGen {
	return &seqGen{}
}

// Next returns the next sequence number (1-indexed).
func (s *seqGen) Next() uint64 {
	return s.counter.Add(1)
}
