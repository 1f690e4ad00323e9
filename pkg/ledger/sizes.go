package ledger

// SizeCounters tracks approximate cardinalities of scored sets. Counters never go below zero.
type SizeCounters struct {
	sizes map[string]uint64
}

func NewSizeCounters() *SizeCounters {
	return &SizeCounters{sizes: make(map[string]uint64)}
}

// Change applies delta to a counter, creating it when absent, and clamps at 0 on underflow.
func (s *SizeCounters) Change(id string, delta int64) uint64 {
	cur, ok := s.sizes[id]
	var next uint64
	switch {
	case !ok && delta < 0:
		next = 0
	case delta < 0 && cur < uint64(-delta):
		next = 0
	case delta < 0:
		next = cur - uint64(-delta)
	default:
		next = cur + uint64(delta)
	}
	s.sizes[id] = next
	return next
}

func (s *SizeCounters) Set(id string, n uint64) { s.sizes[id] = n }

// Get returns 0 for counters that were never created.
func (s *SizeCounters) Get(id string) uint64 { return s.sizes[id] }

func (s *SizeCounters) lookup(id string) (uint64, bool) {
	v, ok := s.sizes[id]
	return v, ok
}

func (s *SizeCounters) restoreSize(id string, prev uint64, existed bool) {
	if !existed {
		delete(s.sizes, id)
		return
	}
	s.sizes[id] = prev
}

// All returns a copy of every counter.
func (s *SizeCounters) All() map[string]uint64 {
	out := make(map[string]uint64, len(s.sizes))
	for k, v := range s.sizes {
		out[k] = v
	}
	return out
}

func (s *SizeCounters) Reset() { s.sizes = make(map[string]uint64) }
