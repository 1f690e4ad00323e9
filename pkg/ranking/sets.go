package ranking

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/google/btree"
)

// Ranked set names.
const (
	SetRegen = "regen"
	SetTx    = "tx"
	SetCbs   = "cbs"
)

// Sets lists every ranked set.
var Sets = []string{SetRegen, SetTx, SetCbs}

func sizeID(set string) string {
	switch set {
	case SetRegen:
		return ledger.SizeRegenScores
	case SetTx:
		return ledger.SizeTxScores
	case SetCbs:
		return ledger.SizeCbScores
	}
	return ""
}

func ValidSet(set string) error {
	if sizeID(set) == "" {
		return fmt.Errorf("ranked set %q: %w", set, ledger.ErrInvariantViolation)
	}
	return nil
}

// metricKey orders a set by ascending metric, ties broken by entity.
type metricKey struct {
	metric int64
	entity string
}

func lessMetric(a, b metricKey) bool {
	if a.metric != b.metric {
		return a.metric < b.metric
	}
	return a.entity < b.entity
}

// String is the cursor form of the key.
func (k metricKey) String() string {
	return strconv.FormatInt(k.metric, 10) + "|" + k.entity
}

func parseCursor(c string) (metricKey, bool, error) {
	if c == "" {
		return metricKey{}, false, nil
	}
	m, entity, ok := strings.Cut(c, "|")
	if !ok {
		return metricKey{}, false, fmt.Errorf("cursor %q: %w", c, ledger.ErrInvariantViolation)
	}
	metric, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return metricKey{}, false, fmt.Errorf("cursor %q: %w", c, ledger.ErrInvariantViolation)
	}
	return metricKey{metric: metric, entity: entity}, true, nil
}

type entry struct {
	metric int64
	rank   uint64
}

// rankedSet keeps the entities of one set with a metric index. Access is serialized
// by the ledger.
type rankedSet struct {
	name    string
	sizeID  string
	entries map[string]entry
	index   *btree.BTreeG[metricKey]
}

func newRankedSet(name string) *rankedSet {
	return &rankedSet{
		name:    name,
		sizeID:  sizeID(name),
		entries: make(map[string]entry),
		index:   btree.NewG[metricKey](32, lessMetric),
	}
}

func (s *rankedSet) get(entity string) (entry, bool) {
	e, ok := s.entries[entity]
	return e, ok
}

func (s *rankedSet) put(entity string, e entry) {
	if prev, ok := s.entries[entity]; ok {
		s.index.Delete(metricKey{metric: prev.metric, entity: entity})
	}
	s.entries[entity] = e
	s.index.ReplaceOrInsert(metricKey{metric: e.metric, entity: entity})
}

func (s *rankedSet) remove(entity string) {
	prev, ok := s.entries[entity]
	if !ok {
		return
	}
	delete(s.entries, entity)
	s.index.Delete(metricKey{metric: prev.metric, entity: entity})
}

func (s *rankedSet) row(entity string, e entry) ledger.RankedRow {
	return ledger.RankedRow{Set: s.name, Entity: entity, Metric: e.metric, Rank: e.rank}
}

// walk visits entities in metric order, from the cursor key (inclusive) when one is
// given, until fn returns false. Metrics may be negative so no zero key is assumed.
func (s *rankedSet) walk(from metricKey, hasFrom bool, fn func(k metricKey, e entry) bool) {
	visit := func(k metricKey) bool { return fn(k, s.entries[k.entity]) }
	if !hasFrom {
		s.index.Ascend(visit)
		return
	}
	s.index.AscendGreaterOrEqual(from, visit)
}

func (s *rankedSet) len() int { return len(s.entries) }
