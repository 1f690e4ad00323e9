package ledger

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Snapshot is the persisted state the ledger and its collaborators are rebuilt from.
type Snapshot struct {
	Records     []Record
	Aggregates  []AggregateRow
	Rollups     []Rollup
	Sizes       []SizeRow
	Statuses    []StatusEntry
	History     []HistoryEntry
	Ranked      []RankedRow
	Votes       []VoteRow
	TransferSeq uint64
}

// Restore replaces the in-memory state with a snapshot. It bypasses the sink.
func (l *Ledger) Restore(s *Snapshot) error {
	window := NewWindow()
	for _, r := range s.Records {
		if err := window.Put(r); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	aggregates := NewAggregates()
	for _, row := range s.Aggregates {
		aggregates.ApplyDelta(row.Key, row.Value)
	}
	rollups := NewRollups()
	for _, r := range s.Rollups {
		rollups.Add(r)
	}
	sizes := NewSizeCounters()
	for _, row := range s.Sizes {
		sizes.Set(row.ID, row.Value)
	}
	statuses := newStatusBook()
	entries := append([]StatusEntry(nil), s.Statuses...)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].List != entries[j].List {
			return entries[i].List < entries[j].List
		}
		return entries[i].ID < entries[j].ID
	})
	for _, e := range entries {
		if statuses.has(e.List, e.Account) {
			return fmt.Errorf("restore: %s listed twice in %s: %w", e.Account, e.List, ErrDuplicateKey)
		}
		statuses.append(e)
	}
	history := newHistoryBook()
	for _, e := range s.History {
		history.append(e)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.window, l.aggregates, l.rollups, l.sizes, l.statuses, l.history = window, aggregates, rollups, sizes, statuses, history
	if s.TransferSeq > l.transferSeq {
		l.transferSeq = s.TransferSeq
	}
	l.logger.Info("ledger restored", zap.Int("records", window.Len()), zap.Uint64("transfer_seq", l.transferSeq))
	return nil
}
