package ledgerdb

import (
	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/utils"
)

// batch is the rows of one table written by one commit, in column order.
type batch struct {
	table string
	rows  [][]any
}

// plan turns a changeset into one batch per touched table. Rows that change the same
// key several times within the changeset collapse to their last state, and deltas
// to the same total are summed, so every table receives at most one row per key.
func plan(cs *ledger.Changeset, version uint64) []batch {
	var out []batch
	add := func(table string, rows [][]any) {
		if len(rows) > 0 {
			out = append(out, batch{table: table, rows: rows})
		}
	}

	transfers := make([][]any, 0, len(cs.Transfers))
	for _, t := range cs.Transfers {
		transfers = append(transfers, []any{t.Seq, t.From, t.To, t.Quantity.Amount, t.Quantity.Symbol, t.Timestamp, version})
	}
	add(TransfersTable, transfers)

	records := newLastWins[ledger.RecordRef]()
	for _, r := range cs.Records {
		records.put(r.Ref(), recordRow(r, version, false))
	}
	for _, r := range cs.Evicted {
		records.put(r.Ref(), recordRow(r, version, true))
	}
	add(RecordsTable, records.rows())

	sums := newLastWins[ledger.AggregateKey]()
	totals := make(map[ledger.AggregateKey]int64)
	for _, d := range cs.Deltas {
		totals[d.Key] += d.Amount
		sums.put(d.Key, nil)
	}
	aggregates := make([][]any, 0, len(totals))
	for _, k := range sums.order {
		if v := totals[k]; v != 0 {
			aggregates = append(aggregates, []any{string(k.Kind), k.Account, k.Day, v, version})
		}
	}
	add(AggregatesTable, aggregates)

	rollups := newLastWins[string]()
	merged := make(map[string]ledger.Rollup)
	for _, d := range cs.Rollups {
		m := merged[d.Account]
		m.TotalVolume += d.TotalVolume
		m.TotalTransactions += d.TotalTransactions
		m.IncomingFromOrgs += d.IncomingFromOrgs
		m.OutgoingToOrgs += d.OutgoingToOrgs
		merged[d.Account] = m
		rollups.put(d.Account, nil)
	}
	rollupRows := make([][]any, 0, len(merged))
	for _, account := range rollups.order {
		m := merged[account]
		rollupRows = append(rollupRows, []any{account, m.TotalVolume, m.TotalTransactions, m.IncomingFromOrgs, m.OutgoingToOrgs, version})
	}
	add(RollupsTable, rollupRows)

	sizes := newLastWins[string]()
	for _, s := range cs.Sizes {
		sizes.put(s.ID, []any{s.ID, s.Value, version})
	}
	add(SizesTable, sizes.rows())

	statuses := make([][]any, 0, len(cs.Statuses))
	for _, s := range cs.Statuses {
		statuses = append(statuses, []any{string(s.List), s.ID, s.Account, s.Timestamp, version})
	}
	add(StatusesTable, statuses)

	history := make([][]any, 0, len(cs.History))
	for _, h := range cs.History {
		history = append(history, []any{h.ID, h.Account, h.Action, h.Amount, h.Meta, h.Timestamp, version})
	}
	add(HistoryTable, history)

	type rankedKey struct{ set, entity string }
	ranked := newLastWins[rankedKey]()
	for _, r := range cs.Ranked {
		ranked.put(rankedKey{r.Set, r.Entity}, []any{r.Set, r.Entity, r.Metric, r.Rank, version, utils.BoolToUInt8(r.Deleted)})
	}
	add(RankedTable, ranked.rows())

	type voteKey struct{ org, voter string }
	votes := newLastWins[voteKey]()
	for _, v := range cs.Votes {
		votes.put(voteKey{v.Org, v.Voter}, []any{v.Org, v.Voter, v.Amount, version, utils.BoolToUInt8(v.Deleted)})
	}
	add(VotesTable, votes.rows())

	return out
}

func recordRow(r ledger.Record, version uint64, deleted bool) []any {
	return []any{
		r.Day,
		r.ID,
		r.From,
		r.To,
		r.Volume,
		r.QualifyingVolume,
		r.FromPoints,
		r.ToPoints,
		r.Timestamp,
		utils.BoolToUInt8(r.Settled),
		version,
		utils.BoolToUInt8(deleted),
	}
}

// lastWins keeps the last row per key in first-seen key order.
type lastWins[K comparable] struct {
	order []K
	last  map[K][]any
}

func newLastWins[K comparable]() *lastWins[K] {
	return &lastWins[K]{last: make(map[K][]any)}
}

func (l *lastWins[K]) put(k K, row []any) {
	if _, ok := l.last[k]; !ok {
		l.order = append(l.order, k)
	}
	l.last[k] = row
}

func (l *lastWins[K]) rows() [][]any {
	out := make([][]any, 0, len(l.order))
	for _, k := range l.order {
		out = append(out, l.last[k])
	}
	return out
}
