package ledger

import "sort"

type AggregateKind string

const (
	AggregatePoints           AggregateKind = "points"
	AggregateQualifying       AggregateKind = "qev"
	AggregateGlobalQualifying AggregateKind = "qev_global"
)

// AggregateKey identifies one accumulated total. Account is empty for global totals.
type AggregateKey struct {
	Kind    AggregateKind `json:"kind"`
	Account string        `json:"account,omitempty"`
	Day     int64         `json:"day"`
}

func PointsKey(account string, day int64) AggregateKey {
	return AggregateKey{Kind: AggregatePoints, Account: account, Day: day}
}

func QualifyingKey(account string, day int64) AggregateKey {
	return AggregateKey{Kind: AggregateQualifying, Account: account, Day: day}
}

func GlobalQualifyingKey(day int64) AggregateKey {
	return AggregateKey{Kind: AggregateGlobalQualifying, Day: day}
}

// Aggregates is a pure accumulator: rows are created on first delta and only ever added to.
type Aggregates struct {
	rows map[AggregateKey]int64
}

func NewAggregates() *Aggregates {
	return &Aggregates{rows: make(map[AggregateKey]int64)}
}

// ApplyDelta adds amount to key, creating the row when absent. It reports whether the row existed.
func (a *Aggregates) ApplyDelta(key AggregateKey, amount int64) bool {
	cur, ok := a.rows[key]
	a.rows[key] = cur + amount
	return ok
}

// drop removes a row; it only exists to undo a row creation.
func (a *Aggregates) drop(key AggregateKey) { delete(a.rows, key) }

func (a *Aggregates) Get(key AggregateKey) (int64, bool) {
	v, ok := a.rows[key]
	return v, ok
}

// Days returns the rows of one kind and account between two days inclusive, ordered by day.
func (a *Aggregates) Days(kind AggregateKind, account string, fromDay, toDay int64) []AggregateRow {
	var out []AggregateRow
	for k, v := range a.rows {
		if k.Kind == kind && k.Account == account && k.Day >= fromDay && k.Day <= toDay {
			out = append(out, AggregateRow{Key: k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Day < out[j].Key.Day })
	return out
}

// AggregateRow is a materialized aggregate value.
type AggregateRow struct {
	Key   AggregateKey `json:"key"`
	Value int64        `json:"value"`
}

func (a *Aggregates) Reset() { a.rows = make(map[AggregateKey]int64) }
