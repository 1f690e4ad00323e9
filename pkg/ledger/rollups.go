package ledger

// Rollups keeps lifetime per-account counters. Rows are never deleted outside of a reset.
type Rollups struct {
	rows map[string]Rollup
}

func NewRollups() *Rollups {
	return &Rollups{rows: make(map[string]Rollup)}
}

// Add merges d into the account's rollup and returns the previous value and whether it existed.
func (r *Rollups) Add(d Rollup) (Rollup, bool) {
	prev, ok := r.rows[d.Account]
	next := prev
	next.Account = d.Account
	next.TotalVolume += d.TotalVolume
	next.TotalTransactions += d.TotalTransactions
	next.IncomingFromOrgs += d.IncomingFromOrgs
	next.OutgoingToOrgs += d.OutgoingToOrgs
	r.rows[d.Account] = next
	return prev, ok
}

func (r *Rollups) restore(prev Rollup, existed bool) {
	if !existed {
		delete(r.rows, prev.Account)
		return
	}
	r.rows[prev.Account] = prev
}

func (r *Rollups) Get(account string) (Rollup, bool) {
	v, ok := r.rows[account]
	return v, ok
}

func (r *Rollups) Reset() { r.rows = make(map[string]Rollup) }
