package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canopy-network/repledger/pkg/scheduler"
	"go.uber.org/zap"
)

// AggregateDelta is one committed change of an aggregate row.
type AggregateDelta struct {
	Key    AggregateKey `json:"key"`
	Amount int64        `json:"amount"`
}

// SizeRow is the value of a counter after a change.
type SizeRow struct {
	ID    string `json:"id"`
	Value uint64 `json:"value"`
}

// RankedRow is the state of one entity of a ranked set. Deleted rows left the set.
type RankedRow struct {
	Set     string `json:"set"`
	Entity  string `json:"entity"`
	Metric  int64  `json:"metric"`
	Rank    uint64 `json:"rank"`
	Deleted bool   `json:"deleted,omitempty"`
}

// VoteRow is a voter's current regen vote for an organization.
type VoteRow struct {
	Org     string `json:"org"`
	Voter   string `json:"voter"`
	Amount  int64  `json:"amount"`
	Deleted bool   `json:"deleted,omitempty"`
}

// Changeset is everything one unit of work changed, in the order it happened.
// Aggregates and rollups are deltas; every other row carries its new state.
type Changeset struct {
	Reset     bool             `json:"reset,omitempty"`
	Transfers []Transfer       `json:"transfers,omitempty"`
	Records   []Record         `json:"records,omitempty"`
	Evicted   []Record         `json:"evicted,omitempty"`
	Deltas    []AggregateDelta `json:"deltas,omitempty"`
	Rollups   []Rollup         `json:"rollups,omitempty"`
	Sizes     []SizeRow        `json:"sizes,omitempty"`
	Statuses  []StatusEntry    `json:"statuses,omitempty"`
	History   []HistoryEntry   `json:"history,omitempty"`
	Ranked    []RankedRow      `json:"ranked,omitempty"`
	Votes     []VoteRow        `json:"votes,omitempty"`
}

func (c *Changeset) Empty() bool {
	return !c.Reset && len(c.Transfers) == 0 && len(c.Records) == 0 && len(c.Evicted) == 0 &&
		len(c.Deltas) == 0 && len(c.Rollups) == 0 && len(c.Sizes) == 0 && len(c.Statuses) == 0 &&
		len(c.History) == 0 && len(c.Ranked) == 0 && len(c.Votes) == 0
}

// Sink receives every committed changeset before the unit of work is released.
// An error rolls the unit back.
type Sink interface {
	Commit(ctx context.Context, cs *Changeset) error
}

// TransferLog pages through logged transfers by sequence number.
type TransferLog interface {
	Page(ctx context.Context, afterSeq uint64, limit int) ([]Transfer, error)
}

type NopSink struct{}

func (NopSink) Commit(context.Context, *Changeset) error { return nil }

// MultiSink commits to every sink in order and stops at the first failure.
type MultiSink []Sink

func (m MultiSink) Commit(ctx context.Context, cs *Changeset) error {
	for _, s := range m {
		if err := s.Commit(ctx, cs); err != nil {
			return err
		}
	}
	return nil
}

// MemoryLog keeps committed changesets and the transfer log in memory.
type MemoryLog struct {
	mu         sync.Mutex
	changesets []*Changeset
	transfers  []Transfer
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) Commit(_ context.Context, cs *Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changesets = append(m.changesets, cs)
	m.transfers = append(m.transfers, cs.Transfers...)
	return nil
}

func (m *MemoryLog) Page(_ context.Context, afterSeq uint64, limit int) ([]Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.transfers), func(i int) bool { return m.transfers[i].Seq > afterSeq })
	end := len(m.transfers)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	return append([]Transfer(nil), m.transfers[i:end]...), nil
}

// Changesets returns what was committed so far.
func (m *MemoryLog) Changesets() []*Changeset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Changeset(nil), m.changesets...)
}

type scheduled struct {
	job   scheduler.Job
	delay int
}

// Tx is an open unit of work. Every mutation is applied in place and paired with an
// undo step; the unit is rolled back if any step or the sink fails.
type Tx struct {
	ctx   context.Context
	l     *Ledger
	cs    *Changeset
	undo  []func()
	jobs  []scheduled
	after []func(ctx context.Context) error
}

func (tx *Tx) Context() context.Context { return tx.ctx }

// Changes exposes the changeset staged so far.
func (tx *Tx) Changes() *Changeset { return tx.cs }

func (tx *Tx) Now() time.Time { return tx.l.now() }

// OnRollback registers an undo step for state kept outside the ledger.
func (tx *Tx) OnRollback(fn func()) { tx.undo = append(tx.undo, fn) }

// AfterCommit runs fn once the unit is committed and released.
func (tx *Tx) AfterCommit(fn func(ctx context.Context) error) { tx.after = append(tx.after, fn) }

// Schedule queues a job; jobs are handed to the scheduler once the sink committed.
func (tx *Tx) Schedule(job scheduler.Job, delayTicks int) {
	tx.jobs = append(tx.jobs, scheduled{job: job, delay: delayTicks})
}

func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// LogTransfer assigns the next sequence number and stages the transfer for the log.
func (tx *Tx) LogTransfer(t Transfer) Transfer {
	tx.l.transferSeq++
	t.Seq = tx.l.transferSeq
	tx.OnRollback(func() { tx.l.transferSeq-- })
	tx.cs.Transfers = append(tx.cs.Transfers, t)
	return t
}

func (tx *Tx) NextRecordID(day int64) uint64 {
	id := tx.l.window.NextID(day)
	w := tx.l.window
	tx.OnRollback(func() { w.releaseID(day, id) })
	return id
}

func (tx *Tx) PutRecord(r Record) error {
	w := tx.l.window
	if err := w.Put(r); err != nil {
		return err
	}
	tx.OnRollback(func() { w.Delete(r.Ref()) })
	tx.cs.Records = append(tx.cs.Records, r)
	return nil
}

// DeleteRecord removes a record without touching any aggregate.
func (tx *Tx) DeleteRecord(ref RecordRef) (Record, bool) {
	w := tx.l.window
	r, ok := w.Delete(ref)
	if !ok {
		return Record{}, false
	}
	tx.OnRollback(func() { _ = w.Put(r) })
	tx.cs.Evicted = append(tx.cs.Evicted, r)
	return r, true
}

func (tx *Tx) MarkSettled(ref RecordRef) error {
	w := tx.l.window
	prev, ok := w.SetSettled(ref, true)
	if !ok {
		return fmt.Errorf("settle record %d of day %d: record is gone: %w", ref.ID, ref.Day, ErrInvariantViolation)
	}
	tx.OnRollback(func() { w.SetSettled(ref, prev.Settled) })
	next := prev
	next.Settled = true
	tx.cs.Records = append(tx.cs.Records, next)
	return nil
}

func (tx *Tx) Record(ref RecordRef) (Record, bool) { return tx.l.window.Get(ref) }

func (tx *Tx) Pair(day int64, from, to string) []Record { return tx.l.window.Pair(day, from, to) }

func (tx *Tx) Unsettled(from string) []RecordRef { return tx.l.window.Unsettled(from) }

func (tx *Tx) Received(to string, fn func(Record) bool) { tx.l.window.Received(to, fn) }

func (tx *Tx) DayRecords(day int64) []Record { return tx.l.window.Day(day) }

func (tx *Tx) ApplyDelta(key AggregateKey, amount int64) {
	a := tx.l.aggregates
	existed := a.ApplyDelta(key, amount)
	tx.OnRollback(func() {
		if !existed {
			a.drop(key)
			return
		}
		a.ApplyDelta(key, -amount)
	})
	tx.cs.Deltas = append(tx.cs.Deltas, AggregateDelta{Key: key, Amount: amount})
}

func (tx *Tx) AddRollup(d Rollup) {
	r := tx.l.rollups
	prev, existed := r.Add(d)
	prev.Account = d.Account
	tx.OnRollback(func() { r.restore(prev, existed) })
	tx.cs.Rollups = append(tx.cs.Rollups, d)
}

func (tx *Tx) Rollup(account string) (Rollup, bool) { return tx.l.rollups.Get(account) }

func (tx *Tx) Size(id string) uint64 { return tx.l.sizes.Get(id) }

func (tx *Tx) ChangeSize(id string, delta int64) uint64 {
	s := tx.l.sizes
	prev, existed := s.lookup(id)
	n := s.Change(id, delta)
	tx.OnRollback(func() { s.restoreSize(id, prev, existed) })
	tx.cs.Sizes = append(tx.cs.Sizes, SizeRow{ID: id, Value: n})
	return n
}

func (tx *Tx) SetSize(id string, n uint64) {
	s := tx.l.sizes
	prev, existed := s.lookup(id)
	s.Set(id, n)
	tx.OnRollback(func() { s.restoreSize(id, prev, existed) })
	tx.cs.Sizes = append(tx.cs.Sizes, SizeRow{ID: id, Value: n})
}

// AddStatus lists an account; listing it twice is a duplicate.
func (tx *Tx) AddStatus(list StatusList, account string) (StatusEntry, error) {
	b := tx.l.statuses
	if b.has(list, account) {
		return StatusEntry{}, fmt.Errorf("%s already lists %s: %w", list, account, ErrDuplicateKey)
	}
	e := StatusEntry{List: list, ID: b.nextID(list), Account: account, Timestamp: tx.Now().Unix()}
	b.append(e)
	tx.OnRollback(func() { b.pop(list) })
	tx.cs.Statuses = append(tx.cs.Statuses, e)
	tx.ChangeSize(list.SizeID(), 1)
	return e, nil
}

func (tx *Tx) StatusCount(list StatusList) int { return len(tx.l.statuses.lists[list]) }

func (tx *Tx) AddHistory(account, action string, amount int64, meta string) HistoryEntry {
	h := tx.l.history
	e := HistoryEntry{
		ID:        h.seq,
		Account:   account,
		Action:    action,
		Amount:    amount,
		Meta:      meta,
		Timestamp: tx.Now().Unix(),
	}
	h.append(e)
	tx.OnRollback(func() { h.pop(account) })
	tx.cs.History = append(tx.cs.History, e)
	return e
}

// StageRanked records a ranked-set change made by a collaborator holding its own state.
func (tx *Tx) StageRanked(r RankedRow) { tx.cs.Ranked = append(tx.cs.Ranked, r) }

// StageVote records a vote change made by a collaborator holding its own state.
func (tx *Tx) StageVote(v VoteRow) { tx.cs.Votes = append(tx.cs.Votes, v) }

// resetState swaps every ledger structure for an empty one. The transfer log and its
// sequence survive so the ledger can be rebuilt by replay.
func (tx *Tx) resetState() {
	l := tx.l
	window, aggregates, rollups, sizes, statuses, history := l.window, l.aggregates, l.rollups, l.sizes, l.statuses, l.history
	l.window = NewWindow()
	l.aggregates = NewAggregates()
	l.rollups = NewRollups()
	l.sizes = NewSizeCounters()
	l.statuses = newStatusBook()
	l.history = newHistoryBook()
	tx.OnRollback(func() {
		l.window, l.aggregates, l.rollups, l.sizes, l.statuses, l.history = window, aggregates, rollups, sizes, statuses, history
	})
	tx.cs.Reset = true
}

// Do runs fn as one serialized unit of work. Nothing fn changed survives an error from
// fn or from the sink. Queued jobs reach the scheduler only after the sink committed;
// a job the scheduler then refuses is marked failed in the tracker and reported as a
// *scheduler.UnscheduledError without undoing the commit. AfterCommit callbacks run
// once the ledger is released.
func (l *Ledger) Do(ctx context.Context, fn func(tx *Tx) error) error {
	tx := &Tx{ctx: ctx, l: l, cs: &Changeset{}}
	committed, err := l.do(ctx, tx, fn)
	if !committed {
		return err
	}
	errs := []error{err}
	for _, after := range tx.after {
		if err := after(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Ledger) do(ctx context.Context, tx *Tx, fn func(tx *Tx) error) (committed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			if !committed {
				tx.rollback()
			}
			panic(r)
		}
		if err != nil && !committed {
			tx.rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return false, err
	}
	for _, s := range tx.jobs {
		if err = scheduler.Validate(s.job, s.delay); err != nil {
			return false, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
	}
	if !tx.cs.Empty() {
		if err = l.sink.Commit(ctx, tx.cs); err != nil {
			return false, fmt.Errorf("commit changeset: %w", err)
		}
	}
	committed = true

	var errs []error
	for _, s := range tx.jobs {
		if serr := l.scheduler.Schedule(ctx, s.job, s.delay); serr != nil {
			l.scheduler.Tracker().Fail(s.job, serr)
			l.logger.Error("committed unit left a job unscheduled",
				zap.String("owner", s.job.Owner),
				zap.String("kind", s.job.Kind),
				zap.Error(serr))
			errs = append(errs, &scheduler.UnscheduledError{Job: s.job, Err: serr})
		}
	}
	return true, errors.Join(errs...)
}

// View runs fn with the ledger read-locked.
func (l *Ledger) View(fn func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
}
