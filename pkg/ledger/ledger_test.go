package ledger_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/registry"
	"github.com/canopy-network/repledger/pkg/scheduler"
	"github.com/canopy-network/repledger/pkg/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	testDay = int64(1699920000)
	unit    = int64(10000)
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []ledger.PointsChanged
}

func (n *recordingNotifier) PointsChanged(_ context.Context, ev ledger.PointsChanged) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) Events() []ledger.PointsChanged {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ledger.PointsChanged(nil), n.events...)
}

type failingSink struct{ err error }

func (f failingSink) Commit(context.Context, *ledger.Changeset) error { return f.err }

type fixture struct {
	ctx      context.Context
	sched    *scheduler.Memory
	settings *settings.Store
	registry *registry.Memory
	log      *ledger.MemoryLog
	notes    *recordingNotifier
	ledger   *ledger.Ledger
}

func newFixture(t *testing.T, sinks ...ledger.Sink) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		ctx:      context.Background(),
		sched:    scheduler.NewMemory(logger),
		settings: settings.NewStore(),
		registry: registry.NewMemory(),
		log:      ledger.NewMemoryLog(),
		notes:    &recordingNotifier{},
	}
	f.settings.SetInt(ledger.KeyQualifyingCap, 10_000_000)
	f.settings.SetInt(ledger.KeyIndividualPointsCap, 1_000_000)
	f.settings.SetInt(ledger.KeyOrganizationPointsCap, 5_000_000)
	f.settings.SetInt(ledger.KeyWindowCap, 3)
	f.settings.SetInt(ledger.KeyBatchSize, 2)
	f.settings.SetFloat(ledger.KeyRegenMultiplier, 1.5)
	f.settings.SetFloat(ledger.KeyLocalMultiplier, 1.5)

	for _, a := range []ledger.Account{
		{Name: "alice", Type: ledger.TypeIndividual, RepMultiplier: 1},
		{Name: "bob", Type: ledger.TypeIndividual, RepMultiplier: 1},
		{Name: "org1", Type: ledger.TypeOrganization, RepMultiplier: 1},
		{Name: "org2", Type: ledger.TypeOrganization, RepMultiplier: 1},
	} {
		require.NoError(t, f.registry.Upsert(f.ctx, a))
	}

	sink := ledger.Sink(f.log)
	if len(sinks) > 0 {
		sink = ledger.MultiSink(append([]ledger.Sink{f.log}, sinks...))
	}
	l, err := ledger.New(ledger.Options{
		Logger:      logger,
		Settings:    f.settings,
		Registry:    f.registry,
		Scheduler:   f.sched,
		Notifier:    f.notes,
		Sink:        sink,
		TransferLog: f.log,
		Symbol:      "SEEDS",
		Clock:       func() time.Time { return time.Unix(testDay+3600, 0) },
	})
	require.NoError(t, err)
	f.ledger = l
	return f
}

func (f *fixture) transfer(from, to string, amount int64) ledger.Transfer {
	return ledger.Transfer{
		From:      from,
		To:        to,
		Quantity:  ledger.Quantity{Amount: amount, Symbol: "SEEDS"},
		Timestamp: testDay + 60,
	}
}

func (f *fixture) insert(t *testing.T, from, to string, amount int64) ledger.InsertResult {
	t.Helper()
	res, err := f.ledger.Insert(f.ctx, f.transfer(from, to, amount))
	require.NoError(t, err)
	require.True(t, res.Accepted)
	return res
}

func volumes(rs []ledger.Record) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Volume)
	}
	return out
}

func TestInsertComputesPointsAndRollups(t *testing.T) {
	f := newFixture(t)
	res := f.insert(t, "alice", "org1", 25*unit)

	r := res.Record
	require.Equal(t, testDay, r.Day)
	require.Equal(t, uint64(0), r.ID)
	require.Equal(t, uint64(25), r.FromPoints)
	require.Equal(t, uint64(25), r.ToPoints)
	require.Equal(t, 25*unit, r.QualifyingVolume)
	require.False(t, r.Settled)

	alice, ok := f.ledger.Rollup("alice")
	require.True(t, ok)
	require.Equal(t, 25*unit, alice.TotalVolume)
	require.Equal(t, uint64(1), alice.TotalTransactions)
	require.Equal(t, uint64(1), alice.OutgoingToOrgs)

	f.insert(t, "org1", "bob", 5*unit)
	bob, ok := f.ledger.Rollup("bob")
	require.True(t, ok)
	require.Equal(t, uint64(1), bob.IncomingFromOrgs)
	require.Equal(t, uint64(0), bob.TotalTransactions)

	// nothing is committed to the totals before settlement
	require.Zero(t, f.ledger.Points("alice", testDay))
}

func TestInsertAppliesCapsAndMultipliers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.registry.Upsert(f.ctx, ledger.Account{Name: "alice", Type: ledger.TypeIndividual, RepMultiplier: 1, Region: "eu"}))
	require.NoError(t, f.registry.Upsert(f.ctx, ledger.Account{
		Name: "org1", Type: ledger.TypeOrganization, Status: ledger.StatusRegenerative, RepMultiplier: 2, Region: "eu",
	}))

	r := f.insert(t, "alice", "org1", 10*unit).Record
	// org1 is worth 2 * regen 1.5 * local 1.5 to alice, alice is worth 1 * local 1.5 to org1
	require.Equal(t, uint64(45), r.FromPoints)
	require.Equal(t, uint64(15), r.ToPoints)

	r = f.insert(t, "bob", "alice", 500*unit).Record
	require.Equal(t, uint64(100), r.FromPoints, "individual cap")
	require.Zero(t, r.ToPoints, "individuals receive no points")
	require.Equal(t, 500*unit, r.QualifyingVolume)

	r = f.insert(t, "bob", "alice", 2000*unit).Record
	require.Equal(t, int64(10_000_000), r.QualifyingVolume, "qualifying cap")
}

func TestInsertIgnoresForeignUnitAndUnknownParties(t *testing.T) {
	f := newFixture(t)
	tr := f.transfer("alice", "bob", unit)
	tr.Quantity.Symbol = "TESTS"
	res, err := f.ledger.Insert(f.ctx, tr)
	require.NoError(t, err)
	require.False(t, res.Accepted)

	res, err = f.ledger.Insert(f.ctx, f.transfer("alice", "mallory", unit))
	require.NoError(t, err)
	require.False(t, res.Accepted)

	res, err = f.ledger.Insert(f.ctx, f.transfer("mallory", "alice", unit))
	require.NoError(t, err)
	require.False(t, res.Accepted)

	require.Zero(t, f.ledger.Records())
	require.Zero(t, f.sched.Len())
	_, ok := f.ledger.Rollup("alice")
	require.False(t, ok)
}

func TestInsertWithMissingConfigChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.settings.Delete(ledger.KeyLocalMultiplier)

	_, err := f.ledger.Insert(f.ctx, f.transfer("alice", "bob", unit))
	require.ErrorIs(t, err, ledger.ErrConfigMissing)
	require.Zero(t, f.ledger.Records())
	require.Zero(t, f.sched.Len())
	require.Empty(t, f.log.Changesets())
}

func TestSinkFailureRollsBack(t *testing.T) {
	f := newFixture(t, failingSink{err: errors.New("clickhouse unavailable")})
	_, err := f.ledger.Insert(f.ctx, f.transfer("alice", "org1", unit))
	require.Error(t, err)

	require.Zero(t, f.ledger.Records())
	_, ok := f.ledger.Rollup("alice")
	require.False(t, ok)
	require.Empty(t, f.ledger.Unsettled("alice"))
	require.Zero(t, f.sched.Len(), "a rolled back insert schedules nothing")
}

type refusingScheduler struct {
	*scheduler.Memory
	err error
}

func (r *refusingScheduler) Schedule(ctx context.Context, job scheduler.Job, delayTicks int) error {
	if r.err != nil {
		return r.err
	}
	return r.Memory.Schedule(ctx, job, delayTicks)
}

func TestRefusedScheduleKeepsTheCommit(t *testing.T) {
	f := newFixture(t)
	sched := &refusingScheduler{Memory: f.sched, err: errors.New("temporal unavailable")}
	l, err := ledger.New(ledger.Options{
		Logger:    zaptest.NewLogger(t),
		Settings:  f.settings,
		Registry:  f.registry,
		Scheduler: sched,
		Sink:      f.log,
		Clock:     func() time.Time { return time.Unix(testDay+3600, 0) },
	})
	require.NoError(t, err)

	_, err = l.Insert(f.ctx, f.transfer("alice", "org1", unit))
	var unscheduled *scheduler.UnscheduledError
	require.ErrorAs(t, err, &unscheduled)
	assert.Equal(t, ledger.SettleOwner("alice"), unscheduled.Job.Owner)
	require.Equal(t, 1, l.Records())
	require.Len(t, f.log.Changesets(), 1)
	require.Zero(t, f.sched.Len())

	failed := f.sched.Tracker().Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, unscheduled.Job, failed[0].Job)
	assert.Zero(t, failed[0].Runs)

	sched.err = nil
	require.NoError(t, sched.Schedule(f.ctx, failed[0].Job, 1))
	require.Equal(t, 1, f.sched.Tick(f.ctx))
	require.Empty(t, l.Unsettled("alice"))
	assert.Equal(t, int64(1), l.Points("alice", testDay))
	assert.Empty(t, f.sched.Tracker().Failed())
}

func TestTwoInsertsLeaveOnePendingSettle(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "alice", "bob", 10*unit)
	f.insert(t, "alice", "org1", 5*unit)

	require.Equal(t, 1, f.sched.Len())
	job, ok := f.sched.Pending(ledger.SettleOwner("alice"))
	require.True(t, ok)
	require.Equal(t, ledger.KindSettle, job.Kind)

	// the surviving Settle commits both records
	require.Equal(t, 1, f.sched.Tick(f.ctx))
	require.Empty(t, f.ledger.Unsettled("alice"))
	require.Equal(t, int64(15), f.ledger.Points("alice", testDay))
	require.Equal(t, int64(5), f.ledger.Points("org1", testDay))
	require.Equal(t, 15*unit, f.ledger.QualifyingVolume("alice", testDay))
	require.Equal(t, 15*unit, f.ledger.GlobalQualifyingVolume(testDay))
}

func TestSettleEvictsMinimumVolume(t *testing.T) {
	f := newFixture(t)
	for _, v := range []int64{10, 5, 20, 1} {
		f.insert(t, "alice", "bob", v*unit)
		f.sched.Tick(f.ctx)
	}

	pair := f.ledger.Pair(testDay, "alice", "bob")
	require.Equal(t, []int64{10 * unit, 5 * unit, 20 * unit}, volumes(pair))
	require.Equal(t, int64(35), f.ledger.Points("alice", testDay))
	require.Equal(t, 35*unit, f.ledger.QualifyingVolume("alice", testDay))

	// the last settlement evicted its own record and committed nothing
	var last *ledger.Changeset
	for _, cs := range f.log.Changesets() {
		if len(cs.Evicted) > 0 {
			last = cs
		}
	}
	require.NotNil(t, last)
	require.Len(t, last.Evicted, 1)
	require.Equal(t, 1*unit, last.Evicted[0].Volume)
	for _, d := range last.Deltas {
		require.Zero(t, d.Amount, "delta for %+v", d.Key)
	}
}

func TestSettleEvictsSettledRecordAndNetsItOut(t *testing.T) {
	f := newFixture(t)
	for _, v := range []int64{10, 5, 20} {
		f.insert(t, "alice", "org1", v*unit)
		f.sched.Tick(f.ctx)
	}
	require.Equal(t, int64(35), f.ledger.Points("org1", testDay))

	f.insert(t, "alice", "org1", 8*unit)
	f.sched.Tick(f.ctx)

	require.Equal(t, []int64{10 * unit, 20 * unit, 8 * unit}, volumes(f.ledger.Pair(testDay, "alice", "org1")))
	require.Equal(t, int64(38), f.ledger.Points("alice", testDay))
	require.Equal(t, int64(38), f.ledger.Points("org1", testDay))
	require.Equal(t, 38*unit, f.ledger.GlobalQualifyingVolume(testDay))
}

func TestSettleBatchKeepsCap(t *testing.T) {
	f := newFixture(t)
	for _, v := range []int64{10, 5, 20, 1} {
		f.insert(t, "alice", "bob", v*unit)
	}
	require.Equal(t, 1, f.sched.Tick(f.ctx))
	require.Equal(t, []int64{10 * unit, 5 * unit, 20 * unit}, volumes(f.ledger.Pair(testDay, "alice", "bob")))
	require.Equal(t, int64(35), f.ledger.Points("alice", testDay))
}

func TestSettleWithMissingCapFailsWithoutChanges(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "alice", "bob", unit)
	f.settings.Delete(ledger.KeyWindowCap)
	before := len(f.log.Changesets())

	f.sched.Tick(f.ctx)

	st, ok := f.sched.Tracker().Status(ledger.SettleOwner("alice"))
	require.True(t, ok)
	require.True(t, st.Failed)
	require.Contains(t, st.LastErr, ledger.KeyWindowCap)
	require.Len(t, f.log.Changesets(), before)
	require.Len(t, f.ledger.Unsettled("alice"), 1)
	require.Zero(t, f.sched.Len(), "failed jobs are not resubmitted")

	f.settings.SetInt(ledger.KeyWindowCap, 3)
	n, err := f.ledger.RescheduleUnsettled(f.ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	f.sched.Tick(f.ctx)
	require.Empty(t, f.ledger.Unsettled("alice"))
	require.Equal(t, int64(1), f.ledger.Points("alice", testDay))
}

func TestSettleNotifiesIndividualsOnly(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "alice", "bob", 10*unit)
	f.insert(t, "org1", "bob", 10*unit)
	f.sched.Drain(f.ctx, 10)

	events := f.notes.Events()
	require.Len(t, events, 1)
	require.Equal(t, "alice", events[0].Account)
	require.Equal(t, testDay, events[0].Day)
	require.Equal(t, int64(10), events[0].DayPoints)
	require.Equal(t, 10*unit, events[0].Rollup.TotalVolume)
}

func TestWindowCapAndTotalsHoldForRandomTraffic(t *testing.T) {
	f := newFixture(t)
	f.settings.SetInt(ledger.KeyWindowCap, 4)
	accounts := []string{"alice", "bob", "org1", "org2"}
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 400; i++ {
		from := accounts[rnd.Intn(len(accounts))]
		to := accounts[rnd.Intn(len(accounts))]
		if from == to {
			continue
		}
		f.insert(t, from, to, int64(1+rnd.Intn(60))*unit)
		if rnd.Intn(3) == 0 {
			f.sched.Tick(f.ctx)
		}
	}
	f.sched.Drain(f.ctx, 10)

	committed := make(map[ledger.AggregateKey]int64)
	for _, cs := range f.log.Changesets() {
		for _, d := range cs.Deltas {
			committed[d.Key] += d.Amount
		}
	}

	surviving := make(map[string]int64)
	for _, from := range accounts {
		for _, to := range accounts {
			pair := f.ledger.Pair(testDay, from, to)
			assert.LessOrEqual(t, len(pair), 4, "%s -> %s", from, to)
			for _, r := range pair {
				require.True(t, r.Settled)
				surviving[r.From] += int64(r.FromPoints)
				if to == "org1" || to == "org2" {
					surviving[r.To] += int64(r.ToPoints)
				}
			}
		}
	}
	for _, acc := range accounts {
		points := f.ledger.Points(acc, testDay)
		require.Equal(t, committed[ledger.PointsKey(acc, testDay)], points, acc)
		require.Equal(t, surviving[acc], points, acc)
	}
}

func TestStatusListsAndRecount(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.AddStatus(f.ctx, ledger.ListResidents, "alice")
	require.NoError(t, err)
	_, err = f.ledger.AddStatus(f.ctx, ledger.ListResidents, "alice")
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)
	_, err = f.ledger.AddStatus(f.ctx, ledger.ListReputables, "alice")
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
	_, err = f.ledger.AddStatus(f.ctx, ledger.ListCitizens, "ghost")
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)
	e, err := f.ledger.AddStatus(f.ctx, ledger.ListReputables, "org1")
	require.NoError(t, err)
	require.Equal(t, uint64(0), e.ID)

	require.Equal(t, uint64(1), f.ledger.Size(ledger.SizeResidents))
	require.Equal(t, uint64(1), f.ledger.Size(ledger.SizeReputables))

	err = f.ledger.Do(f.ctx, func(tx *ledger.Tx) error {
		tx.SetSize(ledger.SizeResidents, 40)
		return nil
	})
	require.NoError(t, err)
	counts, err := f.ledger.Recount(f.ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), counts[ledger.SizeResidents])
	require.Equal(t, uint64(1), f.ledger.Size(ledger.SizeResidents))
	require.Equal(t, uint64(0), f.ledger.Size(ledger.SizeCitizens))
}

func TestSizeCounterClampsAtZero(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.Do(f.ctx, func(tx *ledger.Tx) error {
		require.Equal(t, uint64(0), tx.ChangeSize("x", -3))
		require.Equal(t, uint64(2), tx.ChangeSize("x", 2))
		require.Equal(t, uint64(0), tx.ChangeSize("x", -5))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.ledger.Size("x"))
	require.Equal(t, uint64(0), f.ledger.Size("never"))
}

func TestDoRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	err := f.ledger.Do(f.ctx, func(tx *ledger.Tx) error {
		tx.ChangeSize(ledger.SizeTxScores, 4)
		tx.ApplyDelta(ledger.PointsKey("alice", testDay), 9)
		tx.AddHistory("alice", "planted", 3, "")
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, f.ledger.Size(ledger.SizeTxScores))
	require.Zero(t, f.ledger.Points("alice", testDay))
	require.Empty(t, f.ledger.History("alice"))
	require.Empty(t, f.log.Changesets())
}

func TestHistoryEntries(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.AddHistoryEntry(f.ctx, "alice", "planted", 100, "first")
	require.NoError(t, err)
	_, err = f.ledger.AddHistoryEntry(f.ctx, "alice", "unplanted", -40, "")
	require.NoError(t, err)
	_, err = f.ledger.AddHistoryEntry(f.ctx, "ghost", "planted", 1, "")
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)

	h := f.ledger.History("alice")
	require.Len(t, h, 2)
	require.Equal(t, "planted", h[0].Action)
	require.Equal(t, uint64(1), h[1].ID)
}

func TestPurgeDayKeepsTotals(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "alice", "bob", 10*unit)
	f.insert(t, "bob", "alice", 3*unit)
	f.sched.Drain(f.ctx, 10)

	_, err := f.ledger.PurgeDay(f.ctx, testDay+1)
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)

	n, err := f.ledger.PurgeDay(f.ctx, testDay)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Zero(t, f.ledger.Records())
	require.Equal(t, int64(10), f.ledger.Points("alice", testDay))
}

func TestResetAndReplayRebuildTheLedger(t *testing.T) {
	f := newFixture(t)
	for _, v := range []int64{10, 5, 20, 1, 7} {
		f.insert(t, "alice", "org1", v*unit)
		f.sched.Tick(f.ctx)
	}
	f.insert(t, "bob", "alice", 4*unit)
	f.sched.Drain(f.ctx, 10)

	alice := f.ledger.Points("alice", testDay)
	org := f.ledger.Points("org1", testDay)
	records := f.ledger.Records()
	rollup, _ := f.ledger.Rollup("alice")

	require.NoError(t, f.ledger.Reset(f.ctx))
	require.Zero(t, f.ledger.Records())
	require.Zero(t, f.ledger.Points("alice", testDay))
	_, ok := f.ledger.Rollup("alice")
	require.False(t, ok)

	require.NoError(t, f.ledger.StartReplay(f.ctx, 0))
	f.sched.Drain(f.ctx, 20)

	require.Equal(t, alice, f.ledger.Points("alice", testDay))
	require.Equal(t, org, f.ledger.Points("org1", testDay))
	require.Equal(t, records, f.ledger.Records())
	got, _ := f.ledger.Rollup("alice")
	require.Equal(t, rollup, got)

	st, ok := f.sched.Tracker().Status(ledger.ReplayOwner)
	require.True(t, ok)
	require.False(t, st.Failed)
	require.Equal(t, uint64(4), st.Runs, "six transfers in chunks of two end with an empty chunk")

	// replayed transfers are not logged again
	page, err := f.log.Page(f.ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, page, 6)
}

func TestRestoreRebuildsIndexes(t *testing.T) {
	f := newFixture(t)
	err := f.ledger.Restore(&ledger.Snapshot{
		Records: []ledger.Record{
			{Day: testDay, ID: 0, From: "alice", To: "bob", Volume: unit, FromPoints: 1, Settled: true},
			{Day: testDay, ID: 1, From: "alice", To: "bob", Volume: 2 * unit, FromPoints: 2},
		},
		Aggregates:  []ledger.AggregateRow{{Key: ledger.PointsKey("alice", testDay), Value: 1}},
		Sizes:       []ledger.SizeRow{{ID: ledger.SizeTxScores, Value: 3}},
		TransferSeq: 2,
	})
	require.NoError(t, err)
	require.Equal(t, []ledger.RecordRef{{Day: testDay, ID: 1}}, f.ledger.Unsettled("alice"))
	require.Equal(t, uint64(3), f.ledger.Size(ledger.SizeTxScores))

	res := f.insert(t, "alice", "bob", unit)
	require.Equal(t, uint64(2), res.Record.ID)
	page, err := f.log.Page(f.ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(3), page[0].Seq)

	f.sched.Tick(f.ctx)
	require.Equal(t, int64(4), f.ledger.Points("alice", testDay))
}
