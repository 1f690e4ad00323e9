package ranking_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/ranking"
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

type switchSink struct{ err error }

func (s *switchSink) Commit(context.Context, *ledger.Changeset) error { return s.err }

type fixture struct {
	ctx      context.Context
	sched    *scheduler.Memory
	settings *settings.Store
	registry *registry.Memory
	sink     *switchSink
	ledger   *ledger.Ledger
	engine   *ranking.Engine
}

func newFixture(t *testing.T, orgs ...string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		ctx:      context.Background(),
		sched:    scheduler.NewMemory(logger),
		settings: settings.NewStore(),
		registry: registry.NewMemory(),
		sink:     &switchSink{},
	}
	f.settings.Seed(settings.Defaults())
	f.settings.SetInt(ledger.KeyWindowCap, 10)
	f.settings.SetInt(ledger.KeyBatchSize, 2)

	for _, name := range orgs {
		f.account(t, ledger.Account{Name: name, Type: ledger.TypeOrganization, RepMultiplier: 1})
	}
	l, err := ledger.New(ledger.Options{
		Logger:    logger,
		Settings:  f.settings,
		Registry:  f.registry,
		Scheduler: f.sched,
		Sink:      f.sink,
		Clock:     func() time.Time { return time.Unix(testDay+3600, 0) },
	})
	require.NoError(t, err)
	f.ledger = l
	f.engine = ranking.New(logger, l, f.registry)
	return f
}

func (f *fixture) account(t *testing.T, a ledger.Account) {
	t.Helper()
	require.NoError(t, f.registry.Upsert(f.ctx, a))
}

func (f *fixture) transfer(t *testing.T, from, to string, amount, ts int64) {
	t.Helper()
	res, err := f.ledger.Insert(f.ctx, ledger.Transfer{
		From:      from,
		To:        to,
		Quantity:  ledger.Quantity{Amount: amount, Symbol: "SEEDS"},
		Timestamp: ts,
	})
	require.NoError(t, err)
	require.True(t, res.Accepted)
}

func (f *fixture) ranks(t *testing.T, set string) map[string]uint64 {
	t.Helper()
	rows, next, err := f.engine.Ranks(set, "", 0)
	require.NoError(t, err)
	require.Empty(t, next)
	out := make(map[string]uint64, len(rows))
	for _, r := range rows {
		out[r.Entity] = r.Rank
	}
	return out
}

func TestMedian(t *testing.T) {
	assert.Equal(t, int64(0), ranking.Median(nil))
	assert.Equal(t, int64(7), ranking.Median([]int64{7}))
	assert.Equal(t, int64(3), ranking.Median([]int64{9, 1, 3}))
	// even counts average the central pair with integer division
	assert.Equal(t, int64(2), ranking.Median([]int64{4, 1, 2, 3}))
	assert.Equal(t, int64(-2), ranking.Median([]int64{-5, 1}))

	in := []int64{3, 1, 2}
	ranking.Median(in)
	assert.Equal(t, []int64{3, 1, 2}, in)
}

func TestAssignRanksWalksInChunks(t *testing.T) {
	orgs := []string{"o1", "o2", "o3", "o4", "o5"}
	f := newFixture(t, orgs...)
	for i, org := range orgs {
		_, err := f.engine.AddCommunityPoints(f.ctx, org, int64(10*(i+1)))
		require.NoError(t, err)
	}
	require.Equal(t, uint64(5), f.ledger.Size(ledger.SizeCbScores))

	require.NoError(t, f.engine.Start(f.ctx, ranking.SetCbs, 2))
	f.sched.Drain(f.ctx, 10)

	st, ok := f.sched.Tracker().Status(ranking.RankOwner(ranking.SetCbs))
	require.True(t, ok)
	assert.Equal(t, uint64(3), st.Runs)
	assert.False(t, st.Failed)
	assert.Equal(t, map[string]uint64{"o1": 0, "o2": 20, "o3": 40, "o4": 60, "o5": 80}, f.ranks(t, ranking.SetCbs))
}

func TestAssignRanksChunkReturnsContinuation(t *testing.T) {
	f := newFixture(t, "o1", "o2", "o3")
	for i, org := range []string{"o1", "o2", "o3"} {
		_, err := f.engine.AddCommunityPoints(f.ctx, org, int64(i+1))
		require.NoError(t, err)
	}

	next, more, err := f.engine.AssignRanks(f.ctx, ranking.SetCbs, scheduler.Continuation{ChunkSize: 2})
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, uint64(1), next.Chunk)
	assert.Equal(t, "3|o3", next.Cursor)

	job, ok := f.sched.Pending(ranking.RankOwner(ranking.SetCbs))
	require.True(t, ok)
	assert.Equal(t, ranking.KindRank, job.Kind)

	_, more, err = f.engine.AssignRanks(f.ctx, ranking.SetCbs, next)
	require.NoError(t, err)
	require.False(t, more)
	assert.Equal(t, map[string]uint64{"o1": 0, "o2": 33, "o3": 66}, f.ranks(t, ranking.SetCbs))
}

func TestAssignRanksOnEmptySetIsNoop(t *testing.T) {
	f := newFixture(t)
	_, more, err := f.engine.AssignRanks(f.ctx, ranking.SetTx, scheduler.Continuation{ChunkSize: 2})
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, 0, f.sched.Len())

	_, _, err = f.engine.AssignRanks(f.ctx, "nope", scheduler.Continuation{ChunkSize: 2})
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
	_, _, err = f.engine.AssignRanks(f.ctx, ranking.SetTx, scheduler.Continuation{})
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
}

func TestStartUsesBatchSize(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.engine.Start(f.ctx, ranking.SetRegen, 0))
	job, ok := f.sched.Pending(ranking.OwnerCalcRegen)
	require.True(t, ok)

	var c scheduler.Continuation
	require.NoError(t, job.Decode(&c))
	assert.Equal(t, uint64(2), c.ChunkSize)

	f.settings.Delete(ledger.KeyBatchSize)
	require.ErrorIs(t, f.engine.Start(f.ctx, ranking.SetTx, 0), ledger.ErrConfigMissing)
	require.ErrorIs(t, f.engine.Start(f.ctx, "nope", 1), ledger.ErrInvariantViolation)
}

func TestCommunityPoints(t *testing.T) {
	f := newFixture(t, "o1")
	f.account(t, ledger.Account{Name: "alice", Type: ledger.TypeIndividual})

	score, err := f.engine.AddCommunityPoints(f.ctx, "o1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), score)
	score, err = f.engine.SubCommunityPoints(f.ctx, "o1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), score)
	require.Equal(t, uint64(1), f.ledger.Size(ledger.SizeCbScores))

	_, err = f.engine.SubCommunityPoints(f.ctx, "o1", 3)
	require.NoError(t, err)
	_, ok, err := f.engine.Rank(ranking.SetCbs, "o1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, uint64(0), f.ledger.Size(ledger.SizeCbScores))

	// an absent org is left alone and the counter does not go negative
	_, err = f.engine.SubCommunityPoints(f.ctx, "o1", 3)
	require.NoError(t, err)
	require.Equal(t, uint64(0), f.ledger.Size(ledger.SizeCbScores))

	_, err = f.engine.AddCommunityPoints(f.ctx, "alice", 1)
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
	_, err = f.engine.AddCommunityPoints(f.ctx, "ghost", 1)
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)
	_, err = f.engine.AddCommunityPoints(f.ctx, "o1", 0)
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
}

func TestFailedCommitRollsBackRankedState(t *testing.T) {
	f := newFixture(t, "o1")
	_, err := f.engine.AddCommunityPoints(f.ctx, "o1", 5)
	require.NoError(t, err)

	f.sink.err = errors.New("clickhouse down")
	_, err = f.engine.AddCommunityPoints(f.ctx, "o1", 5)
	require.Error(t, err)
	f.sink.err = nil

	r, ok, err := f.engine.Rank(ranking.SetCbs, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), r.Metric)
	assert.Equal(t, uint64(1), f.ledger.Size(ledger.SizeCbScores))
}

func TestFailedRankChunkRestartsFromItsOwnCursor(t *testing.T) {
	orgs := []string{"o1", "o2", "o3", "o4", "o5"}
	f := newFixture(t, orgs...)
	for i, org := range orgs {
		_, err := f.engine.AddCommunityPoints(f.ctx, org, int64(10*(i+1)))
		require.NoError(t, err)
	}
	require.NoError(t, f.engine.Start(f.ctx, ranking.SetCbs, 2))

	f.sink.err = errors.New("clickhouse down")
	require.Equal(t, 1, f.sched.Tick(f.ctx))
	owner := ranking.RankOwner(ranking.SetCbs)
	_, ok := f.sched.Pending(owner)
	require.False(t, ok, "a failed chunk schedules no continuation")

	st, ok := f.sched.Tracker().Status(owner)
	require.True(t, ok)
	require.True(t, st.Failed)
	var c scheduler.Continuation
	require.NoError(t, st.Job.Decode(&c))
	assert.Zero(t, c.Chunk)
	assert.Empty(t, c.Cursor)

	f.sink.err = nil
	require.NoError(t, f.sched.Schedule(f.ctx, st.Job, 1))
	f.sched.Drain(f.ctx, 10)

	st, ok = f.sched.Tracker().Status(owner)
	require.True(t, ok)
	assert.False(t, st.Failed)
	assert.Equal(t, map[string]uint64{"o1": 0, "o2": 20, "o3": 40, "o4": 60, "o5": 80}, f.ranks(t, ranking.SetCbs))
}

func TestRegenVotesAndMedian(t *testing.T) {
	f := newFixture(t, "o1", "o2", "o3")
	f.account(t, ledger.Account{Name: "v1", Type: ledger.TypeIndividual, Reputation: 2})
	f.account(t, ledger.Account{Name: "v2", Type: ledger.TypeIndividual, Reputation: 1})
	f.account(t, ledger.Account{Name: "v3", Type: ledger.TypeIndividual, Reputation: 3})

	v, err := f.engine.AddRegen(f.ctx, "o1", "v1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(20), v)
	_, err = f.engine.AddRegen(f.ctx, "o1", "v2", 30)
	require.NoError(t, err)
	v, err = f.engine.AddRegen(f.ctx, "o1", "v3", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(300), v, "capped at rgen.maxadd before weighting")

	// replacing a vote keeps the vote counter
	_, err = f.engine.AddRegen(f.ctx, "o1", "v1", 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), f.ledger.Size(ledger.VotesSizeID("o1")))

	v, err = f.engine.SubRegen(f.ctx, "o2", "v1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), v)

	votes, sum := f.engine.Votes("o1")
	require.Len(t, votes, 3)
	assert.Equal(t, "v1", votes[0].Voter)
	assert.Equal(t, int64(350), sum)

	_, more, err := f.engine.CalcRegen(f.ctx, scheduler.Continuation{ChunkSize: 10})
	require.NoError(t, err)
	require.False(t, more)
	_, ok := f.sched.Pending(ranking.RankOwner(ranking.SetRegen))
	require.True(t, ok, "the last chunk starts the ranking")

	r, ok, err := f.engine.Rank(ranking.SetRegen, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(30), r.Metric)
	for _, org := range []string{"o2", "o3"} {
		_, ok, err = f.engine.Rank(ranking.SetRegen, org)
		require.NoError(t, err)
		assert.False(t, ok, org)
	}
	assert.Equal(t, 1, f.engine.Size(ranking.SetRegen))

	_, err = f.engine.AddRegen(f.ctx, "v1", "v2", 1)
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
	_, err = f.engine.AddRegen(f.ctx, "o1", "ghost", 1)
	require.ErrorIs(t, err, ledger.ErrUnknownAccount)
}

func TestCalcRegenChunksThroughOrganizations(t *testing.T) {
	f := newFixture(t, "o1", "o2", "o3")
	f.account(t, ledger.Account{Name: "v1", Type: ledger.TypeIndividual, Reputation: 1})
	for _, org := range []string{"o1", "o2", "o3"} {
		_, err := f.engine.AddRegen(f.ctx, org, "v1", 1)
		require.NoError(t, err)
	}

	require.NoError(t, f.engine.Start(f.ctx, ranking.SetRegen, 2))
	f.sched.Drain(f.ctx, 10)

	st, ok := f.sched.Tracker().Status(ranking.OwnerCalcRegen)
	require.True(t, ok)
	assert.Equal(t, uint64(2), st.Runs)
	st, ok = f.sched.Tracker().Status(ranking.RankOwner(ranking.SetRegen))
	require.True(t, ok)
	assert.Equal(t, uint64(2), st.Runs)
	assert.Equal(t, map[string]uint64{"o1": 0, "o2": 33, "o3": 66}, f.ranks(t, ranking.SetRegen))
}

func TestMakeRegenerative(t *testing.T) {
	f := newFixture(t)
	f.settings.SetInt(ledger.KeyRegenMinRank, 50)
	f.settings.SetInt(ledger.KeyRegenMinReferrals, 2)
	f.settings.SetInt(ledger.KeyRegenMinResidentRefs, 1)
	for _, org := range []string{"o1", "o2"} {
		f.account(t, ledger.Account{
			Name:          org,
			Type:          ledger.TypeOrganization,
			Status:        ledger.StatusReputable,
			RepMultiplier: 1,
			Planted:       3_000_000_000,
		})
	}
	f.account(t, ledger.Account{Name: "v1", Type: ledger.TypeIndividual, Reputation: 1})
	f.account(t, ledger.Account{Name: "r1", Type: ledger.TypeIndividual, Status: ledger.StatusResident, Referrer: "o1"})
	f.account(t, ledger.Account{Name: "r2", Type: ledger.TypeIndividual, Referrer: "o1"})

	_, err := f.engine.AddRegen(f.ctx, "o1", "v1", 30)
	require.NoError(t, err)
	_, err = f.engine.AddRegen(f.ctx, "o2", "v1", 5)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(f.ctx, ranking.SetRegen, 10))
	f.sched.Drain(f.ctx, 10)
	require.Equal(t, map[string]uint64{"o2": 0, "o1": 50}, f.ranks(t, ranking.SetRegen))

	err = f.engine.MakeRegenerative(f.ctx, "o2")
	require.ErrorIs(t, err, ranking.ErrNotEligible)
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)

	require.NoError(t, f.engine.MakeRegenerative(f.ctx, "o1"))
	acc, err := f.registry.Lookup(f.ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusRegenerative, acc.Status)
	entries := f.ledger.StatusEntries(ledger.ListRegens)
	require.Len(t, entries, 1)
	assert.Equal(t, "o1", entries[0].Account)
	assert.Equal(t, uint64(1), f.ledger.Size(ledger.SizeRegens))
	require.Len(t, f.ledger.History("o1"), 1)

	// already regenerative
	require.ErrorIs(t, f.engine.MakeRegenerative(f.ctx, "o1"), ledger.ErrInvariantViolation)
}

func TestCalcTxPoints(t *testing.T) {
	f := newFixture(t, "o1", "o2")
	f.settings.SetInt(ledger.KeyTxPointsMaxPerSender, 2)
	f.account(t, ledger.Account{Name: "alice", Type: ledger.TypeIndividual, RepMultiplier: 2})
	f.account(t, ledger.Account{Name: "bob", Type: ledger.TypeIndividual, RepMultiplier: 1})

	now := testDay + 60
	for i := int64(0); i < 3; i++ {
		f.transfer(t, "alice", "o1", 10*unit, now+i)
	}
	f.transfer(t, "bob", "o1", 5*unit, now)
	// older than txp.cycles moon cycles
	f.transfer(t, "bob", "o1", 100*unit, testDay-8_000_000)

	_, more, err := f.engine.CalcTx(f.ctx, scheduler.Continuation{ChunkSize: 100})
	require.NoError(t, err)
	require.False(t, more)

	r, ok, err := f.engine.Rank(ranking.SetTx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	// two of alice's three transfers at x2 plus bob's recent one
	assert.Equal(t, int64(45), r.Metric)
	_, ok, err = f.engine.Rank(ranking.SetTx, "o2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 5, f.ledger.Records(), "decayed records are kept by default")

	f.settings.SetInt(ledger.KeyTxPointsPruneDecayed, 1)
	_, _, err = f.engine.CalcTx(f.ctx, scheduler.Continuation{ChunkSize: 100})
	require.NoError(t, err)
	assert.Equal(t, 4, f.ledger.Records())
}

func TestCalcTxRecordLimitTakesNewestAcrossSenders(t *testing.T) {
	f := newFixture(t, "o1")
	f.settings.SetInt(ledger.KeyTxPointsRecordLimit, 2)
	f.account(t, ledger.Account{Name: "aaa", Type: ledger.TypeIndividual, RepMultiplier: 1})
	f.account(t, ledger.Account{Name: "zzz", Type: ledger.TypeIndividual, RepMultiplier: 1})

	f.transfer(t, "zzz", "o1", unit, testDay+60)
	f.transfer(t, "zzz", "o1", 2*unit, testDay+61)
	f.transfer(t, "aaa", "o1", 100*unit, testDay+62)

	_, _, err := f.engine.CalcTx(f.ctx, scheduler.Continuation{ChunkSize: 100})
	require.NoError(t, err)
	r, ok, err := f.engine.Rank(ranking.SetTx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	// aaa's transfer plus zzz's newest one; zzz's oldest is past the limit
	assert.Equal(t, int64(102), r.Metric)
}

func TestCalcTxCapsVolumeAndDropsZeroScores(t *testing.T) {
	f := newFixture(t, "o1")
	f.settings.SetInt(ledger.KeyTxPointsMaxQuantity, 3)
	f.account(t, ledger.Account{Name: "alice", Type: ledger.TypeIndividual, RepMultiplier: 1})
	f.account(t, ledger.Account{Name: "bob", Type: ledger.TypeIndividual, RepMultiplier: 0})

	f.transfer(t, "alice", "o1", 10*unit, testDay+60)
	_, _, err := f.engine.CalcTx(f.ctx, scheduler.Continuation{ChunkSize: 100})
	require.NoError(t, err)
	r, ok, err := f.engine.Rank(ranking.SetTx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(3), r.Metric)

	// alice leaves; bob's transfers weigh nothing
	f.registry.Delete(f.ctx, "alice")
	f.transfer(t, "bob", "o1", 10*unit, testDay+60)
	_, _, err = f.engine.CalcTx(f.ctx, scheduler.Continuation{ChunkSize: 100})
	require.NoError(t, err)
	_, ok, err = f.engine.Rank(ranking.SetTx, "o1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), f.ledger.Size(ledger.SizeTxScores))
}

func TestCalcTxSpendsRecordBudget(t *testing.T) {
	f := newFixture(t, "o1", "o2", "o3")
	f.account(t, ledger.Account{Name: "alice", Type: ledger.TypeIndividual, RepMultiplier: 1})
	for i := int64(0); i < 4; i++ {
		f.transfer(t, "alice", "o1", unit, testDay+60+i)
	}
	f.transfer(t, "alice", "o2", unit, testDay+60)

	// o1 alone costs 1+4 units, more than the chunk
	next, more, err := f.engine.CalcTx(f.ctx, scheduler.Continuation{ChunkSize: 3})
	require.NoError(t, err)
	require.True(t, more)
	assert.Equal(t, "o1", next.Cursor)
	_, ok := f.sched.Pending(ranking.OwnerCalcTx)
	require.True(t, ok)

	next, more, err = f.engine.CalcTx(f.ctx, next)
	require.NoError(t, err)
	require.False(t, more, "o2 and o3 fit in one chunk")
	assert.Equal(t, 2, f.engine.Size(ranking.SetTx))
}

func TestResetAndRestore(t *testing.T) {
	f := newFixture(t, "o1", "o2")
	f.account(t, ledger.Account{Name: "v1", Type: ledger.TypeIndividual, Reputation: 1})
	_, err := f.engine.AddCommunityPoints(f.ctx, "o1", 4)
	require.NoError(t, err)
	_, err = f.engine.AddRegen(f.ctx, "o1", "v1", 4)
	require.NoError(t, err)

	require.NoError(t, f.ledger.Reset(f.ctx))
	assert.Equal(t, 0, f.engine.Size(ranking.SetCbs))
	votes, sum := f.engine.Votes("o1")
	assert.Empty(t, votes)
	assert.Zero(t, sum)

	snap := &ledger.Snapshot{
		Ranked: []ledger.RankedRow{
			{Set: ranking.SetCbs, Entity: "o1", Metric: 7, Rank: 50},
			{Set: ranking.SetCbs, Entity: "o2", Metric: 3, Deleted: true},
			{Set: ranking.SetTx, Entity: "o2", Metric: 9, Rank: 0},
		},
		Votes: []ledger.VoteRow{{Org: "o1", Voter: "v1", Amount: 3}},
	}
	require.NoError(t, f.engine.Restore(snap))
	r, ok, err := f.engine.Rank(ranking.SetCbs, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ranking.RankedEntity{Entity: "o1", Metric: 7, Rank: 50}, r)
	assert.Equal(t, 1, f.engine.Size(ranking.SetCbs))
	assert.Equal(t, 1, f.engine.Size(ranking.SetTx))
	_, sum = f.engine.Votes("o1")
	assert.Equal(t, int64(3), sum)

	snap.Ranked = append(snap.Ranked, ledger.RankedRow{Set: "bogus", Entity: "x"})
	require.ErrorIs(t, f.engine.Restore(snap), ledger.ErrInvariantViolation)
}

func TestRanksPaging(t *testing.T) {
	f := newFixture(t, "o1", "o2", "o3")
	for i, org := range []string{"o1", "o2", "o3"} {
		_, err := f.engine.AddCommunityPoints(f.ctx, org, int64(3-i))
		require.NoError(t, err)
	}
	page, next, err := f.engine.Ranks(ranking.SetCbs, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o3", page[0].Entity)
	assert.Equal(t, "o2", page[1].Entity)
	require.Equal(t, "3|o1", next)

	page, next, err = f.engine.Ranks(ranking.SetCbs, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "o1", page[0].Entity)
	assert.Empty(t, next)

	_, _, err = f.engine.Ranks(ranking.SetCbs, "garbage", 2)
	require.ErrorIs(t, err, ledger.ErrInvariantViolation)
}
