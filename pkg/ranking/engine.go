package ranking

import (
	"context"
	"fmt"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/scheduler"
	"go.uber.org/zap"
)

// Job kinds.
const (
	KindCalcRegen = "ranking.calc-regen"
	KindCalcTx    = "ranking.calc-tx"
	KindRank      = "ranking.rank"
)

// Owner keys of the chunked jobs.
const (
	OwnerCalcRegen = "job:calc-regen"
	OwnerCalcTx    = "job:calc-tx"
)

func RankOwner(set string) string { return "job:rank-" + set }

// Directory is the part of the user registry the ranking jobs need beyond lookups.
type Directory interface {
	Organizations(ctx context.Context, after string, limit int) ([]string, error)
	Referrals(ctx context.Context, name string) (total, residents int64, err error)
	SetStatus(ctx context.Context, name string, status ledger.Status) error
}

type rankPayload struct {
	Set string `json:"set"`
	scheduler.Continuation
}

// Engine keeps the ranked sets and the regen votes. Its state is only touched inside
// ledger units of work, so it shares the ledger's serialization and rollback.
type Engine struct {
	logger *zap.Logger
	ledger *ledger.Ledger
	dir    Directory

	sets  map[string]*rankedSet
	votes *voteBook
}

func New(logger *zap.Logger, l *ledger.Ledger, dir Directory) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		logger: logger,
		ledger: l,
		dir:    dir,
		sets:   newSets(),
		votes:  newVoteBook(),
	}
	sched := l.Scheduler()
	sched.Handle(KindCalcRegen, e.handleCalcRegen)
	sched.Handle(KindCalcTx, e.handleCalcTx)
	sched.Handle(KindRank, e.handleRank)
	l.OnReset(e.reset)
	return e
}

func newSets() map[string]*rankedSet {
	out := make(map[string]*rankedSet, len(Sets))
	for _, name := range Sets {
		out[name] = newRankedSet(name)
	}
	return out
}

func (e *Engine) reset(tx *ledger.Tx) {
	sets, votes := e.sets, e.votes
	e.sets, e.votes = newSets(), newVoteBook()
	tx.OnRollback(func() { e.sets, e.votes = sets, votes })
}

// Restore rebuilds the sets and votes from persisted rows.
func (e *Engine) Restore(s *ledger.Snapshot) error {
	sets, votes := newSets(), newVoteBook()
	for _, r := range s.Ranked {
		set, ok := sets[r.Set]
		if !ok {
			return fmt.Errorf("restore ranked row of set %q: %w", r.Set, ledger.ErrInvariantViolation)
		}
		if r.Deleted {
			continue
		}
		set.put(r.Entity, entry{metric: r.Metric, rank: r.Rank})
	}
	for _, v := range s.Votes {
		if !v.Deleted {
			votes.put(v.Org, v.Voter, v.Amount)
		}
	}
	e.withWrite(func() { e.sets, e.votes = sets, votes })
	return nil
}

// withWrite runs fn inside an empty unit of work, i.e. under the ledger's write lock.
func (e *Engine) withWrite(fn func()) {
	_ = e.ledger.Do(context.Background(), func(*ledger.Tx) error {
		fn()
		return nil
	})
}

func (e *Engine) set(name string) (*rankedSet, error) {
	s, ok := e.sets[name]
	if !ok {
		return nil, fmt.Errorf("ranked set %q: %w", name, ledger.ErrInvariantViolation)
	}
	return s, nil
}

// upsert writes the metric of an entity, counting it in the set size when it is new.
func (e *Engine) upsert(tx *ledger.Tx, s *rankedSet, entity string, metric int64) {
	prev, existed := s.get(entity)
	next := entry{metric: metric, rank: prev.rank}
	s.put(entity, next)
	tx.OnRollback(func() {
		if existed {
			s.put(entity, prev)
			return
		}
		s.remove(entity)
	})
	if !existed {
		tx.ChangeSize(s.sizeID, 1)
	}
	tx.StageRanked(s.row(entity, next))
}

// drop removes an entity that stopped qualifying.
func (e *Engine) drop(tx *ledger.Tx, s *rankedSet, entity string) {
	prev, existed := s.get(entity)
	if !existed {
		return
	}
	s.remove(entity)
	tx.OnRollback(func() { s.put(entity, prev) })
	tx.ChangeSize(s.sizeID, -1)
	row := s.row(entity, prev)
	row.Deleted = true
	tx.StageRanked(row)
}

func (e *Engine) setRank(tx *ledger.Tx, s *rankedSet, entity string, rank uint64) {
	prev, ok := s.get(entity)
	if !ok || prev.rank == rank {
		return
	}
	next := prev
	next.rank = rank
	s.entries[entity] = next
	tx.OnRollback(func() { s.entries[entity] = prev })
	tx.StageRanked(s.row(entity, next))
}

func (e *Engine) chunkSize(requested uint64) (uint64, error) {
	if requested > 0 {
		return requested, nil
	}
	n, err := ledger.Int(e.ledger.Settings(), ledger.KeyBatchSize)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s=%d: %w", ledger.KeyBatchSize, n, ledger.ErrInvariantViolation)
	}
	return uint64(n), nil
}

// Start begins a ranking family: regen and tx recompute their metrics first, cbs
// only re-ranks. A zero chunk size uses the batch size setting.
func (e *Engine) Start(ctx context.Context, family string, chunkSize uint64) error {
	if err := ValidSet(family); err != nil {
		return err
	}
	size, err := e.chunkSize(chunkSize)
	if err != nil {
		return err
	}
	c := scheduler.Continuation{ChunkSize: size}
	var job scheduler.Job
	switch family {
	case SetRegen:
		job, err = scheduler.NewJob(OwnerCalcRegen, KindCalcRegen, c)
	case SetTx:
		job, err = scheduler.NewJob(OwnerCalcTx, KindCalcTx, c)
	default:
		job, err = rankJob(family, c)
	}
	if err != nil {
		return err
	}
	e.logger.Info("starting ranking family", zap.String("family", family), zap.Uint64("chunk_size", size))
	return e.ledger.Scheduler().Schedule(ctx, job, 1)
}

func rankJob(set string, c scheduler.Continuation) (scheduler.Job, error) {
	return scheduler.NewJob(RankOwner(set), KindRank, rankPayload{Set: set, Continuation: c})
}

// AssignRanks ranks one chunk of a set: each entity gets floor(position*100/total)
// where position counts from chunk*chunkSize. It returns the continuation, or false
// when the walk is done. The continuation is scheduled within the same unit of work.
func (e *Engine) AssignRanks(ctx context.Context, set string, c scheduler.Continuation) (scheduler.Continuation, bool, error) {
	if c.ChunkSize == 0 {
		return c, false, fmt.Errorf("rank %s: chunk size 0: %w", set, ledger.ErrInvariantViolation)
	}
	from, hasFrom, err := parseCursor(c.Cursor)
	if err != nil {
		return c, false, err
	}
	var (
		next scheduler.Continuation
		more bool
	)
	err = e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		s, err := e.set(set)
		if err != nil {
			return err
		}
		total := tx.Size(s.sizeID)
		if total == 0 {
			return nil
		}
		position := c.Chunk * c.ChunkSize
		var (
			done   uint64
			ranked []string
			cursor string
		)
		s.walk(from, hasFrom, func(k metricKey, _ entry) bool {
			if done == c.ChunkSize {
				cursor = k.String()
				return false
			}
			ranked = append(ranked, k.entity)
			done++
			return true
		})
		for _, entity := range ranked {
			e.setRank(tx, s, entity, position*100/total)
			position++
		}
		if cursor == "" {
			return nil
		}
		next, more = c.Next(cursor), true
		job, err := rankJob(set, next)
		if err != nil {
			return err
		}
		tx.Schedule(job, 1)
		return nil
	})
	if err != nil {
		return c, false, err
	}
	return next, more, nil
}

func (e *Engine) handleRank(ctx context.Context, job scheduler.Job) error {
	var p rankPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrInvariantViolation, err)
	}
	_, more, err := e.AssignRanks(ctx, p.Set, p.Continuation)
	if err == nil && !more {
		e.logger.Info("ranking pass finished", zap.String("set", p.Set), zap.Uint64("chunks", p.Chunk+1))
	}
	return err
}

// RankedEntity is a public view of a ranked row.
type RankedEntity struct {
	Entity string `json:"entity"`
	Metric int64  `json:"metric"`
	Rank   uint64 `json:"rank"`
}

// Rank returns one entity of a set.
func (e *Engine) Rank(set, entity string) (RankedEntity, bool, error) {
	if err := ValidSet(set); err != nil {
		return RankedEntity{}, false, err
	}
	var (
		out RankedEntity
		ok  bool
	)
	e.ledger.View(func() {
		var en entry
		if en, ok = e.sets[set].get(entity); ok {
			out = RankedEntity{Entity: entity, Metric: en.metric, Rank: en.rank}
		}
	})
	return out, ok, nil
}

// Ranks pages through a set in metric order. The returned cursor is empty on the last page.
func (e *Engine) Ranks(set, cursor string, limit int) ([]RankedEntity, string, error) {
	if err := ValidSet(set); err != nil {
		return nil, "", err
	}
	from, hasFrom, err := parseCursor(cursor)
	if err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 100
	}
	var (
		out  []RankedEntity
		next string
	)
	e.ledger.View(func() {
		e.sets[set].walk(from, hasFrom, func(k metricKey, en entry) bool {
			if len(out) == limit {
				next = k.String()
				return false
			}
			out = append(out, RankedEntity{Entity: k.entity, Metric: en.metric, Rank: en.rank})
			return true
		})
	})
	return out, next, nil
}

// Size is the number of entities in a set.
func (e *Engine) Size(set string) int {
	var n int
	e.ledger.View(func() {
		if s, ok := e.sets[set]; ok {
			n = s.len()
		}
	})
	return n
}
