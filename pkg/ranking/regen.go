package ranking

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/scheduler"
	"go.uber.org/zap"
)

// voteBook holds the current regen vote of each voter per organization and the
// running sum per organization.
type voteBook struct {
	votes map[string]map[string]int64
	sums  map[string]int64
}

func newVoteBook() *voteBook {
	return &voteBook{votes: make(map[string]map[string]int64), sums: make(map[string]int64)}
}

func (b *voteBook) get(org, voter string) (int64, bool) {
	v, ok := b.votes[org][voter]
	return v, ok
}

func (b *voteBook) put(org, voter string, amount int64) {
	if b.votes[org] == nil {
		b.votes[org] = make(map[string]int64)
	}
	b.sums[org] += amount - b.votes[org][voter]
	b.votes[org][voter] = amount
}

func (b *voteBook) remove(org, voter string) {
	v, ok := b.votes[org][voter]
	if !ok {
		return
	}
	delete(b.votes[org], voter)
	b.sums[org] -= v
	if len(b.votes[org]) == 0 {
		delete(b.votes, org)
		delete(b.sums, org)
	}
}

func (b *voteBook) values(org string) []int64 {
	out := make([]int64, 0, len(b.votes[org]))
	for _, v := range b.votes[org] {
		out = append(out, v)
	}
	return out
}

// Median sorts a copy of values ascending. An even count averages the two central
// values with integer division; no values is 0.
func Median(values []int64) int64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	v := append([]int64(nil), values...)
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
	if n%2 == 0 {
		return (v[n/2-1] + v[n/2]) / 2
	}
	return v[n/2]
}

// Vote is one voter's current regen vote.
type Vote struct {
	Voter  string `json:"voter"`
	Amount int64  `json:"amount"`
}

func (e *Engine) lookupOrg(ctx context.Context, org string) (ledger.Account, error) {
	acc, err := e.ledger.Registry().Lookup(ctx, org)
	if err != nil {
		return acc, err
	}
	if !acc.IsOrganization() {
		return acc, fmt.Errorf("%s is not an organization: %w", org, ledger.ErrInvariantViolation)
	}
	return acc, nil
}

// AddRegen records a positive regen vote of voter for org, weighted by the voter's
// reputation. It replaces the voter's previous vote.
func (e *Engine) AddRegen(ctx context.Context, org, voter string, amount int64) (int64, error) {
	return e.vote(ctx, org, voter, amount, ledger.KeyVoteMaxAdd, 1)
}

// SubRegen records a negative regen vote.
func (e *Engine) SubRegen(ctx context.Context, org, voter string, amount int64) (int64, error) {
	return e.vote(ctx, org, voter, amount, ledger.KeyVoteMaxSub, -1)
}

func (e *Engine) vote(ctx context.Context, org, voter string, amount int64, capKey string, sign int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("vote amount %d: %w", amount, ledger.ErrInvariantViolation)
	}
	if _, err := e.lookupOrg(ctx, org); err != nil {
		return 0, err
	}
	v, err := e.ledger.Registry().Lookup(ctx, voter)
	if err != nil {
		return 0, err
	}
	maxAmount, err := ledger.Int(e.ledger.Settings(), capKey)
	if err != nil {
		return 0, err
	}
	value := sign * min(amount, maxAmount) * v.Reputation

	err = e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		b := e.votes
		prev, existed := b.get(org, voter)
		b.put(org, voter, value)
		tx.OnRollback(func() {
			if existed {
				b.put(org, voter, prev)
				return
			}
			b.remove(org, voter)
		})
		if !existed {
			tx.ChangeSize(ledger.VotesSizeID(org), 1)
		}
		tx.StageVote(ledger.VoteRow{Org: org, Voter: voter, Amount: value})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

// Votes lists the current votes for an organization and their sum.
func (e *Engine) Votes(org string) ([]Vote, int64) {
	var (
		out []Vote
		sum int64
	)
	e.ledger.View(func() {
		for voter, amount := range e.votes.votes[org] {
			out = append(out, Vote{Voter: voter, Amount: amount})
		}
		sum = e.votes.sums[org]
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Voter < out[j].Voter })
	return out, sum
}

// CalcRegen scores one chunk of organizations by the median of their votes. Orgs whose
// vote sum reaches regen.min (and that have votes at all) enter the regen set; the
// rest leave it. The terminal chunk starts the regen ranking.
func (e *Engine) CalcRegen(ctx context.Context, c scheduler.Continuation) (scheduler.Continuation, bool, error) {
	if c.ChunkSize == 0 {
		return c, false, fmt.Errorf("calc-regen: chunk size 0: %w", ledger.ErrInvariantViolation)
	}
	floor, err := ledger.Int(e.ledger.Settings(), ledger.KeyRegenFloor)
	if err != nil {
		return c, false, err
	}
	orgs, err := e.dir.Organizations(ctx, c.Cursor, int(c.ChunkSize))
	if err != nil {
		return c, false, fmt.Errorf("list organizations after %q: %w", c.Cursor, err)
	}

	var (
		next scheduler.Continuation
		more = uint64(len(orgs)) == c.ChunkSize
	)
	err = e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		s := e.sets[SetRegen]
		for _, org := range orgs {
			values := e.votes.values(org)
			if len(values) > 0 && e.votes.sums[org] >= floor {
				e.upsert(tx, s, org, Median(values))
				continue
			}
			e.drop(tx, s, org)
		}
		var (
			job scheduler.Job
			err error
		)
		if more {
			next = c.Next(orgs[len(orgs)-1])
			job, err = scheduler.NewJob(OwnerCalcRegen, KindCalcRegen, next)
		} else {
			job, err = rankJob(SetRegen, scheduler.Continuation{ChunkSize: c.ChunkSize})
		}
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

func (e *Engine) handleCalcRegen(ctx context.Context, job scheduler.Job) error {
	var c scheduler.Continuation
	if err := job.Decode(&c); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrInvariantViolation, err)
	}
	_, _, err := e.CalcRegen(ctx, c)
	return err
}

// ErrNotEligible wraps the reason an organization cannot become regenerative.
var ErrNotEligible = errors.New("not eligible")

// MakeRegenerative promotes a reputable organization that meets every regenerative
// threshold, lists it and updates its registry status.
func (e *Engine) MakeRegenerative(ctx context.Context, org string) error {
	acc, err := e.lookupOrg(ctx, org)
	if err != nil {
		return err
	}
	if acc.Status != ledger.StatusReputable {
		return fmt.Errorf("%s is %s, not reputable: %w", org, acc.Status, ledger.ErrInvariantViolation)
	}
	s := e.ledger.Settings()
	minPlanted, err := ledger.Int(s, ledger.KeyRegenMinPlanted)
	if err != nil {
		return err
	}
	minRank, err := ledger.Int(s, ledger.KeyRegenMinRank)
	if err != nil {
		return err
	}
	minReferrals, err := ledger.Int(s, ledger.KeyRegenMinReferrals)
	if err != nil {
		return err
	}
	minResidents, err := ledger.Int(s, ledger.KeyRegenMinResidentRefs)
	if err != nil {
		return err
	}

	notEligible := func(format string, args ...any) error {
		return fmt.Errorf("%s: %s: %w: %w", org, fmt.Sprintf(format, args...), ErrNotEligible, ledger.ErrInvariantViolation)
	}
	if acc.Planted < minPlanted {
		return notEligible("planted %d < %d", acc.Planted, minPlanted)
	}
	ranked, ok, err := e.Rank(SetRegen, org)
	if err != nil {
		return err
	}
	if !ok || int64(ranked.Rank) < minRank {
		return notEligible("regen rank %d < %d", ranked.Rank, minRank)
	}
	total, residents, err := e.dir.Referrals(ctx, org)
	if err != nil {
		return fmt.Errorf("referrals of %s: %w", org, err)
	}
	if total < minReferrals {
		return notEligible("referrals %d < %d", total, minReferrals)
	}
	if residents < minResidents {
		return notEligible("resident referrals %d < %d", residents, minResidents)
	}

	err = e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		if _, err := tx.AddStatus(ledger.ListRegens, org); err != nil {
			return err
		}
		tx.AddHistory(org, "regenerative", 0, "")
		tx.AfterCommit(func(ctx context.Context) error {
			return e.dir.SetStatus(ctx, org, ledger.StatusRegenerative)
		})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("organization became regenerative", zap.String("org", org))
	return nil
}
