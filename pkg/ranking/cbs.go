package ranking

import (
	"context"
	"fmt"

	"github.com/canopy-network/repledger/pkg/ledger"
)

// AddCommunityPoints credits community-building points to an organization.
func (e *Engine) AddCommunityPoints(ctx context.Context, org string, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("community points %d: %w", n, ledger.ErrInvariantViolation)
	}
	if _, err := e.lookupOrg(ctx, org); err != nil {
		return 0, err
	}
	var score int64
	err := e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		s := e.sets[SetCbs]
		prev, _ := s.get(org)
		score = prev.metric + n
		e.upsert(tx, s, org, score)
		tx.AddHistory(org, "cbs.add", n, "")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// SubCommunityPoints debits community-building points. An organization whose score
// would reach zero leaves the set; an absent one is left alone.
func (e *Engine) SubCommunityPoints(ctx context.Context, org string, n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("community points %d: %w", n, ledger.ErrInvariantViolation)
	}
	var score int64
	err := e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		s := e.sets[SetCbs]
		prev, ok := s.get(org)
		switch {
		case !ok:
			return nil
		case prev.metric <= n:
			e.drop(tx, s, org)
		default:
			score = prev.metric - n
			e.upsert(tx, s, org, score)
		}
		tx.AddHistory(org, "cbs.sub", n, "")
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}
