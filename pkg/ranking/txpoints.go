package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/scheduler"
)

type txPointsConfig struct {
	maxVolume    int64
	maxPerSender int64
	limit        int64
	cutoff       int64
	prune        bool
}

func (e *Engine) txPointsConfig(now int64) (txPointsConfig, error) {
	s := e.ledger.Settings()
	var c txPointsConfig
	maxQty, err := ledger.Int(s, ledger.KeyTxPointsMaxQuantity)
	if err != nil {
		return c, err
	}
	if c.maxPerSender, err = ledger.Int(s, ledger.KeyTxPointsMaxPerSender); err != nil {
		return c, err
	}
	if c.limit, err = ledger.Int(s, ledger.KeyTxPointsRecordLimit); err != nil {
		return c, err
	}
	cycles, err := ledger.Int(s, ledger.KeyTxPointsDecayCycles)
	if err != nil {
		return c, err
	}
	moon, err := ledger.Int(s, ledger.KeyMoonCycle)
	if err != nil {
		return c, err
	}
	prune, err := ledger.Int(s, ledger.KeyTxPointsPruneDecayed)
	if err != nil {
		return c, err
	}
	c.maxVolume = maxQty * int64(ledger.PointScale)
	c.cutoff = now - cycles*moon
	c.prune = prune == 1
	return c, nil
}

// orgTxPoints walks the records received by org, newest first, and returns
// the raw points plus how many records it scanned. Decayed refs are returned for pruning.
func (e *Engine) orgTxPoints(ctx context.Context, tx *ledger.Tx, org string, cfg txPointsConfig, multipliers map[string]float64) (float64, int64, []ledger.RecordRef, error) {
	var (
		total      float64
		scanned    int64
		fromSender = make(map[string]int64)
		decayed    []ledger.RecordRef
		lookupErr  error
	)
	tx.Received(org, func(r ledger.Record) bool {
		if scanned >= cfg.limit {
			return false
		}
		scanned++
		if r.Timestamp < cfg.cutoff {
			if cfg.prune {
				decayed = append(decayed, r.Ref())
			}
			return true
		}
		if fromSender[r.From] >= cfg.maxPerSender {
			return true
		}
		fromSender[r.From]++

		mult, ok := multipliers[r.From]
		if !ok {
			acc, err := e.ledger.Registry().Lookup(ctx, r.From)
			switch {
			case errors.Is(err, ledger.ErrUnknownAccount):
				mult = 0
			case err != nil:
				lookupErr = err
				return false
			default:
				mult = acc.RepMultiplier
			}
			multipliers[r.From] = mult
		}
		total += float64(min(r.Volume, cfg.maxVolume)) / ledger.PointScale * mult
		return true
	})
	if lookupErr != nil {
		return 0, scanned, nil, fmt.Errorf("tx points of %s: %w", org, lookupErr)
	}
	return total, scanned, decayed, nil
}

// CalcTx scores organizations by the transfers they received. A chunk may spend
// chunkSize units of work, one per organization plus one per scanned record, and
// always scores at least one organization. The terminal chunk starts the tx ranking.
func (e *Engine) CalcTx(ctx context.Context, c scheduler.Continuation) (scheduler.Continuation, bool, error) {
	if c.ChunkSize == 0 {
		return c, false, fmt.Errorf("calc-tx: chunk size 0: %w", ledger.ErrInvariantViolation)
	}
	cfg, err := e.txPointsConfig(e.ledger.Now().Unix())
	if err != nil {
		return c, false, err
	}
	orgs, err := e.dir.Organizations(ctx, c.Cursor, int(c.ChunkSize))
	if err != nil {
		return c, false, fmt.Errorf("list organizations after %q: %w", c.Cursor, err)
	}

	var (
		next scheduler.Continuation
		more bool
	)
	err = e.ledger.Do(ctx, func(tx *ledger.Tx) error {
		s := e.sets[SetTx]
		multipliers := make(map[string]float64)
		var (
			spent     uint64
			processed int
		)
		for _, org := range orgs {
			if processed > 0 && spent >= c.ChunkSize {
				break
			}
			points, scanned, decayed, err := e.orgTxPoints(ctx, tx, org, cfg, multipliers)
			if err != nil {
				return err
			}
			for _, ref := range decayed {
				tx.DeleteRecord(ref)
			}
			if p := int64(math.Ceil(points)); p > 0 {
				e.upsert(tx, s, org, p)
			} else {
				e.drop(tx, s, org)
			}
			spent += 1 + uint64(scanned)
			processed++
		}

		more = processed < len(orgs) || uint64(len(orgs)) == c.ChunkSize
		var job scheduler.Job
		if more {
			next = c.Next(orgs[processed-1])
			job, err = scheduler.NewJob(OwnerCalcTx, KindCalcTx, next)
		} else {
			job, err = rankJob(SetTx, scheduler.Continuation{ChunkSize: c.ChunkSize})
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

func (e *Engine) handleCalcTx(ctx context.Context, job scheduler.Job) error {
	var c scheduler.Continuation
	if err := job.Decode(&c); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrInvariantViolation, err)
	}
	_, _, err := e.CalcTx(ctx, c)
	return err
}
