package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/canopy-network/repledger/pkg/scheduler"
	"go.uber.org/zap"
)

// Job kinds handled by the ledger.
const (
	KindSettle = "ledger.settle"
	KindNotify = "ledger.notify"
	KindReplay = "ledger.replay"
)

// ReplayOwner is the owner key of the transfer-log replay job.
const ReplayOwner = "job:replay"

func SettleOwner(account string) string { return "settle:" + account }

func NotifyOwner(account string) string { return "notify:" + account }

type accountPayload struct {
	Account string `json:"account"`
	Day     int64  `json:"day,omitempty"`
}

type Options struct {
	Logger      *zap.Logger
	Settings    Settings
	Registry    Registry
	Scheduler   scheduler.Scheduler
	Notifier    Notifier
	Sink        Sink
	TransferLog TransferLog
	// Symbol is the only asset unit that earns points.
	Symbol string
	Clock  func() time.Time
}

// Ledger owns the transfer windows and every total derived from them. All mutations
// run as serialized units of work through Do.
type Ledger struct {
	logger    *zap.Logger
	settings  Settings
	registry  Registry
	scheduler scheduler.Scheduler
	notifier  Notifier
	sink      Sink
	log       TransferLog
	symbol    string
	now       func() time.Time

	mu          sync.RWMutex
	window      *Window
	aggregates  *Aggregates
	rollups     *Rollups
	sizes       *SizeCounters
	statuses    *statusBook
	history     *historyBook
	transferSeq uint64
	resetHooks  []func(tx *Tx)
}

func New(opts Options) (*Ledger, error) {
	if opts.Settings == nil || opts.Registry == nil || opts.Scheduler == nil {
		return nil, fmt.Errorf("ledger needs settings, registry and scheduler: %w", ErrInvariantViolation)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	if opts.Symbol == "" {
		opts.Symbol = "SEEDS"
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	l := &Ledger{
		logger:     opts.Logger,
		settings:   opts.Settings,
		registry:   opts.Registry,
		scheduler:  opts.Scheduler,
		notifier:   opts.Notifier,
		sink:       opts.Sink,
		log:        opts.TransferLog,
		symbol:     opts.Symbol,
		now:        opts.Clock,
		window:     NewWindow(),
		aggregates: NewAggregates(),
		rollups:    NewRollups(),
		sizes:      NewSizeCounters(),
		statuses:   newStatusBook(),
		history:    newHistoryBook(),
	}
	opts.Scheduler.Handle(KindSettle, l.handleSettle)
	opts.Scheduler.Handle(KindNotify, l.handleNotify)
	opts.Scheduler.Handle(KindReplay, l.handleReplay)
	return l, nil
}

func (l *Ledger) Settings() Settings { return l.settings }

func (l *Ledger) Registry() Registry { return l.registry }

func (l *Ledger) Scheduler() scheduler.Scheduler { return l.scheduler }

func (l *Ledger) Logger() *zap.Logger { return l.logger }

func (l *Ledger) Now() time.Time { return l.now() }

// OnReset registers state that must be wiped together with the ledger.
func (l *Ledger) OnReset(fn func(tx *Tx)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetHooks = append(l.resetHooks, fn)
}

// Int reads a required integer setting.
func Int(s Settings, key string) (int64, error) {
	v, err := s.Int(key)
	if err != nil {
		if errors.Is(err, ErrConfigMissing) {
			return 0, err
		}
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

// Float reads a required decimal setting.
func Float(s Settings, key string) (float64, error) {
	v, err := s.Float(key)
	if err != nil {
		if errors.Is(err, ErrConfigMissing) {
			return 0, err
		}
		return 0, fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

type pointsConfig struct {
	qualifyingCap int64
	individualCap int64
	orgCap        int64
	regenMul      float64
	localMul      float64
}

func (l *Ledger) pointsConfig() (pointsConfig, error) {
	var (
		c   pointsConfig
		err error
	)
	if c.qualifyingCap, err = Int(l.settings, KeyQualifyingCap); err != nil {
		return c, err
	}
	if c.individualCap, err = Int(l.settings, KeyIndividualPointsCap); err != nil {
		return c, err
	}
	if c.orgCap, err = Int(l.settings, KeyOrganizationPointsCap); err != nil {
		return c, err
	}
	if c.regenMul, err = Float(l.settings, KeyRegenMultiplier); err != nil {
		return c, err
	}
	if c.localMul, err = Float(l.settings, KeyLocalMultiplier); err != nil {
		return c, err
	}
	return c, nil
}

// multiplier is what subject's reputation is worth when dealing with other.
func (c pointsConfig) multiplier(subject, other Account) float64 {
	m := subject.RepMultiplier
	if subject.IsOrganization() && subject.Status == StatusRegenerative {
		m *= c.regenMul
	}
	if subject.Region != "" && subject.Region == other.Region {
		m *= c.localMul
	}
	return m
}

func (c pointsConfig) record(from, to Account, amount int64) Record {
	fromCap := c.individualCap
	if from.IsOrganization() {
		fromCap = c.orgCap
	}
	r := Record{
		From:             from.Name,
		To:               to.Name,
		Volume:           amount,
		QualifyingVolume: min(c.qualifyingCap, amount),
		FromPoints:       ceilPoints(float64(min(fromCap, amount)) / PointScale * c.multiplier(to, from)),
	}
	if to.IsOrganization() {
		r.ToPoints = ceilPoints(float64(min(c.orgCap, amount)) / PointScale * c.multiplier(from, to))
	}
	return r
}

// InsertResult tells whether a transfer was recorded.
type InsertResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Record   Record `json:"record"`
}

// lookupParties resolves both sides of a transfer. ok is false when either is unknown.
func (l *Ledger) lookupParties(ctx context.Context, from, to string) (Account, Account, bool, error) {
	fromAcc, err := l.registry.Lookup(ctx, from)
	if errors.Is(err, ErrUnknownAccount) {
		return Account{}, Account{}, false, nil
	}
	if err != nil {
		return Account{}, Account{}, false, fmt.Errorf("lookup %s: %w", from, err)
	}
	toAcc, err := l.registry.Lookup(ctx, to)
	if errors.Is(err, ErrUnknownAccount) {
		return Account{}, Account{}, false, nil
	}
	if err != nil {
		return Account{}, Account{}, false, fmt.Errorf("lookup %s: %w", to, err)
	}
	return fromAcc, toAcc, true, nil
}

// Insert records a transfer provisionally and defers its settlement by one tick.
// Transfers in another unit or between unregistered parties are ignored.
func (l *Ledger) Insert(ctx context.Context, t Transfer) (InsertResult, error) {
	return l.insert(ctx, t, false)
}

func (l *Ledger) insert(ctx context.Context, t Transfer, replay bool) (InsertResult, error) {
	if t.Quantity.Symbol != l.symbol {
		l.logger.Debug("ignoring transfer in foreign unit", zap.String("from", t.From), zap.String("symbol", t.Quantity.Symbol))
		return InsertResult{Reason: "unit"}, nil
	}
	if t.Quantity.Amount <= 0 {
		return InsertResult{}, fmt.Errorf("transfer amount %d: %w", t.Quantity.Amount, ErrInvariantViolation)
	}
	from, to, ok, err := l.lookupParties(ctx, t.From, t.To)
	if err != nil {
		return InsertResult{}, err
	}
	if !ok {
		l.logger.Debug("ignoring transfer with unknown party", zap.String("from", t.From), zap.String("to", t.To))
		return InsertResult{Reason: "party"}, nil
	}
	cfg, err := l.pointsConfig()
	if err != nil {
		return InsertResult{}, err
	}
	if t.Timestamp == 0 {
		t.Timestamp = l.now().Unix()
	}

	res := InsertResult{Accepted: true}
	err = l.Do(ctx, func(tx *Tx) error {
		if !replay {
			t = tx.LogTransfer(t)
		}
		r := cfg.record(from, to, t.Quantity.Amount)
		r.Day = DayOf(t.Timestamp)
		r.ID = tx.NextRecordID(r.Day)
		r.Timestamp = t.Timestamp
		if err := tx.PutRecord(r); err != nil {
			return err
		}
		res.Record = r

		tx.AddRollup(Rollup{
			Account:           from.Name,
			TotalVolume:       t.Quantity.Amount,
			TotalTransactions: 1,
			OutgoingToOrgs:    boolCount(to.IsOrganization()),
		})
		if from.IsOrganization() {
			tx.AddRollup(Rollup{Account: to.Name, IncomingFromOrgs: 1})
		}

		if replay {
			return l.settle(ctx, tx, from.Name)
		}
		job, err := scheduler.NewJob(SettleOwner(from.Name), KindSettle, accountPayload{Account: from.Name})
		if err != nil {
			return err
		}
		tx.Schedule(job, 1)
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return res, nil
}

func boolCount(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Settle commits every unsettled record of an account in insertion order.
func (l *Ledger) Settle(ctx context.Context, from string) error {
	return l.Do(ctx, func(tx *Tx) error { return l.settle(ctx, tx, from) })
}

func (l *Ledger) settle(ctx context.Context, tx *Tx, from string) error {
	refs := tx.Unsettled(from)
	if len(refs) == 0 {
		return nil
	}
	capacity, err := Int(l.settings, KeyWindowCap)
	if err != nil {
		return err
	}
	if capacity < 1 {
		return fmt.Errorf("%s=%d: %w", KeyWindowCap, capacity, ErrInvariantViolation)
	}
	fromAcc, err := l.registry.Lookup(ctx, from)
	if err != nil {
		return fmt.Errorf("settle %s: %w", from, err)
	}
	recipients := make(map[string]Account)

	var (
		lastDay int64
		settled int
	)
	for _, ref := range refs {
		r, ok := tx.Record(ref)
		if !ok || r.Settled {
			// evicted while settling an earlier record
			continue
		}
		to, ok := recipients[r.To]
		if !ok {
			if to, err = l.registry.Lookup(ctx, r.To); err != nil {
				return fmt.Errorf("settle %s -> %s: %w", from, r.To, err)
			}
			recipients[r.To] = to
		}

		fromDelta, toDelta, qvDelta := int64(r.FromPoints), int64(r.ToPoints), r.QualifyingVolume
		evictedSelf := false
		pair := tx.Pair(r.Day, r.From, r.To)
		for int64(len(pair)) > capacity {
			i := minVolume(pair)
			ev := pair[i]
			pair = append(pair[:i], pair[i+1:]...)
			tx.DeleteRecord(ev.Ref())
			self := ev.ID == r.ID
			evictedSelf = evictedSelf || self
			if ev.Settled || self {
				fromDelta -= int64(ev.FromPoints)
				toDelta -= int64(ev.ToPoints)
				qvDelta -= ev.QualifyingVolume
			}
			l.logger.Debug("evicted record",
				zap.String("from", ev.From),
				zap.String("to", ev.To),
				zap.Int64("day", ev.Day),
				zap.Uint64("id", ev.ID),
				zap.Int64("volume", ev.Volume))
		}

		tx.ApplyDelta(PointsKey(from, r.Day), fromDelta)
		tx.ApplyDelta(QualifyingKey(from, r.Day), qvDelta)
		tx.ApplyDelta(GlobalQualifyingKey(r.Day), qvDelta)
		if to.IsOrganization() {
			tx.ApplyDelta(PointsKey(to.Name, r.Day), toDelta)
		}
		if !evictedSelf {
			if err := tx.MarkSettled(r.Ref()); err != nil {
				return err
			}
		}
		lastDay = r.Day
		settled++
	}

	if settled > 0 && !fromAcc.IsOrganization() {
		job, err := scheduler.NewJob(NotifyOwner(from), KindNotify, accountPayload{Account: from, Day: lastDay})
		if err != nil {
			return err
		}
		tx.Schedule(job, 1)
	}
	return nil
}

// minVolume returns the first entry with the smallest volume.
func minVolume(rs []Record) int {
	idx := 0
	for i := 1; i < len(rs); i++ {
		if rs[i].Volume < rs[idx].Volume {
			idx = i
		}
	}
	return idx
}

// Notify hands the account's current totals to the reward collaborator.
func (l *Ledger) Notify(ctx context.Context, account string, day int64) error {
	if l.notifier == nil {
		return nil
	}
	ev := PointsChanged{Account: account, Day: day}
	l.View(func() {
		ev.DayPoints, _ = l.aggregates.Get(PointsKey(account, day))
		ev.Rollup, _ = l.rollups.Get(account)
	})
	ev.Rollup.Account = account
	if err := l.notifier.PointsChanged(ctx, ev); err != nil {
		return fmt.Errorf("notify %s: %w", account, err)
	}
	return nil
}

func (l *Ledger) handleSettle(ctx context.Context, job scheduler.Job) error {
	var p accountPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return l.Settle(ctx, p.Account)
}

func (l *Ledger) handleNotify(ctx context.Context, job scheduler.Job) error {
	var p accountPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return l.Notify(ctx, p.Account, p.Day)
}

// StartReplay schedules a chunked re-ingestion of the transfer log. A zero chunk size
// uses the batch size setting.
func (l *Ledger) StartReplay(ctx context.Context, chunkSize uint64) error {
	if l.log == nil {
		return fmt.Errorf("replay needs a transfer log: %w", ErrInvariantViolation)
	}
	if chunkSize == 0 {
		n, err := Int(l.settings, KeyBatchSize)
		if err != nil {
			return err
		}
		chunkSize = uint64(max(n, 0))
	}
	if chunkSize == 0 {
		return fmt.Errorf("replay chunk size 0: %w", ErrInvariantViolation)
	}
	job, err := scheduler.NewJob(ReplayOwner, KindReplay, scheduler.Continuation{ChunkSize: chunkSize})
	if err != nil {
		return err
	}
	return l.scheduler.Schedule(ctx, job, 1)
}

// Replay ingests one chunk of the transfer log after the cursor with immediate
// settlement. It returns the continuation, or false when the log is exhausted.
func (l *Ledger) Replay(ctx context.Context, c scheduler.Continuation) (scheduler.Continuation, bool, error) {
	if c.ChunkSize == 0 {
		return c, false, fmt.Errorf("replay chunk size 0: %w", ErrInvariantViolation)
	}
	if l.log == nil {
		return c, false, fmt.Errorf("replay needs a transfer log: %w", ErrInvariantViolation)
	}
	after, err := scheduler.ParseSeqCursor(c.Cursor)
	if err != nil {
		return c, false, fmt.Errorf("replay cursor %q: %w", c.Cursor, ErrInvariantViolation)
	}
	if c.ChunkSize > math.MaxInt32 {
		c.ChunkSize = math.MaxInt32
	}
	page, err := l.log.Page(ctx, after, int(c.ChunkSize))
	if err != nil {
		return c, false, fmt.Errorf("read transfer log after %d: %w", after, err)
	}
	for _, t := range page {
		if _, err := l.insert(ctx, t, true); err != nil {
			return c, false, fmt.Errorf("replay transfer %d: %w", t.Seq, err)
		}
		l.mu.Lock()
		if t.Seq > l.transferSeq {
			l.transferSeq = t.Seq
		}
		l.mu.Unlock()
		after = t.Seq
	}
	l.logger.Info("replayed transfer log chunk",
		zap.Uint64("chunk", c.Chunk),
		zap.Int("transfers", len(page)),
		zap.Uint64("cursor", after))
	if uint64(len(page)) < c.ChunkSize {
		return c, false, nil
	}
	return c.Next(scheduler.SeqCursor(after)), true, nil
}

func (l *Ledger) handleReplay(ctx context.Context, job scheduler.Job) error {
	var c scheduler.Continuation
	if err := job.Decode(&c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	next, more, err := l.Replay(ctx, c)
	if err != nil || !more {
		return err
	}
	job, err = scheduler.NewJob(ReplayOwner, KindReplay, next)
	if err != nil {
		return err
	}
	return l.scheduler.Schedule(ctx, job, 1)
}

// RescheduleUnsettled schedules Settle for every account that still holds unsettled
// records and returns how many were scheduled.
func (l *Ledger) RescheduleUnsettled(ctx context.Context) (int, error) {
	var senders []string
	l.View(func() { senders = l.window.UnsettledSenders() })
	for i, from := range senders {
		job, err := scheduler.NewJob(SettleOwner(from), KindSettle, accountPayload{Account: from})
		if err != nil {
			return i, err
		}
		if err := l.scheduler.Schedule(ctx, job, 1); err != nil {
			return i, fmt.Errorf("reschedule settle for %s: %w", from, err)
		}
	}
	return len(senders), nil
}

// AddStatus lists a known account under a status. Reputable and regenerative lists
// only take organizations.
func (l *Ledger) AddStatus(ctx context.Context, list StatusList, account string) (StatusEntry, error) {
	acc, err := l.registry.Lookup(ctx, account)
	if err != nil {
		return StatusEntry{}, fmt.Errorf("list %s as %s: %w", account, list, err)
	}
	if list.OrganizationsOnly() && !acc.IsOrganization() {
		return StatusEntry{}, fmt.Errorf("%s is not an organization: %w", account, ErrInvariantViolation)
	}
	var e StatusEntry
	err = l.Do(ctx, func(tx *Tx) error {
		e, err = tx.AddStatus(list, account)
		return err
	})
	return e, err
}

// Recount recomputes the status list counters from the lists themselves.
func (l *Ledger) Recount(ctx context.Context) (map[string]uint64, error) {
	out := make(map[string]uint64, len(StatusLists))
	err := l.Do(ctx, func(tx *Tx) error {
		for _, s := range StatusLists {
			n := uint64(tx.StatusCount(s))
			tx.SetSize(s.SizeID(), n)
			out[s.SizeID()] = n
		}
		return nil
	})
	return out, err
}

func (l *Ledger) AddHistoryEntry(ctx context.Context, account, action string, amount int64, meta string) (HistoryEntry, error) {
	if _, err := l.registry.Lookup(ctx, account); err != nil {
		return HistoryEntry{}, fmt.Errorf("history for %s: %w", account, err)
	}
	var e HistoryEntry
	err := l.Do(ctx, func(tx *Tx) error {
		e = tx.AddHistory(account, action, amount, meta)
		return nil
	})
	return e, err
}

// PurgeDay drops every record of a day. Aggregates are kept.
func (l *Ledger) PurgeDay(ctx context.Context, day int64) (int, error) {
	if day != DayOf(day) {
		return 0, fmt.Errorf("%d is not the start of a day: %w", day, ErrInvariantViolation)
	}
	n := 0
	err := l.Do(ctx, func(tx *Tx) error {
		for _, r := range tx.DayRecords(day) {
			tx.DeleteRecord(r.Ref())
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.logger.Info("purged day", zap.Int64("day", day), zap.Int("records", n))
	return n, nil
}

// Reset wipes every record, total, counter and list, plus the state of registered
// collaborators. The transfer log is kept.
func (l *Ledger) Reset(ctx context.Context) error {
	err := l.Do(ctx, func(tx *Tx) error {
		tx.resetState()
		for _, hook := range l.resetHooks {
			hook(tx)
		}
		return nil
	})
	if err == nil {
		l.logger.Warn("ledger reset")
	}
	return err
}

func (l *Ledger) Rollup(account string) (Rollup, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rollups.Get(account)
}

func (l *Ledger) Points(account string, day int64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, _ := l.aggregates.Get(PointsKey(account, day))
	return v
}

func (l *Ledger) PointsRange(account string, fromDay, toDay int64) []AggregateRow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.aggregates.Days(AggregatePoints, account, fromDay, toDay)
}

func (l *Ledger) QualifyingVolume(account string, day int64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, _ := l.aggregates.Get(QualifyingKey(account, day))
	return v
}

func (l *Ledger) GlobalQualifyingVolume(day int64) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, _ := l.aggregates.Get(GlobalQualifyingKey(day))
	return v
}

func (l *Ledger) Pair(day int64, from, to string) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window.Pair(day, from, to)
}

func (l *Ledger) Unsettled(from string) []RecordRef {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window.Unsettled(from)
}

func (l *Ledger) History(account string) []HistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.history.list(account)
}

func (l *Ledger) StatusEntries(list StatusList) []StatusEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statuses.entries(list)
}

func (l *Ledger) Size(id string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sizes.Get(id)
}

func (l *Ledger) Sizes() map[string]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sizes.All()
}

func (l *Ledger) Records() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.window.Len()
}
