package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type pendingJob struct {
	job Job
	due uint64
	seq uint64
}

// Memory is an in-process tick scheduler. Each owner has at most one pending job;
// Tick advances the clock by one tick and runs every job that came due, in due order.
type Memory struct {
	*Dispatcher

	mu      sync.Mutex
	tick    uint64
	seq     uint64
	pending map[string]pendingJob
	logger  *zap.Logger
}

func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		Dispatcher: NewDispatcher(logger),
		pending:    make(map[string]pendingJob),
		logger:     logger,
	}
}

// Schedule replaces any pending job of job.Owner.
func (m *Memory) Schedule(_ context.Context, job Job, delayTicks int) error {
	if err := Validate(job, delayTicks); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if _, replaced := m.pending[job.Owner]; replaced {
		m.logger.Debug("replacing pending job", zap.String("owner", job.Owner), zap.String("kind", job.Kind))
	}
	m.pending[job.Owner] = pendingJob{job: job, due: m.tick + uint64(delayTicks), seq: m.seq}
	return nil
}

// Cancel drops the pending job of owner, if any.
func (m *Memory) Cancel(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, owner)
	return nil
}

// Pending returns the job waiting for owner.
func (m *Memory) Pending(owner string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[owner]
	return p.job, ok
}

// Len is the number of pending jobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Now returns the current tick.
func (m *Memory) Now() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick
}

// Tick advances one tick and runs the jobs that came due. Jobs scheduled by handlers
// are at least one tick away, so they never run within the same Tick.
// It returns the number of jobs run.
func (m *Memory) Tick(ctx context.Context) int {
	m.mu.Lock()
	m.tick++
	var due []pendingJob
	for owner, p := range m.pending {
		if p.due <= m.tick {
			due = append(due, p)
			delete(m.pending, owner)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})
	for _, p := range due {
		if ctx.Err() != nil {
			return 0
		}
		// failures are recorded by the dispatcher; nothing is resubmitted
		_ = m.Dispatch(ctx, p.job)
	}
	return len(due)
}

// Drain ticks until nothing is pending or maxTicks is reached and returns the ticks used.
func (m *Memory) Drain(ctx context.Context, maxTicks int) int {
	n := 0
	for n < maxTicks && m.Len() > 0 {
		m.Tick(ctx)
		n++
	}
	return n
}

// Run drives Tick from a wall-clock ticker until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	m.logger.Info("memory scheduler started", zap.Duration("tick", interval))
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("memory scheduler stopped", zap.Int("pending", m.Len()))
			return
		case <-t.C:
			m.Tick(ctx)
		}
	}
}
