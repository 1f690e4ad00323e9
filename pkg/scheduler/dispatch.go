package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// RunStatus is the outcome of the last run of an owner's job.
type RunStatus struct {
	Owner    string    `json:"owner"`
	Kind     string    `json:"kind"`
	Job      Job       `json:"job"`
	LastRun  time.Time `json:"last_run"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	LastErr  string    `json:"last_error,omitempty"`
	Failed   bool      `json:"failed"`
}

// Tracker remembers how each owner's last job ended so stalled jobs can be found and restarted.
type Tracker struct {
	runs *xsync.Map[string, RunStatus]
	now  func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{runs: xsync.NewMap[string, RunStatus](), now: time.Now}
}

func (t *Tracker) record(job Job, err error) {
	t.runs.Compute(job.Owner, func(st RunStatus, _ bool) (RunStatus, xsync.ComputeOp) {
		st.Owner = job.Owner
		st.Kind = job.Kind
		st.Job = job
		st.LastRun = t.now()
		st.Runs++
		st.Failed = err != nil
		st.LastErr = ""
		if err != nil {
			st.Failures++
			st.LastErr = err.Error()
		}
		return st, xsync.UpdateOp
	})
}

// Fail marks job as failed without counting a run, so the watchdog resubmits it.
func (t *Tracker) Fail(job Job, err error) {
	t.runs.Compute(job.Owner, func(st RunStatus, _ bool) (RunStatus, xsync.ComputeOp) {
		st.Owner = job.Owner
		st.Kind = job.Kind
		st.Job = job
		st.Failed = true
		st.Failures++
		st.LastErr = err.Error()
		return st, xsync.UpdateOp
	})
}

// Status returns the last run of an owner.
func (t *Tracker) Status(owner string) (RunStatus, bool) {
	return t.runs.Load(owner)
}

// Failed lists owners whose last job returned an error, ordered by owner.
func (t *Tracker) Failed() []RunStatus {
	var out []RunStatus
	t.runs.Range(func(_ string, st RunStatus) bool {
		if st.Failed {
			out = append(out, st)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// All lists every tracked owner.
func (t *Tracker) All() []RunStatus {
	var out []RunStatus
	t.runs.Range(func(_ string, st RunStatus) bool {
		out = append(out, st)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Owner < out[j].Owner })
	return out
}

// Clear forgets an owner, typically after a restart was issued.
func (t *Tracker) Clear(owner string) { t.runs.Delete(owner) }

// Dispatcher routes jobs to handlers by kind and records every outcome.
type Dispatcher struct {
	logger   *zap.Logger
	handlers *xsync.Map[string, Handler]
	tracker  *Tracker
}

func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: xsync.NewMap[string, Handler](),
		tracker:  NewTracker(),
	}
}

func (d *Dispatcher) Handle(kind string, h Handler) { d.handlers.Store(kind, h) }

func (d *Dispatcher) Tracker() *Tracker { return d.tracker }

// Dispatch runs the handler registered for job.Kind.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (err error) {
	h, ok := d.handlers.Load(job.Kind)
	if !ok {
		err = fmt.Errorf("no handler registered for job kind %q", job.Kind)
		d.tracker.record(job, err)
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s/%s panicked: %v", job.Owner, job.Kind, r)
		}
		var unscheduled *UnscheduledError
		if errors.As(err, &unscheduled) {
			// the run committed; the tracker already holds the lost follow-up
			if unscheduled.Job.Owner != job.Owner {
				d.tracker.record(job, nil)
			}
			d.logger.Error("job committed but its follow-up was not scheduled",
				zap.String("owner", job.Owner),
				zap.String("follow_up", unscheduled.Job.Owner),
				zap.Error(err))
			return
		}
		d.tracker.record(job, err)
		if err != nil {
			d.logger.Error("job failed, it will not be resubmitted",
				zap.String("owner", job.Owner),
				zap.String("kind", job.Kind),
				zap.Error(err))
		}
	}()
	return h(ctx, job)
}
