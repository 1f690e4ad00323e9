package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"
)

// Temporal runs every owner key as a long-lived mailbox workflow whose ID is the owner.
type Temporal struct {
	*Dispatcher

	client  client.Client
	queue   string
	tick    time.Duration
	maxRuns int
	logger  *zap.Logger
}

type TemporalOptions struct {
	TaskQueue string
	Tick      time.Duration
	MaxRuns   int
}

func NewTemporal(logger *zap.Logger, c client.Client, opts TemporalOptions) *Temporal {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	return &Temporal{
		Dispatcher: NewDispatcher(logger),
		client:     c,
		queue:      opts.TaskQueue,
		tick:       opts.Tick,
		maxRuns:    opts.MaxRuns,
		logger:     logger,
	}
}

// Schedule signals the owner's mailbox, starting it when it is not running.
func (t *Temporal) Schedule(ctx context.Context, job Job, delayTicks int) error {
	if err := Validate(job, delayTicks); err != nil {
		return err
	}
	opts := client.StartWorkflowOptions{
		ID:                    job.Owner,
		TaskQueue:             t.queue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 1.2,
			MaximumInterval:    5 * time.Second,
			MaximumAttempts:    3,
		},
	}
	cmd := Command{Op: OpSchedule, Job: job, Delay: delayTicks}
	in := MailboxInput{Tick: t.tick, MaxRuns: t.maxRuns}
	if _, err := t.client.SignalWithStartWorkflow(ctx, job.Owner, CommandSignal, cmd, opts, MailboxWorkflowName, in); err != nil {
		return fmt.Errorf("signal mailbox %s: %w", job.Owner, err)
	}
	return nil
}

// Cancel drops the pending job of owner. A mailbox that is not running has nothing to cancel.
func (t *Temporal) Cancel(ctx context.Context, owner string) error {
	err := t.client.SignalWorkflow(ctx, owner, "", CommandSignal, Command{Op: OpCancel})
	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cancel mailbox %s: %w", owner, err)
	}
	return nil
}

// NewWorker returns a worker serving the mailboxes on the scheduler task queue.
func (t *Temporal) NewWorker() worker.Worker {
	w := worker.New(t.client, t.queue, worker.Options{
		MaxConcurrentWorkflowTaskPollers: 5,
		MaxConcurrentActivityTaskPollers: 5,
		WorkerStopTimeout:                time.Minute,
	})
	w.RegisterWorkflowWithOptions(Mailbox, workflow.RegisterOptions{Name: MailboxWorkflowName})
	w.RegisterActivityWithOptions(t.RunJob, activity.RegisterOptions{Name: RunJobActivityName})
	return w
}
