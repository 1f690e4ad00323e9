package scheduler

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	MailboxWorkflowName = "MailboxWorkflow"
	RunJobActivityName  = "RunJob"
	// CommandSignal carries both schedule and cancel commands so they are applied in send order.
	CommandSignal = "mailbox-command"
)

type CommandOp string

const (
	OpSchedule CommandOp = "schedule"
	OpCancel   CommandOp = "cancel"
)

// Command is the signal payload of a mailbox.
type Command struct {
	Op    CommandOp `json:"op"`
	Job   Job       `json:"job"`
	Delay int       `json:"delay"`
}

// MailboxInput starts (or continues) the mailbox of one owner.
type MailboxInput struct {
	Tick time.Duration `json:"tick"`
	// MaxRuns bounds the history of one run; the mailbox continues as new after it.
	MaxRuns int `json:"max_runs"`
	// Carried over a continue-as-new.
	Pending *Command `json:"pending,omitempty"`
}

// Mailbox holds at most one pending job per owner. A schedule command replaces the job
// and rearms the timer, a cancel drops it; when the timer fires the job runs through
// the RunJob activity. The mailbox exits once nothing is pending.
func Mailbox(ctx workflow.Context, in MailboxInput) error {
	logger := workflow.GetLogger(ctx)
	if in.Tick <= 0 {
		in.Tick = time.Second
	}
	if in.MaxRuns <= 0 {
		in.MaxRuns = 500
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{jobFailedErrorType},
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)
	commands := workflow.GetSignalChannel(ctx, CommandSignal)

	pending := in.Pending
	apply := func(cmd Command) {
		switch cmd.Op {
		case OpSchedule:
			c := cmd
			pending = &c
		case OpCancel:
			pending = nil
		default:
			logger.Warn("Ignoring unknown mailbox command", "op", cmd.Op)
		}
	}
	drain := func() {
		var cmd Command
		for commands.ReceiveAsync(&cmd) {
			apply(cmd)
			cmd = Command{}
		}
	}

	runs := 0
	for {
		drain()
		if pending == nil {
			return nil
		}

		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		timer := workflow.NewTimer(timerCtx, time.Duration(pending.Delay)*in.Tick)
		fired := false
		sel := workflow.NewSelector(ctx)
		sel.AddFuture(timer, func(f workflow.Future) {
			fired = f.Get(timerCtx, nil) == nil
		})
		sel.AddReceive(commands, func(c workflow.ReceiveChannel, _ bool) {
			var cmd Command
			c.Receive(ctx, &cmd)
			apply(cmd)
		})
		sel.Select(ctx)
		if !fired {
			cancelTimer()
			continue
		}

		job := pending.Job
		pending = nil
		if err := workflow.ExecuteActivity(actx, RunJobActivityName, job).Get(actx, nil); err != nil {
			logger.Error("Job failed, it will not be resubmitted", "owner", job.Owner, "kind", job.Kind, "error", err)
		}
		runs++

		if runs >= in.MaxRuns {
			drain()
			if pending == nil {
				return nil
			}
			logger.Info("Mailbox continuing as new", "owner", pending.Job.Owner, "runs", runs)
			return workflow.NewContinueAsNewError(ctx, MailboxWorkflowName, MailboxInput{
				Tick:    in.Tick,
				MaxRuns: in.MaxRuns,
				Pending: pending,
			})
		}
	}
}

const jobFailedErrorType = "job_failed"

// RunJob is the activity behind every mailbox. Handler errors are final; only
// infrastructure failures are retried by Temporal.
func (d *Dispatcher) RunJob(ctx context.Context, job Job) error {
	if err := d.Dispatch(ctx, job); err != nil {
		return temporal.NewNonRetryableApplicationError(err.Error(), jobFailedErrorType, err)
	}
	return nil
}
