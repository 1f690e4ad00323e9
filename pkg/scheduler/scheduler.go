package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidDelay is returned when a job is scheduled less than one tick ahead.
var ErrInvalidDelay = errors.New("delay must be at least one tick")

// Job is a deferred one-shot unit of work. Owner is the cancel-and-replace identity:
// scheduling a job for an owner drops whatever that owner had pending.
type Job struct {
	Owner   string          `json:"owner"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewJob encodes payload into a Job.
func NewJob(owner, kind string, payload any) (Job, error) {
	job := Job{Owner: owner, Kind: kind}
	if payload == nil {
		return job, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	job.Payload = raw
	return job, nil
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if len(j.Payload) == 0 {
		return fmt.Errorf("job %s/%s has no payload", j.Owner, j.Kind)
	}
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", j.Kind, err)
	}
	return nil
}

// Continuation is the resumption state of a chunked job.
type Continuation struct {
	Cursor    string `json:"cursor,omitempty"`
	Chunk     uint64 `json:"chunk"`
	ChunkSize uint64 `json:"chunk_size"`
}

// Next returns the continuation of the following chunk starting at cursor.
func (c Continuation) Next(cursor string) Continuation {
	return Continuation{Cursor: cursor, Chunk: c.Chunk + 1, ChunkSize: c.ChunkSize}
}

// SeqCursor encodes a numeric cursor.
func SeqCursor(seq uint64) string { return strconv.FormatUint(seq, 10) }

// ParseSeqCursor decodes a numeric cursor; the empty cursor is 0.
func ParseSeqCursor(c string) (uint64, error) {
	if c == "" {
		return 0, nil
	}
	return strconv.ParseUint(c, 10, 64)
}

// Handler runs one job. Returning an error aborts the job: it is not resubmitted.
type Handler func(ctx context.Context, job Job) error

// Scheduler defers jobs by whole ticks with cancel-and-replace per owner.
type Scheduler interface {
	Schedule(ctx context.Context, job Job, delayTicks int) error
	Cancel(ctx context.Context, owner string) error
	Handle(kind string, h Handler)
	Tracker() *Tracker
}

// Validate checks a job and delay the way Schedule does, without scheduling anything.
func Validate(job Job, delayTicks int) error {
	if delayTicks < 1 {
		return fmt.Errorf("schedule %s for %s: %w", job.Kind, job.Owner, ErrInvalidDelay)
	}
	if job.Owner == "" || job.Kind == "" {
		return fmt.Errorf("job needs an owner and a kind (owner=%q kind=%q)", job.Owner, job.Kind)
	}
	return nil
}

// UnscheduledError reports a job that was lost because its unit of work committed
// but the scheduler refused the follow-up. The tracker marks the job failed.
type UnscheduledError struct {
	Job Job
	Err error
}

func (e *UnscheduledError) Error() string {
	return fmt.Sprintf("schedule %s/%s after commit: %v", e.Job.Owner, e.Job.Kind, e.Err)
}

func (e *UnscheduledError) Unwrap() error { return e.Err }
