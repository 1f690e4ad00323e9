package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeLedger struct {
	errs  []error
	calls []ledger.Transfer
}

func (f *fakeLedger) Insert(_ context.Context, t ledger.Transfer) (ledger.InsertResult, error) {
	f.calls = append(f.calls, t)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return ledger.InsertResult{}, err
		}
	}
	return ledger.InsertResult{Accepted: true}, nil
}

func newHandler(t *testing.T, l Inserter) *handler {
	return &handler{
		ledger: l,
		retry:  retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
		logger: zaptest.NewLogger(t),
	}
}

func message(value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "transfers", Value: []byte(value), Offset: 7}
}

const transferJSON = `{"seq":99,"from":"alice","to":"org1","quantity":{"amount":250000,"symbol":"SEEDS"},"timestamp":1699920060}`

func TestHandleInsertsTransfer(t *testing.T) {
	l := &fakeLedger{}
	require.NoError(t, newHandler(t, l).handle(context.Background(), message(transferJSON)))
	require.Len(t, l.calls, 1)

	got := l.calls[0]
	assert.Equal(t, "alice", got.From)
	assert.Equal(t, int64(250000), got.Quantity.Amount)
	assert.Zero(t, got.Seq, "sequence numbers are assigned by the ledger")
}

func TestHandleSkipsBadMessages(t *testing.T) {
	l := &fakeLedger{errs: []error{fmt.Errorf("amount 0: %w", ledger.ErrInvariantViolation)}}
	h := newHandler(t, l)
	require.NoError(t, h.handle(context.Background(), message("{not json")))
	assert.Empty(t, l.calls)

	require.NoError(t, h.handle(context.Background(), message(transferJSON)))
	assert.Len(t, l.calls, 1, "invariant violations are not retried")
}

func TestHandleRetriesTransientFailures(t *testing.T) {
	boom := errors.New("sink unavailable")
	l := &fakeLedger{errs: []error{boom, nil}}
	require.NoError(t, newHandler(t, l).handle(context.Background(), message(transferJSON)))
	assert.Len(t, l.calls, 2)

	l = &fakeLedger{errs: []error{boom, boom, boom}}
	err := newHandler(t, l).handle(context.Background(), message(transferJSON))
	require.ErrorIs(t, err, boom)
	assert.Len(t, l.calls, 3)

	l = &fakeLedger{errs: []error{ledger.ErrConfigMissing, ledger.ErrConfigMissing, ledger.ErrConfigMissing}}
	require.ErrorIs(t, newHandler(t, l).handle(context.Background(), message(transferJSON)), ledger.ErrConfigMissing)
}

func TestNewConsumerValidatesConfig(t *testing.T) {
	_, err := NewConsumer(Config{Group: "g", Topic: "t"}, &fakeLedger{}, zaptest.NewLogger(t))
	require.Error(t, err)
	_, err = NewConsumer(Config{Brokers: []string{"localhost:9092"}, Topic: "t"}, &fakeLedger{}, zaptest.NewLogger(t))
	require.Error(t, err)
}
