package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/canopy-network/repledger/pkg/retry"
	"go.uber.org/zap"
)

// Inserter is the ledger entry point transfers are fed into.
type Inserter interface {
	Insert(ctx context.Context, t ledger.Transfer) (ledger.InsertResult, error)
}

// Config selects the brokers, group and topic of the transfer feed.
type Config struct {
	Brokers []string
	Group   string
	Topic   string
	// Retry bounds how long a transiently failing insert is retried before the
	// claim is abandoned and the message left for redelivery.
	Retry retry.Config
}

// Consumer feeds transfer events from a Kafka consumer group into the ledger.
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	ledger Inserter
	retry  retry.Config
	logger *zap.Logger
}

func NewConsumer(cfg Config, l Inserter, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers")
	}
	if cfg.Topic == "" || cfg.Group == "" {
		return nil, errors.New("kafka topic and group are required")
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.Config{MaxRetries: 5, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, JitterEnabled: true}
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_1_0_0
	sc.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRange
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true

	cg, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.Group, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group %s: %w", cfg.Group, err)
	}
	return &Consumer{group: cg, topic: cfg.Topic, ledger: l, retry: cfg.Retry, logger: logger}, nil
}

// Run consumes until ctx is done, rejoining the group after every rebalance.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case err, ok := <-c.group.Errors():
				if !ok {
					return
				}
				c.logger.Warn("kafka consumer error", zap.Error(err))
			case <-ctx.Done():
				return
			}
		}
	}()
	defer wg.Wait()

	h := &handler{ledger: c.ledger, retry: c.retry, logger: c.logger}
	c.logger.Info("consuming transfers", zap.String("topic", c.topic))
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume %s: %w", c.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error { return c.group.Close() }

type handler struct {
	ledger Inserter
	retry  retry.Config
	logger *zap.Logger
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(session.Context(), msg); err != nil {
				// offset stays unmarked; the message comes back after the next rebalance
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handle inserts one message. Malformed payloads and invariant violations are logged
// and skipped; anything else is retried and finally returned.
func (h *handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var t ledger.Transfer
	if err := json.Unmarshal(msg.Value, &t); err != nil {
		h.logger.Warn("skipping malformed transfer",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	t.Seq = 0

	var res ledger.InsertResult
	err := retry.WithBackoff(ctx, h.retry, h.logger, "insert transfer", func() error {
		var err error
		res, err = h.ledger.Insert(ctx, t)
		if errors.Is(err, ledger.ErrInvariantViolation) || errors.Is(err, ledger.ErrDuplicateKey) {
			return retry.Permanent(err)
		}
		return err
	})
	switch {
	case errors.Is(err, ledger.ErrInvariantViolation), errors.Is(err, ledger.ErrDuplicateKey):
		h.logger.Warn("skipping rejected transfer",
			zap.String("from", t.From),
			zap.String("to", t.To),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	case err != nil:
		return err
	}
	if !res.Accepted {
		h.logger.Debug("transfer ignored", zap.String("reason", res.Reason), zap.Int64("offset", msg.Offset))
	}
	return nil
}
