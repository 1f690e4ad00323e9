package reward

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/repledger/pkg/ledger"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// EventPointsChanged is the type of every event the ledger emits.
const EventPointsChanged = "points.changed"

// Event is the envelope published to the reward side and to live listeners.
type Event struct {
	ID   string               `json:"id"`
	Type string               `json:"type"`
	At   time.Time            `json:"at"`
	Data ledger.PointsChanged `json:"data"`
}

func NewEvent(ev ledger.PointsChanged) Event {
	return Event{ID: uuid.NewString(), Type: EventPointsChanged, At: time.Now().UTC(), Data: ev}
}

// Subscription receives hub events until it is closed. C is never closed.
type Subscription struct {
	ID string
	C  <-chan Event

	hub *Hub
}

func (s *Subscription) Close() { s.hub.unsubscribe(s.ID) }

// Hub fans events out to in-process subscribers. A subscriber that falls behind
// loses events rather than stalling the publisher.
type Hub struct {
	logger *zap.Logger
	subs   *xsync.Map[string, chan Event]
	buffer int
}

func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{logger: logger, subs: xsync.NewMap[string, chan Event](), buffer: buffer}
}

func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)
	id := uuid.NewString()
	h.subs.Store(id, ch)
	return &Subscription{ID: id, C: ch, hub: h}
}

// unsubscribe leaves the channel open so a concurrent Broadcast never sends on a closed channel.
func (h *Hub) unsubscribe(id string) { h.subs.Delete(id) }

// Len is the number of live subscribers.
func (h *Hub) Len() int { return h.subs.Size() }

func (h *Hub) Broadcast(e Event) {
	h.subs.Range(func(id string, ch chan Event) bool {
		select {
		case ch <- e:
		default:
			h.logger.Warn("dropping event for slow subscriber", zap.String("subscriber", id), zap.String("event", e.ID))
		}
		return true
	})
}

// PointsChanged makes the hub a ledger notifier for single-instance deployments.
func (h *Hub) PointsChanged(_ context.Context, ev ledger.PointsChanged) error {
	h.Broadcast(NewEvent(ev))
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []ledger.Notifier

func (f Fanout) PointsChanged(ctx context.Context, ev ledger.PointsChanged) error {
	var errs []error
	for _, n := range f {
		if err := n.PointsChanged(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
