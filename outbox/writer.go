// Package outbox records domain events inside store transactions and relays
// committed events to the message broker.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"freightflow/domain"
	"freightflow/store"
)

// Writer appends events to the transaction's outbox.
type Writer struct {
	idGenerator func() string
	now         func() time.Time
}

func NewWriter() *Writer {
	return &Writer{
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (w *Writer) WithIDGenerator(gen func() string) *Writer {
	w.idGenerator = gen
	return w
}

func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// Enqueue appends one event keyed by aggregateID. An empty actorID records a
// system-initiated change such as expiry.
func (w *Writer) Enqueue(ctx context.Context, tx store.Tx, topic, aggregateID, actorID string, payload map[string]any) error {
	ev := domain.Event{
		ID:          w.idGenerator(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		CreatedAt:   w.now().UTC(),
	}
	if actorID != "" {
		ev.ActorID = &actorID
	}
	if err := tx.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("outbox: enqueue %s: %w", topic, err)
	}
	return nil
}
