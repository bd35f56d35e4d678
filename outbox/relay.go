package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"freightflow/domain"
	"freightflow/metrics"
)

// Publisher delivers one encoded event to the broker.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Source is the store side of the relay.
type Source interface {
	PendingEvents(ctx context.Context, limit int) ([]domain.Event, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
	MarkEventsFailed(ctx context.Context, ids []string) error
}

// Message is the JSON envelope written to the broker.
type Message struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	AggregateID string         `json:"aggregateId"`
	ActorID     *string        `json:"actorId,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
	Payload     map[string]any `json:"payload"`
}

type Relay struct {
	source      Source
	publisher   Publisher
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	sendTimeout time.Duration
	now         func() time.Time
}

func NewRelay(source Source, publisher Publisher, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		source:      source,
		publisher:   publisher,
		logger:      logger,
		interval:    2 * time.Second,
		batchSize:   50,
		sendTimeout: 5 * time.Second,
		now:         time.Now,
	}
}

func (r *Relay) WithInterval(d time.Duration) *Relay {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *Relay) WithBatchSize(n int) *Relay {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *Relay) WithClock(now func() time.Time) *Relay {
	r.now = now
	return r
}

// Run polls until ctx is done. Batch errors are logged and retried on the
// next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval, "batch", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.Error("outbox relay batch failed", "err", err)
			}
		}
	}
}

// RelayOnce publishes one batch and returns how many events were delivered.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.source.PendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	var published, failed []string
	for _, e := range events {
		value, err := json.Marshal(Message{
			ID:          e.ID,
			Type:        e.Topic,
			AggregateID: e.AggregateID,
			ActorID:     e.ActorID,
			OccurredAt:  e.CreatedAt,
			Payload:     e.Payload,
		})
		if err != nil {
			r.logger.Error("outbox: encode event", "event_id", e.ID, "err", err)
			metrics.OutboxFailed.Inc()
			failed = append(failed, e.ID)
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		err = r.publisher.Publish(sendCtx, []byte(e.AggregateID), value)
		cancel()
		if err != nil {
			r.logger.Warn("outbox: publish event", "event_id", e.ID, "topic", e.Topic, "err", err)
			metrics.OutboxFailed.Inc()
			failed = append(failed, e.ID)
			continue
		}
		metrics.OutboxPublished.Inc()
		published = append(published, e.ID)
	}

	if len(published) > 0 {
		if err := r.source.MarkEventsPublished(ctx, published, r.now().UTC()); err != nil {
			return 0, fmt.Errorf("outbox: mark published: %w", err)
		}
		r.logger.Debug("outbox batch published", "count", len(published))
	}
	if len(failed) > 0 {
		if err := r.source.MarkEventsFailed(ctx, failed); err != nil {
			r.logger.Error("outbox: mark failed", "err", err)
		}
	}
	return len(published), nil
}
