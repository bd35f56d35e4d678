// Package freight owns the freight request lifecycle: creation, edits, the
// status state machine with its side effects, and lazy expiry.
package freight

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"freightflow/domain"
	"freightflow/metrics"
	"freightflow/policy"
	"freightflow/store"
)

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx store.Tx, topic, aggregateID, actorID string, payload map[string]any) error
}

// CompletionRecorder bumps an agent's completed job count when a request is delivered.
type CompletionRecorder interface {
	RecordCompletionTx(ctx context.Context, tx store.Tx, agentID string) error
}

type Engine struct {
	store       store.Store
	policy      *policy.Policy
	outbox      OutboxWriter
	completions CompletionRecorder
	idGenerator func() string
	now         func() time.Time
}

func NewEngine(st store.Store, pol *policy.Policy, outbox OutboxWriter, completions CompletionRecorder) *Engine {
	if pol == nil {
		pol = policy.New()
	}
	return &Engine{
		store:       st,
		policy:      pol,
		outbox:      outbox,
		completions: completions,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (e *Engine) WithIDGenerator(gen func() string) *Engine {
	e.idGenerator = gen
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Now is the engine clock in UTC; collaborating services share it so expiry
// decisions agree.
func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// LockTx takes the request lock and applies lazy expiry. expired is true when
// this call moved the request to cancelled; the caller must let the
// transaction commit so the lapse is recorded.
func (e *Engine) LockTx(ctx context.Context, tx store.Tx, id string) (req domain.FreightRequest, expired bool, err error) {
	req, err = tx.GetRequestForUpdate(ctx, id)
	if err != nil {
		return domain.FreightRequest{}, false, err
	}
	expired, err = e.expireLapsedTx(ctx, tx, &req)
	if err != nil {
		return domain.FreightRequest{}, false, err
	}
	return req, expired, nil
}

func (e *Engine) expireLapsedTx(ctx context.Context, tx store.Tx, req *domain.FreightRequest) (bool, error) {
	if !req.ExpiredAt(e.Now()) {
		return false, nil
	}
	reason := domain.CancelReasonExpired
	req.CancelReason = &reason
	if err := e.transitionTx(ctx, tx, req, domain.RequestCancelled, "", map[string]any{"reason": reason}); err != nil {
		return false, err
	}
	return true, nil
}

// Locked runs fn in a transaction holding the request lock, after lazy
// expiry. When the request has just expired fn's error is returned but the
// expiry still commits, so fn must fail before writing anything in that case.
func (e *Engine) Locked(ctx context.Context, id string, fn func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error) error {
	var fnErr error
	err := e.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		req, expired, err := e.LockTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &req); err != nil {
			if expired {
				fnErr = err
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	return fnErr
}

// LockedBeforeExpiry runs fn holding the request lock on the stored state,
// then applies lazy expiry in the same transaction. Sweeps use it so their
// own decision is taken before an expiry cascade can touch the quotes.
func (e *Engine) LockedBeforeExpiry(ctx context.Context, id string, fn func(ctx context.Context, tx store.Tx, req domain.FreightRequest) error) error {
	return e.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		req, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, req); err != nil {
			return err
		}
		_, err = e.expireLapsedTx(ctx, tx, &req)
		return err
	})
}

type commitHooks struct {
	fns []func()
}

type commitHooksKey struct{}

// inTx runs fn in a store transaction and fires the work registered with
// afterCommit only once the transaction has committed.
func (e *Engine) inTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	hooks := &commitHooks{}
	if err := e.store.InTx(context.WithValue(ctx, commitHooksKey{}, hooks), fn); err != nil {
		return err
	}
	for _, f := range hooks.fns {
		f()
	}
	return nil
}

// afterCommit defers fn until the enclosing engine transaction commits. Outside
// one it runs fn immediately.
func afterCommit(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(commitHooksKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn()
}

func (e *Engine) mutate(ctx context.Context, id string, fn func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error) (domain.FreightRequest, error) {
	var out domain.FreightRequest
	err := e.Locked(ctx, id, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		if err := fn(ctx, tx, req); err != nil {
			return err
		}
		out = *req
		return nil
	})
	if err != nil {
		return domain.FreightRequest{}, err
	}
	return out, nil
}

// AssignTx moves an active request to assigned for the accepted quote and
// rejects every other pending quote. The caller holds the request lock.
func (e *Engine) AssignTx(ctx context.Context, tx store.Tx, req *domain.FreightRequest, accepted domain.Quote, actorID string) error {
	if !CanTransition(req.Status, domain.RequestAssigned) {
		return fmt.Errorf("freight: %s -> %s: %w", req.Status, domain.RequestAssigned, domain.ErrInvalidTransition)
	}
	req.AssignedQuoteID = &accepted.ID
	req.AssignedAgentID = &accepted.AgentID
	return e.transitionTx(ctx, tx, req, domain.RequestAssigned, actorID, map[string]any{
		"quote_id": accepted.ID,
		"agent_id": accepted.AgentID,
	})
}

func (e *Engine) transitionTx(ctx context.Context, tx store.Tx, req *domain.FreightRequest, to domain.RequestStatus, actorID string, extra map[string]any) error {
	from := req.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("freight: %s -> %s: %w", from, to, domain.ErrInvalidTransition)
	}

	now := e.Now()
	req.Status = to
	req.UpdatedAt = now
	switch to {
	case domain.RequestActive:
		req.PublishedAt = &now
	case domain.RequestAssigned:
		req.AssignedAt = &now
	case domain.RequestInTransit:
		req.PickedUpAt = &now
	case domain.RequestDelivered:
		req.DeliveredAt = &now
	case domain.RequestCancelled:
		req.CancelledAt = &now
	}
	if err := tx.PutRequest(ctx, *req); err != nil {
		return err
	}

	switch to {
	case domain.RequestAssigned:
		if err := e.rejectPendingTx(ctx, tx, req.ID, *req.AssignedQuoteID, actorID); err != nil {
			return err
		}
	case domain.RequestCancelled:
		if err := e.rejectPendingTx(ctx, tx, req.ID, "", actorID); err != nil {
			return err
		}
	case domain.RequestDelivered:
		if e.completions != nil {
			if err := e.completions.RecordCompletionTx(ctx, tx, *req.AssignedAgentID); err != nil {
				return fmt.Errorf("freight: record completion: %w", err)
			}
		}
	}

	payload := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range extra {
		payload[k] = v
	}
	if err := e.enqueue(ctx, tx, domain.TopicRequestStatusChanged, req.ID, actorID, payload); err != nil {
		return err
	}
	afterCommit(ctx, metrics.RequestTransitions.WithLabelValues(string(from), string(to)).Inc)
	return nil
}

// rejectPendingTx closes every pending quote on the request except keep.
// Quotes already past their own expiry are recorded as expired, the rest as
// rejected.
func (e *Engine) rejectPendingTx(ctx context.Context, tx store.Tx, requestID, keep, actorID string) error {
	quotes, err := tx.QuotesByRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("freight: load quotes: %w", err)
	}
	now := e.Now()
	for _, q := range quotes {
		if q.Status != domain.QuotePending || q.ID == keep {
			continue
		}
		to := domain.QuoteRejected
		if q.StaleAt(now) {
			to = domain.QuoteExpired
		}
		q.Status = to
		q.UpdatedAt = now
		q.DecidedAt = &now
		if err := tx.PutQuote(ctx, q); err != nil {
			return err
		}
		if err := e.enqueue(ctx, tx, domain.TopicQuoteStatusChanged, requestID, actorID, map[string]any{
			"quote_id": q.ID,
			"agent_id": q.AgentID,
			"from":     string(domain.QuotePending),
			"to":       string(to),
			"cascade":  true,
		}); err != nil {
			return err
		}
		afterCommit(ctx, metrics.QuoteDecisions.WithLabelValues(string(to)).Inc)
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, tx store.Tx, topic, aggregateID, actorID string, payload map[string]any) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.Enqueue(ctx, tx, topic, aggregateID, actorID, payload)
}

// Enqueue lets collaborating services record events through the engine's outbox.
func (e *Engine) Enqueue(ctx context.Context, tx store.Tx, topic, aggregateID, actorID string, payload map[string]any) error {
	return e.enqueue(ctx, tx, topic, aggregateID, actorID, payload)
}

// Effective returns req as readers should see it at now: a lapsed draft or
// active request is presented as cancelled without being written.
func Effective(req domain.FreightRequest, now time.Time) domain.FreightRequest {
	if !req.ExpiredAt(now) {
		return req
	}
	reason := domain.CancelReasonExpired
	req.Status = domain.RequestCancelled
	req.CancelReason = &reason
	return req
}
