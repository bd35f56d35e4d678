// Package quote runs the quoting side of the marketplace: agents submit and
// withdraw quotes, owners accept or reject them, and stale quotes expire.
//
// Every quote mutation happens under its request's lock, so an accept racing
// another accept, a cancel or an expiry is linearized by the store.
package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"freightflow/domain"
	"freightflow/freight"
	"freightflow/metrics"
	"freightflow/policy"
	"freightflow/store"
)

type Service struct {
	store       store.Store
	engine      *freight.Engine
	policy      *policy.Policy
	defaultTTL  time.Duration
	idGenerator func() string
}

func NewService(st store.Store, engine *freight.Engine, pol *policy.Policy) *Service {
	if pol == nil {
		pol = policy.New()
	}
	return &Service{
		store:       st,
		engine:      engine,
		policy:      pol,
		defaultTTL:  72 * time.Hour,
		idGenerator: func() string { return uuid.NewString() },
	}
}

// WithDefaultTTL sets the expiry applied when a submission carries none.
// Zero leaves such quotes open-ended.
func (s *Service) WithDefaultTTL(d time.Duration) *Service {
	s.defaultTTL = d
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

type SubmitParams struct {
	Price             domain.Money
	Message           string
	EstimatedPickup   *time.Time
	EstimatedDelivery *time.Time
	ExpiresAt         *time.Time
}

// AcceptResult is the accepted quote together with the request it assigned.
type AcceptResult struct {
	Quote   domain.Quote
	Request domain.FreightRequest
}

// Submit records a pending quote. The request state is checked before the
// caller's role, so quoting on a closed request is an invalid transition for
// everyone.
func (s *Service) Submit(ctx context.Context, caller policy.Caller, requestID string, params SubmitParams) (domain.Quote, error) {
	now := s.engine.Now()
	expiresAt := params.ExpiresAt
	if expiresAt != nil && !expiresAt.After(now) {
		return domain.Quote{}, fmt.Errorf("quote: expiresAt must be in the future: %w", domain.ErrValidation)
	}
	if expiresAt == nil && s.defaultTTL > 0 {
		at := now.Add(s.defaultTTL)
		expiresAt = &at
	}

	q := domain.Quote{
		ID:                s.idGenerator(),
		RequestID:         requestID,
		AgentID:           caller.ID,
		Price:             params.Price,
		Message:           strings.TrimSpace(params.Message),
		EstimatedPickup:   params.EstimatedPickup,
		EstimatedDelivery: params.EstimatedDelivery,
		Status:            domain.QuotePending,
		ExpiresAt:         expiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := q.Validate(); err != nil {
		return domain.Quote{}, err
	}

	err := s.engine.Locked(ctx, requestID, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		if req.Status != domain.RequestActive {
			return fmt.Errorf("quote: submit on %s request: %w", req.Status, domain.ErrInvalidTransition)
		}
		if err := s.policy.Authorize(caller, policy.QuoteSubmit, policy.Target{OwnerID: req.OwnerID}); err != nil {
			return err
		}
		existing, err := tx.QuotesByRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("quote: load quotes: %w", err)
		}
		for _, other := range existing {
			if other.AgentID != caller.ID || other.Status != domain.QuotePending {
				continue
			}
			if !other.StaleAt(now) {
				return fmt.Errorf("quote: agent %s on request %s: %w", caller.ID, requestID, domain.ErrDuplicateQuote)
			}
			if err := s.expireTx(ctx, tx, other, now); err != nil {
				return err
			}
		}

		if err := tx.PutQuote(ctx, q); err != nil {
			return err
		}
		return s.engine.Enqueue(ctx, tx, domain.TopicQuoteSubmitted, requestID, caller.ID, map[string]any{
			"quote_id": q.ID,
			"agent_id": q.AgentID,
			"amount":   q.Price.Amount,
			"currency": q.Price.Currency,
		})
	})
	if err != nil {
		return domain.Quote{}, err
	}
	metrics.QuoteDecisions.WithLabelValues(string(domain.QuotePending)).Inc()
	return q, nil
}

// Accept assigns the request to the quote's agent and rejects every other
// pending quote on it. Of two concurrent accepts on one request exactly one
// wins; the other sees the request already assigned.
func (s *Service) Accept(ctx context.Context, caller policy.Caller, quoteID string) (AcceptResult, error) {
	found, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return AcceptResult{}, err
	}

	var out AcceptResult
	err = s.engine.Locked(ctx, found.RequestID, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		target := policy.Target{OwnerID: req.OwnerID, QuoteAgentID: q.AgentID, QuotePrice: q.Price.Amount}
		if profile, err := tx.GetAgentProfile(ctx, q.AgentID); err == nil {
			target.AgentVerified = profile.Verified
		} else if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("quote: load agent profile: %w", err)
		}
		if err := s.policy.Authorize(caller, policy.QuoteAccept, target); err != nil {
			return err
		}

		now := s.engine.Now()
		if q.Status != domain.QuotePending {
			return fmt.Errorf("quote: accept %s quote: %w", q.Status, domain.ErrInvalidTransition)
		}
		if q.StaleAt(now) {
			return fmt.Errorf("quote: accept lapsed quote: %w", domain.ErrInvalidTransition)
		}
		if req.Status != domain.RequestActive {
			metrics.AcceptConflicts.Inc()
			return fmt.Errorf("quote: accept on %s request: %w", req.Status, domain.ErrInvalidTransition)
		}

		q.Status = domain.QuoteAccepted
		q.UpdatedAt = now
		q.DecidedAt = &now
		if err := tx.PutQuote(ctx, q); err != nil {
			return err
		}
		if err := s.engine.Enqueue(ctx, tx, domain.TopicQuoteStatusChanged, req.ID, caller.ID, statusPayload(q, domain.QuotePending)); err != nil {
			return err
		}
		if err := s.engine.AssignTx(ctx, tx, req, q, caller.ID); err != nil {
			return err
		}
		out = AcceptResult{Quote: q, Request: *req}
		return nil
	})
	if err != nil {
		return AcceptResult{}, err
	}
	metrics.QuoteDecisions.WithLabelValues(string(domain.QuoteAccepted)).Inc()
	return out, nil
}

// Reject declines one pending quote; the request and its other quotes are untouched.
func (s *Service) Reject(ctx context.Context, caller policy.Caller, quoteID string) (domain.Quote, error) {
	return s.decide(ctx, quoteID, func(req domain.FreightRequest, q domain.Quote) error {
		return s.policy.Authorize(caller, policy.QuoteReject, policy.Target{OwnerID: req.OwnerID, QuoteAgentID: q.AgentID})
	}, domain.QuoteRejected, caller.ID)
}

// Withdraw lets the submitting agent retract a pending quote. It is recorded
// as expired as of now, which frees the agent to quote again.
func (s *Service) Withdraw(ctx context.Context, caller policy.Caller, quoteID string) (domain.Quote, error) {
	return s.decide(ctx, quoteID, func(req domain.FreightRequest, q domain.Quote) error {
		return s.policy.Authorize(caller, policy.QuoteWithdraw, policy.Target{OwnerID: req.OwnerID, QuoteAgentID: q.AgentID})
	}, domain.QuoteExpired, caller.ID)
}

func (s *Service) decide(ctx context.Context, quoteID string, authorize func(domain.FreightRequest, domain.Quote) error, to domain.QuoteStatus, actorID string) (domain.Quote, error) {
	found, err := s.store.GetQuote(ctx, quoteID)
	if err != nil {
		return domain.Quote{}, err
	}

	var out domain.Quote
	err = s.engine.Locked(ctx, found.RequestID, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		q, err := tx.GetQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if err := authorize(*req, q); err != nil {
			return err
		}
		if q.Status != domain.QuotePending {
			return fmt.Errorf("quote: %s -> %s: %w", q.Status, to, domain.ErrInvalidTransition)
		}

		now := s.engine.Now()
		q.Status = to
		q.UpdatedAt = now
		q.DecidedAt = &now
		if to == domain.QuoteExpired {
			q.ExpiresAt = &now
		}
		if err := tx.PutQuote(ctx, q); err != nil {
			return err
		}
		out = q
		return s.engine.Enqueue(ctx, tx, domain.TopicQuoteStatusChanged, req.ID, actorID, statusPayload(q, domain.QuotePending))
	})
	if err != nil {
		return domain.Quote{}, err
	}
	metrics.QuoteDecisions.WithLabelValues(string(to)).Inc()
	return out, nil
}

// ExpireStale moves every pending quote whose expiry is before now to
// expired and returns how many it changed. Each quote is re-checked under
// its request lock before the request's own lazy expiry runs, so repeated or
// concurrent sweeps never double count.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.StaleQuotes(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("quote: find stale: %w", err)
	}

	expired := 0
	for _, candidate := range stale {
		changed := false
		err := s.engine.LockedBeforeExpiry(ctx, candidate.RequestID, func(ctx context.Context, tx store.Tx, _ domain.FreightRequest) error {
			q, err := tx.GetQuote(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if !q.StaleAt(now) {
				return nil
			}
			changed = true
			return s.expireTx(ctx, tx, q, now)
		})
		if err != nil {
			return expired, err
		}
		if changed {
			expired++
			metrics.QuoteDecisions.WithLabelValues(string(domain.QuoteExpired)).Inc()
		}
	}
	return expired, nil
}

func (s *Service) expireTx(ctx context.Context, tx store.Tx, q domain.Quote, now time.Time) error {
	q.Status = domain.QuoteExpired
	q.UpdatedAt = now
	q.DecidedAt = &now
	if err := tx.PutQuote(ctx, q); err != nil {
		return err
	}
	payload := statusPayload(q, domain.QuotePending)
	payload["reason"] = "expired"
	return s.engine.Enqueue(ctx, tx, domain.TopicQuoteStatusChanged, q.RequestID, "", payload)
}

func statusPayload(q domain.Quote, from domain.QuoteStatus) map[string]any {
	return map[string]any{
		"quote_id": q.ID,
		"agent_id": q.AgentID,
		"from":     string(from),
		"to":       string(q.Status),
	}
}
