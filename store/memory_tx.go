package store

import (
	"context"
	"fmt"
	"strings"

	"freightflow/domain"
)

type memTx struct {
	memView

	held []string
	done bool
}

var _ Tx = (*memTx)(nil)

func (tx *memTx) acquire(ctx context.Context, key string) error {
	if tx.done {
		return ErrTxDone
	}
	for _, k := range tx.held {
		if k == key {
			return nil
		}
	}
	if err := tx.m.locks.lock(ctx, key); err != nil {
		return fmt.Errorf("store: lock %s: %w", key, err)
	}
	tx.held = append(tx.held, key)
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.m.locks.unlock(tx.held[i])
	}
	tx.held = nil
	tx.staged = nil
}

func (tx *memTx) GetRequestForUpdate(ctx context.Context, id string) (domain.FreightRequest, error) {
	if err := tx.acquire(ctx, "request:"+id); err != nil {
		return domain.FreightRequest{}, err
	}
	return tx.GetRequest(ctx, id)
}

func (tx *memTx) GetAgentProfileForUpdate(ctx context.Context, userID string) (domain.AgentProfile, error) {
	if err := tx.acquire(ctx, "agent:"+userID); err != nil {
		return domain.AgentProfile{}, err
	}
	return tx.GetAgentProfile(ctx, userID)
}

func (tx *memTx) PutUser(ctx context.Context, user domain.User) error {
	if tx.done {
		return ErrTxDone
	}
	if err := user.Validate(); err != nil {
		return fmt.Errorf("store: put user: %w", err)
	}
	tx.staged.users.put(user.ID, cloneUser(user))
	return nil
}

func (tx *memTx) PutRequest(ctx context.Context, req domain.FreightRequest) error {
	if tx.done {
		return ErrTxDone
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("store: put request: %w", err)
	}
	tx.staged.requests.put(req.ID, cloneRequest(req))
	return nil
}

func (tx *memTx) PutQuote(ctx context.Context, quote domain.Quote) error {
	if tx.done {
		return ErrTxDone
	}
	if err := quote.Validate(); err != nil {
		return fmt.Errorf("store: put quote: %w", err)
	}
	tx.staged.quotes.put(quote.ID, cloneQuote(quote))
	return nil
}

func (tx *memTx) PutAgentProfile(ctx context.Context, profile domain.AgentProfile) error {
	if tx.done {
		return ErrTxDone
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("store: put agent profile: %w", err)
	}
	tx.staged.profiles.put(profile.UserID, cloneProfile(profile))
	return nil
}

func (tx *memTx) PutReview(ctx context.Context, review domain.Review) error {
	if tx.done {
		return ErrTxDone
	}
	if err := review.Validate(); err != nil {
		return fmt.Errorf("store: put review: %w", err)
	}
	tx.staged.reviews.put(review.ID, cloneReview(review))
	return nil
}

func (tx *memTx) AppendEvent(ctx context.Context, event domain.Event) error {
	if tx.done {
		return ErrTxDone
	}
	if event.ID == "" || event.Topic == "" || event.AggregateID == "" {
		return fmt.Errorf("store: append event: %w: id, topic and aggregate required", domain.ErrValidation)
	}
	tx.m.mu.RLock()
	_, exists := lookup(tx.m.data.events, tx.staged.events, event.ID)
	tx.m.mu.RUnlock()
	if exists {
		return fmt.Errorf("store: append event %s: %w", event.ID, domain.ErrConflict)
	}
	tx.staged.events.put(event.ID, cloneEvent(event))
	return nil
}

func (tx *memTx) commit() error {
	if tx.done {
		return ErrTxDone
	}
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := tx.checkConstraints(); err != nil {
		return err
	}

	s := tx.staged
	for _, id := range s.users.order {
		m.data.users.put(id, s.users.rows[id])
	}
	for _, id := range s.requests.order {
		m.data.requests.put(id, s.requests.rows[id])
	}
	for _, id := range s.quotes.order {
		m.data.quotes.put(id, s.quotes.rows[id])
	}
	for _, id := range s.profiles.order {
		m.data.profiles.put(id, s.profiles.rows[id])
	}
	for _, id := range s.reviews.order {
		m.data.reviews.put(id, s.reviews.rows[id])
	}
	for _, id := range s.events.order {
		m.data.events.put(id, s.events.rows[id])
	}
	return nil
}

// checkConstraints runs with m.mu held for writing, so it reads the tables
// directly instead of going through the locking readers.
func (tx *memTx) checkConstraints() error {
	base, s := tx.m.data, tx.staged

	for _, id := range s.users.order {
		u := s.users.rows[id]
		clash := false
		overlay(base.users, s.users, func(other domain.User) {
			if other.ID != u.ID && strings.EqualFold(other.Email, u.Email) {
				clash = true
			}
		})
		if clash {
			return fmt.Errorf("store: email %s: %w", u.Email, domain.ErrConflict)
		}
	}

	for _, id := range s.requests.order {
		r := s.requests.rows[id]
		if _, ok := lookup(base.users, s.users, r.OwnerID); !ok {
			return fmt.Errorf("store: request owner %s: %w", r.OwnerID, domain.ErrNotFound)
		}
	}

	for _, id := range s.profiles.order {
		p := s.profiles.rows[id]
		if _, ok := lookup(base.users, s.users, p.UserID); !ok {
			return fmt.Errorf("store: profile user %s: %w", p.UserID, domain.ErrNotFound)
		}
	}

	for _, id := range s.quotes.order {
		q := s.quotes.rows[id]
		if _, ok := lookup(base.requests, s.requests, q.RequestID); !ok {
			return fmt.Errorf("store: quote request %s: %w", q.RequestID, domain.ErrNotFound)
		}
		if _, ok := lookup(base.users, s.users, q.AgentID); !ok {
			return fmt.Errorf("store: quote agent %s: %w", q.AgentID, domain.ErrNotFound)
		}
		var dupPending, dupAccepted bool
		overlay(base.quotes, s.quotes, func(other domain.Quote) {
			if other.ID == q.ID || other.RequestID != q.RequestID {
				return
			}
			if q.Status == domain.QuotePending && other.Status == domain.QuotePending && other.AgentID == q.AgentID {
				dupPending = true
			}
			if q.Status == domain.QuoteAccepted && other.Status == domain.QuoteAccepted {
				dupAccepted = true
			}
		})
		if dupPending {
			return fmt.Errorf("store: quote by %s on %s: %w", q.AgentID, q.RequestID, domain.ErrDuplicateQuote)
		}
		if dupAccepted {
			return fmt.Errorf("store: second accepted quote on %s: %w", q.RequestID, domain.ErrConflict)
		}
	}

	for _, id := range s.reviews.order {
		r := s.reviews.rows[id]
		if _, ok := lookup(base.requests, s.requests, r.RequestID); !ok {
			return fmt.Errorf("store: review request %s: %w", r.RequestID, domain.ErrNotFound)
		}
		clash := false
		overlay(base.reviews, s.reviews, func(other domain.Review) {
			if other.ID != r.ID && other.RequestID == r.RequestID && other.ReviewerID == r.ReviewerID {
				clash = true
			}
		})
		if clash {
			return fmt.Errorf("store: review by %s on %s: %w", r.ReviewerID, r.RequestID, domain.ErrConflict)
		}
	}
	return nil
}
