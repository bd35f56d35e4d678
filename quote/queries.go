package quote

import (
	"context"
	"fmt"
	"time"

	"freightflow/domain"
	"freightflow/policy"
)

// Effective presents a lapsed pending quote as expired without writing it.
func Effective(q domain.Quote, now time.Time) domain.Quote {
	if q.StaleAt(now) {
		q.Status = domain.QuoteExpired
	}
	return q
}

// Get returns a quote to its agent or to the owner of its request.
func (s *Service) Get(ctx context.Context, caller policy.Caller, id string) (domain.Quote, error) {
	q, err := s.store.GetQuote(ctx, id)
	if err != nil {
		return domain.Quote{}, err
	}
	if q.AgentID != caller.ID {
		req, err := s.store.GetRequest(ctx, q.RequestID)
		if err != nil {
			return domain.Quote{}, err
		}
		if req.OwnerID != caller.ID {
			return domain.Quote{}, fmt.Errorf("quote: %s not visible to caller: %w", id, domain.ErrForbidden)
		}
	}
	return Effective(q, s.engine.Now()), nil
}

// ListForRequest shows the owner every quote on the request and an agent only
// their own.
func (s *Service) ListForRequest(ctx context.Context, caller policy.Caller, requestID string, page domain.PageRequest) (domain.Page[domain.Quote], error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return domain.Page[domain.Quote]{}, err
	}
	isOwner := req.OwnerID == caller.ID
	if !isOwner && caller.Role != domain.RoleAgent {
		return domain.Page[domain.Quote]{}, fmt.Errorf("quote: list for request %s: %w", requestID, domain.ErrForbidden)
	}

	all, err := s.store.QuotesByRequest(ctx, requestID)
	if err != nil {
		return domain.Page[domain.Quote]{}, fmt.Errorf("quote: list for request: %w", err)
	}
	now := s.engine.Now()
	visible := make([]domain.Quote, 0, len(all))
	for _, q := range all {
		if isOwner || q.AgentID == caller.ID {
			visible = append(visible, Effective(q, now))
		}
	}
	return domain.Paginate(visible, page), nil
}

// ListMine lists the calling agent's quotes, optionally narrowed to one status.
func (s *Service) ListMine(ctx context.Context, caller policy.Caller, status domain.QuoteStatus, page domain.PageRequest) (domain.Page[domain.Quote], error) {
	if caller.Role != domain.RoleAgent {
		return domain.Page[domain.Quote]{}, fmt.Errorf("quote: only agents hold quotes: %w", domain.ErrForbidden)
	}
	if status != "" && !status.Valid() {
		return domain.Page[domain.Quote]{}, fmt.Errorf("quote: status %q: %w", status, domain.ErrValidation)
	}
	all, err := s.store.QuotesByAgent(ctx, caller.ID)
	if err != nil {
		return domain.Page[domain.Quote]{}, fmt.Errorf("quote: list mine: %w", err)
	}
	now := s.engine.Now()
	out := make([]domain.Quote, 0, len(all))
	for _, q := range all {
		q = Effective(q, now)
		if status == "" || q.Status == status {
			out = append(out, q)
		}
	}
	return domain.Paginate(out, page), nil
}
