package freight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"freightflow/domain"
	"freightflow/policy"
	"freightflow/store"
)

type CreateParams struct {
	Title        string
	Description  string
	Origin       domain.Location
	Destination  domain.Location
	Cargo        domain.Cargo
	Budget       *domain.Money
	PickupDate   *time.Time
	DeliveryDate *time.Time
	ExpiresAt    *time.Time
	// Publish creates the request directly in active.
	Publish bool
}

// UpdateParams carries the fields to change; nil leaves a field untouched.
type UpdateParams struct {
	Title        *string
	Description  *string
	Origin       *domain.Location
	Destination  *domain.Location
	Cargo        *domain.Cargo
	Budget       *domain.Money
	PickupDate   *time.Time
	DeliveryDate *time.Time
	ExpiresAt    *time.Time
}

type ListFilter struct {
	OwnerID   string
	Status    domain.RequestStatus
	City      string
	CargoType string
	Page      domain.PageRequest
}

func (e *Engine) Create(ctx context.Context, caller policy.Caller, params CreateParams) (domain.FreightRequest, error) {
	if err := e.policy.Authorize(caller, policy.RequestCreate, policy.Target{}); err != nil {
		return domain.FreightRequest{}, err
	}

	now := e.Now()
	if params.ExpiresAt != nil && !params.ExpiresAt.After(now) {
		return domain.FreightRequest{}, fmt.Errorf("freight: expiresAt must be in the future: %w", domain.ErrValidation)
	}

	req := domain.FreightRequest{
		ID:           e.idGenerator(),
		OwnerID:      caller.ID,
		Title:        strings.TrimSpace(params.Title),
		Description:  strings.TrimSpace(params.Description),
		Origin:       params.Origin,
		Destination:  params.Destination,
		Cargo:        params.Cargo,
		Budget:       params.Budget,
		PickupDate:   params.PickupDate,
		DeliveryDate: params.DeliveryDate,
		ExpiresAt:    params.ExpiresAt,
		Status:       domain.RequestDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := req.Validate(); err != nil {
		return domain.FreightRequest{}, err
	}
	if params.Publish {
		if err := req.ValidateForPublish(); err != nil {
			return domain.FreightRequest{}, err
		}
	}

	err := e.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.PutRequest(ctx, req); err != nil {
			return err
		}
		if err := e.enqueue(ctx, tx, domain.TopicRequestCreated, req.ID, caller.ID, map[string]any{
			"owner_id": req.OwnerID,
			"status":   string(req.Status),
		}); err != nil {
			return err
		}
		if params.Publish {
			return e.transitionTx(ctx, tx, &req, domain.RequestActive, caller.ID, nil)
		}
		return nil
	})
	if err != nil {
		return domain.FreightRequest{}, err
	}
	return req, nil
}

// Get returns the request after applying lazy expiry. Drafts are only visible
// to their owner.
func (e *Engine) Get(ctx context.Context, caller policy.Caller, id string) (domain.FreightRequest, error) {
	var req domain.FreightRequest
	err := e.inTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		req, _, err = e.LockTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return domain.FreightRequest{}, err
	}
	if req.Status == domain.RequestDraft && req.OwnerID != caller.ID {
		return domain.FreightRequest{}, fmt.Errorf("freight: request %s: %w", id, domain.ErrNotFound)
	}
	return req, nil
}

// List browses the marketplace. Without a status it shows active requests;
// drafts are restricted to the caller's own.
func (e *Engine) List(ctx context.Context, caller policy.Caller, f ListFilter) (domain.Page[domain.FreightRequest], error) {
	if f.Status == "" {
		f.Status = domain.RequestActive
	}
	if !f.Status.Valid() {
		return domain.Page[domain.FreightRequest]{}, fmt.Errorf("freight: status %q: %w", f.Status, domain.ErrValidation)
	}
	if f.Status == domain.RequestDraft {
		f.OwnerID = caller.ID
	}
	return e.list(ctx, store.RequestFilter{
		OwnerID:   f.OwnerID,
		Status:    f.Status,
		City:      f.City,
		CargoType: f.CargoType,
		Page:      f.Page,
	})
}

// ListMine lists the caller's requests: owned ones for shippers, assigned
// ones for agents.
func (e *Engine) ListMine(ctx context.Context, caller policy.Caller, status domain.RequestStatus, page domain.PageRequest) (domain.Page[domain.FreightRequest], error) {
	if status != "" && !status.Valid() {
		return domain.Page[domain.FreightRequest]{}, fmt.Errorf("freight: status %q: %w", status, domain.ErrValidation)
	}
	filter := store.RequestFilter{Status: status, Page: page}
	if caller.Role == domain.RoleAgent {
		filter.AssignedAgentID = caller.ID
	} else {
		filter.OwnerID = caller.ID
	}
	return e.list(ctx, filter)
}

func (e *Engine) list(ctx context.Context, filter store.RequestFilter) (domain.Page[domain.FreightRequest], error) {
	now := e.Now()
	filter.Now = now
	items, total, err := e.store.ListRequests(ctx, filter)
	if err != nil {
		return domain.Page[domain.FreightRequest]{}, fmt.Errorf("freight: list: %w", err)
	}
	for i := range items {
		items[i] = Effective(items[i], now)
	}
	return domain.NewPage(items, filter.Page, total), nil
}

func (e *Engine) Update(ctx context.Context, caller policy.Caller, id string, params UpdateParams) (domain.FreightRequest, error) {
	return e.mutate(ctx, id, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		if err := e.policy.Authorize(caller, policy.RequestEdit, policy.Target{OwnerID: req.OwnerID}); err != nil {
			return err
		}
		if !req.Status.Editable() {
			return fmt.Errorf("freight: edit %s request: %w", req.Status, domain.ErrInvalidTransition)
		}

		now := e.Now()
		if params.ExpiresAt != nil && !params.ExpiresAt.After(now) {
			return fmt.Errorf("freight: expiresAt must be in the future: %w", domain.ErrValidation)
		}
		next := *req
		if params.Title != nil {
			next.Title = strings.TrimSpace(*params.Title)
		}
		if params.Description != nil {
			next.Description = strings.TrimSpace(*params.Description)
		}
		if params.Origin != nil {
			next.Origin = *params.Origin
		}
		if params.Destination != nil {
			next.Destination = *params.Destination
		}
		if params.Cargo != nil {
			next.Cargo = *params.Cargo
		}
		if params.Budget != nil {
			next.Budget = params.Budget
		}
		if params.PickupDate != nil {
			next.PickupDate = params.PickupDate
		}
		if params.DeliveryDate != nil {
			next.DeliveryDate = params.DeliveryDate
		}
		if params.ExpiresAt != nil {
			next.ExpiresAt = params.ExpiresAt
		}
		next.UpdatedAt = now

		if err := next.Validate(); err != nil {
			return err
		}
		if next.Status == domain.RequestActive {
			if err := next.ValidateForPublish(); err != nil {
				return err
			}
		}
		if err := tx.PutRequest(ctx, next); err != nil {
			return err
		}
		*req = next
		return e.enqueue(ctx, tx, domain.TopicRequestUpdated, req.ID, caller.ID, map[string]any{
			"status": string(req.Status),
		})
	})
}

func (e *Engine) Publish(ctx context.Context, caller policy.Caller, id string) (domain.FreightRequest, error) {
	return e.mutate(ctx, id, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		if err := e.policy.Authorize(caller, policy.RequestPublish, policy.Target{OwnerID: req.OwnerID}); err != nil {
			return err
		}
		if !CanTransition(req.Status, domain.RequestActive) {
			return fmt.Errorf("freight: %s -> %s: %w", req.Status, domain.RequestActive, domain.ErrInvalidTransition)
		}
		if err := req.ValidateForPublish(); err != nil {
			return err
		}
		return e.transitionTx(ctx, tx, req, domain.RequestActive, caller.ID, nil)
	})
}

// Cancel closes the request and rejects its pending quotes.
func (e *Engine) Cancel(ctx context.Context, caller policy.Caller, id string, reason *string) (domain.FreightRequest, error) {
	return e.mutate(ctx, id, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		if err := e.policy.Authorize(caller, policy.RequestCancel, policy.Target{OwnerID: req.OwnerID}); err != nil {
			return err
		}
		if !CanTransition(req.Status, domain.RequestCancelled) {
			return fmt.Errorf("freight: %s -> %s: %w", req.Status, domain.RequestCancelled, domain.ErrInvalidTransition)
		}
		extra := map[string]any{}
		if reason != nil {
			if trimmed := strings.TrimSpace(*reason); trimmed != "" {
				req.CancelReason = &trimmed
				extra["reason"] = trimmed
			}
		}
		return e.transitionTx(ctx, tx, req, domain.RequestCancelled, caller.ID, extra)
	})
}

func (e *Engine) MarkInTransit(ctx context.Context, caller policy.Caller, id string) (domain.FreightRequest, error) {
	return e.advance(ctx, caller, id, domain.RequestInTransit)
}

// MarkDelivered completes the job and credits the assigned agent.
func (e *Engine) MarkDelivered(ctx context.Context, caller policy.Caller, id string) (domain.FreightRequest, error) {
	return e.advance(ctx, caller, id, domain.RequestDelivered)
}

func (e *Engine) advance(ctx context.Context, caller policy.Caller, id string, to domain.RequestStatus) (domain.FreightRequest, error) {
	return e.mutate(ctx, id, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		if err := e.policy.Authorize(caller, policy.RequestAdvance, targetOf(*req)); err != nil {
			return err
		}
		return e.transitionTx(ctx, tx, req, to, caller.ID, nil)
	})
}

// Timeline returns the request's recorded events, oldest first.
func (e *Engine) Timeline(ctx context.Context, caller policy.Caller, id string) ([]domain.Event, error) {
	req, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.policy.Authorize(caller, policy.RequestTimeline, targetOf(req)); err != nil {
		return nil, err
	}
	events, err := e.store.EventsByAggregate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("freight: timeline: %w", err)
	}
	return events, nil
}

func targetOf(req domain.FreightRequest) policy.Target {
	t := policy.Target{OwnerID: req.OwnerID}
	if req.AssignedAgentID != nil {
		t.AssignedAgentID = *req.AssignedAgentID
	}
	return t
}
