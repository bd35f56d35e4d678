// Package store is the single source of truth for marketplace entities.
//
// Reads outside a transaction return fresh snapshots. Mutations happen inside
// InTx: writes are staged and applied together on commit, and any error
// discards them. Per-entity serialization is obtained with the ForUpdate
// getters, which hold an exclusive lock on the row until the transaction ends.
// Quotes are only ever mutated while their parent request is locked.
package store

import (
	"context"
	"errors"
	"time"

	"freightflow/domain"
)

// ErrTxDone is returned when a transaction handle is used after InTx returned.
var ErrTxDone = errors.New("store: transaction already finished")

// Reader exposes the lookups available both inside and outside transactions.
type Reader interface {
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)
	GetRequest(ctx context.Context, id string) (domain.FreightRequest, error)
	GetQuote(ctx context.Context, id string) (domain.Quote, error)
	GetAgentProfile(ctx context.Context, userID string) (domain.AgentProfile, error)
	GetReview(ctx context.Context, id string) (domain.Review, error)

	RequestsByOwner(ctx context.Context, ownerID string) ([]domain.FreightRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.FreightRequest, int, error)
	QuotesByRequest(ctx context.Context, requestID string) ([]domain.Quote, error)
	QuotesByAgent(ctx context.Context, agentID string) ([]domain.Quote, error)
	StaleQuotes(ctx context.Context, now time.Time) ([]domain.Quote, error)
	ListAgentProfiles(ctx context.Context, filter AgentFilter) ([]domain.AgentProfile, int, error)
	ReviewsByRequest(ctx context.Context, requestID string) ([]domain.Review, error)
	ReviewsByReviewee(ctx context.Context, userID string) ([]domain.Review, error)
	EventsByAggregate(ctx context.Context, aggregateID string) ([]domain.Event, error)
}

// Tx is the write side of a transaction.
type Tx interface {
	Reader

	GetRequestForUpdate(ctx context.Context, id string) (domain.FreightRequest, error)
	GetAgentProfileForUpdate(ctx context.Context, userID string) (domain.AgentProfile, error)

	PutUser(ctx context.Context, user domain.User) error
	PutRequest(ctx context.Context, req domain.FreightRequest) error
	PutQuote(ctx context.Context, quote domain.Quote) error
	PutAgentProfile(ctx context.Context, profile domain.AgentProfile) error
	PutReview(ctx context.Context, review domain.Review) error
	AppendEvent(ctx context.Context, event domain.Event) error
}

// Store is implemented by Memory and Postgres.
type Store interface {
	Reader

	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	PendingEvents(ctx context.Context, limit int) ([]domain.Event, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
	MarkEventsFailed(ctx context.Context, ids []string) error
}

// RequestFilter narrows ListRequests. When Now is set, Status matches the
// effective status, so lapsed draft/active requests count as cancelled.
type RequestFilter struct {
	OwnerID         string
	AssignedAgentID string
	Status          domain.RequestStatus
	City            string
	CargoType       string
	Now             time.Time
	Page            domain.PageRequest
}

// AgentFilter narrows ListAgentProfiles; results are ordered best rating first.
type AgentFilter struct {
	VerifiedOnly bool
	CoverageArea string
	Page         domain.PageRequest
}

func effectiveStatus(req domain.FreightRequest, now time.Time) domain.RequestStatus {
	if !now.IsZero() && req.ExpiredAt(now) {
		return domain.RequestCancelled
	}
	return req.Status
}
