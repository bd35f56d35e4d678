package domain

import (
	"fmt"
	"time"
)

type QuoteStatus string

const (
	QuotePending  QuoteStatus = "pending"
	QuoteAccepted QuoteStatus = "accepted"
	QuoteRejected QuoteStatus = "rejected"
	QuoteExpired  QuoteStatus = "expired"
)

func (s QuoteStatus) Valid() bool {
	switch s {
	case QuotePending, QuoteAccepted, QuoteRejected, QuoteExpired:
		return true
	default:
		return false
	}
}

// Quote is an agent's priced offer against exactly one freight request.
type Quote struct {
	ID                string
	RequestID         string
	AgentID           string
	Price             Money
	Message           string
	EstimatedPickup   *time.Time
	EstimatedDelivery *time.Time
	Status            QuoteStatus
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DecidedAt         *time.Time
}

func (q Quote) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: quote id required", ErrValidation)
	}
	if q.RequestID == "" {
		return fmt.Errorf("%w: quote request id required", ErrValidation)
	}
	if q.AgentID == "" {
		return fmt.Errorf("%w: quote agent id required", ErrValidation)
	}
	if err := q.Price.validate("price", false); err != nil {
		return err
	}
	if !q.Status.Valid() {
		return fmt.Errorf("%w: invalid quote status %q", ErrValidation, q.Status)
	}
	if q.EstimatedPickup != nil && q.EstimatedDelivery != nil && q.EstimatedDelivery.Before(*q.EstimatedPickup) {
		return fmt.Errorf("%w: estimated delivery before estimated pickup", ErrValidation)
	}
	return nil
}

// StaleAt reports whether a pending quote's expiry has passed at now.
func (q Quote) StaleAt(now time.Time) bool {
	return q.Status == QuotePending && q.ExpiresAt != nil && q.ExpiresAt.Before(now)
}
