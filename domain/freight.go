package domain

import (
	"fmt"
	"strings"
	"time"
)

type RequestStatus string

const (
	RequestDraft     RequestStatus = "draft"
	RequestActive    RequestStatus = "active"
	RequestAssigned  RequestStatus = "assigned"
	RequestInTransit RequestStatus = "in_transit"
	RequestDelivered RequestStatus = "delivered"
	RequestCancelled RequestStatus = "cancelled"
)

// RequestStatuses lists every request status in lifecycle order.
var RequestStatuses = []RequestStatus{
	RequestDraft,
	RequestActive,
	RequestAssigned,
	RequestInTransit,
	RequestDelivered,
	RequestCancelled,
}

func (s RequestStatus) Valid() bool {
	for _, known := range RequestStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s RequestStatus) Terminal() bool {
	return s == RequestDelivered || s == RequestCancelled
}

// Editable reports whether structural fields may still change in s.
func (s RequestStatus) Editable() bool {
	return s == RequestDraft || s == RequestActive
}

// CancelReasonExpired is recorded when lazy expiry cancels a request.
const CancelReasonExpired = "expired"

type Location struct {
	Address    string
	City       string
	State      string
	Country    string
	PostalCode string
	Lat        *float64
	Lng        *float64
}

func (l Location) empty() bool {
	return strings.TrimSpace(l.Address) == "" && strings.TrimSpace(l.City) == ""
}

type Dimensions struct {
	LengthCm float64
	WidthCm  float64
	HeightCm float64
}

type Cargo struct {
	Type       string
	WeightKg   float64
	Dimensions *Dimensions
	Quantity   int
}

// FreightRequest is a shipment solicitation owned by exactly one user.
type FreightRequest struct {
	ID              string
	OwnerID         string
	Title           string
	Description     string
	Origin          Location
	Destination     Location
	Cargo           Cargo
	Budget          *Money
	PickupDate      *time.Time
	DeliveryDate    *time.Time
	Status          RequestStatus
	AssignedQuoteID *string
	AssignedAgentID *string
	ExpiresAt       *time.Time
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PublishedAt     *time.Time
	AssignedAt      *time.Time
	PickedUpAt      *time.Time
	DeliveredAt     *time.Time
	CancelledAt     *time.Time
}

// Validate checks the fields every stored request must carry. Drafts may omit
// description, locations and cargo type; see ValidateForPublish.
func (r FreightRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: request id required", ErrValidation)
	}
	if r.OwnerID == "" {
		return fmt.Errorf("%w: request owner required", ErrValidation)
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title required", ErrValidation)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: invalid request status %q", ErrValidation, r.Status)
	}
	if r.Cargo.WeightKg < 0 {
		return fmt.Errorf("%w: cargo weight must not be negative", ErrValidation)
	}
	if r.Cargo.Quantity < 0 {
		return fmt.Errorf("%w: cargo quantity must not be negative", ErrValidation)
	}
	if d := r.Cargo.Dimensions; d != nil && (d.LengthCm < 0 || d.WidthCm < 0 || d.HeightCm < 0) {
		return fmt.Errorf("%w: cargo dimensions must not be negative", ErrValidation)
	}
	if r.Budget != nil {
		if err := r.Budget.validate("budget", true); err != nil {
			return err
		}
	}
	if r.PickupDate != nil && r.DeliveryDate != nil && r.DeliveryDate.Before(*r.PickupDate) {
		return fmt.Errorf("%w: delivery date before pickup date", ErrValidation)
	}
	if r.Status == RequestAssigned || r.Status == RequestInTransit || r.Status == RequestDelivered {
		if r.AssignedQuoteID == nil || r.AssignedAgentID == nil {
			return fmt.Errorf("%w: %s request without assignment", ErrValidation, r.Status)
		}
	}
	return nil
}

// ValidateForPublish enforces the fields required to leave draft.
func (r FreightRequest) ValidateForPublish() error {
	var missing []string
	if strings.TrimSpace(r.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(r.Description) == "" {
		missing = append(missing, "description")
	}
	if r.Origin.empty() {
		missing = append(missing, "origin")
	}
	if r.Destination.empty() {
		missing = append(missing, "destination")
	}
	if strings.TrimSpace(r.Cargo.Type) == "" {
		missing = append(missing, "cargoType")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

// ExpiredAt reports whether the request's solicitation window closed before now.
// Only draft and active requests expire; once assigned the window no longer applies.
func (r FreightRequest) ExpiredAt(now time.Time) bool {
	if r.ExpiresAt == nil || !r.Status.Editable() {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}
