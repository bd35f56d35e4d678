package domain

import (
	"fmt"
	"time"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is a post-delivery rating; one per (request, reviewer).
type Review struct {
	ID         string
	RequestID  string
	ReviewerID string
	RevieweeID string
	Rating     int
	Comment    *string
	CreatedAt  time.Time
}

func (r Review) Validate() error {
	if r.ID == "" || r.RequestID == "" || r.ReviewerID == "" || r.RevieweeID == "" {
		return fmt.Errorf("%w: review ids required", ErrValidation)
	}
	if r.ReviewerID == r.RevieweeID {
		return fmt.Errorf("%w: cannot review yourself", ErrValidation)
	}
	if r.Rating < MinRating || r.Rating > MaxRating {
		return fmt.Errorf("%w: rating must be between %d and %d", ErrValidation, MinRating, MaxRating)
	}
	return nil
}
