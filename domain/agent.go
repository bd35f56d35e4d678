package domain

import (
	"fmt"
	"time"
)

// AgentProfile extends users with role agent. Rating, ReviewCount and
// CompletedJobs only move through review and delivery events.
type AgentProfile struct {
	UserID        string
	Rating        float64
	ReviewCount   int
	CompletedJobs int
	Verified      bool
	CoverageAreas []string
	Bio           *string
	UpdatedAt     time.Time
}

func (p AgentProfile) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("%w: agent profile user id required", ErrValidation)
	}
	if p.Rating < 0 || p.Rating > MaxRating {
		return fmt.Errorf("%w: agent rating out of range", ErrValidation)
	}
	if p.ReviewCount < 0 || p.CompletedJobs < 0 {
		return fmt.Errorf("%w: agent counters must not be negative", ErrValidation)
	}
	return nil
}

// ApplyRating folds one more review score into the running average.
func (p *AgentProfile) ApplyRating(score int) {
	total := p.Rating*float64(p.ReviewCount) + float64(score)
	p.ReviewCount++
	p.Rating = total / float64(p.ReviewCount)
}
