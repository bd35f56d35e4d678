// Package review records post-delivery ratings between the shipper and the
// agent that carried the load.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"freightflow/domain"
	"freightflow/freight"
	"freightflow/policy"
	"freightflow/store"
)

// RatingRecorder folds a score into an agent's running average.
type RatingRecorder interface {
	ApplyReviewTx(ctx context.Context, tx store.Tx, agentID string, rating int) error
}

type CreateParams struct {
	RequestID string
	Rating    int
	Comment   *string
}

type Service struct {
	engine      *freight.Engine
	store       store.Store
	policy      *policy.Policy
	ratings     RatingRecorder
	idGenerator func() string
}

func NewService(st store.Store, engine *freight.Engine, pol *policy.Policy, ratings RatingRecorder) *Service {
	return &Service{
		engine:      engine,
		store:       st,
		policy:      pol,
		ratings:     ratings,
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

// Create stores the caller's review of the other party on a delivered
// request. The owner reviews the assigned agent and vice versa.
func (s *Service) Create(ctx context.Context, caller policy.Caller, params CreateParams) (domain.Review, error) {
	if params.Rating < domain.MinRating || params.Rating > domain.MaxRating {
		return domain.Review{}, fmt.Errorf("review: rating must be between %d and %d: %w", domain.MinRating, domain.MaxRating, domain.ErrValidation)
	}

	var out domain.Review
	err := s.engine.Locked(ctx, params.RequestID, func(ctx context.Context, tx store.Tx, req *domain.FreightRequest) error {
		target := policy.Target{OwnerID: req.OwnerID}
		if req.AssignedAgentID != nil {
			target.AssignedAgentID = *req.AssignedAgentID
		}
		if err := s.policy.Authorize(caller, policy.ReviewCreate, target); err != nil {
			return err
		}
		if req.Status != domain.RequestDelivered {
			return fmt.Errorf("review: request %s is %s: %w", req.ID, req.Status, domain.ErrInvalidTransition)
		}

		existing, err := tx.ReviewsByRequest(ctx, req.ID)
		if err != nil {
			return err
		}
		for _, r := range existing {
			if r.ReviewerID == caller.ID {
				return fmt.Errorf("review: %s already reviewed request %s: %w", caller.ID, req.ID, domain.ErrConflict)
			}
		}

		reviewee := target.AssignedAgentID
		if caller.ID == target.AssignedAgentID {
			reviewee = req.OwnerID
		}
		r := domain.Review{
			ID:         s.idGenerator(),
			RequestID:  req.ID,
			ReviewerID: caller.ID,
			RevieweeID: reviewee,
			Rating:     params.Rating,
			Comment:    trimmed(params.Comment),
			CreatedAt:  s.engine.Now(),
		}
		if err := tx.PutReview(ctx, r); err != nil {
			return err
		}
		if reviewee == target.AssignedAgentID && s.ratings != nil {
			if err := s.ratings.ApplyReviewTx(ctx, tx, reviewee, r.Rating); err != nil {
				return err
			}
		}
		out = r
		return s.engine.Enqueue(ctx, tx, domain.TopicReviewCreated, req.ID, caller.ID, map[string]any{
			"review_id":   r.ID,
			"reviewee_id": r.RevieweeID,
			"rating":      r.Rating,
		})
	})
	if err != nil {
		return domain.Review{}, err
	}
	return out, nil
}

// ListForUser returns reviews received by userID, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, page domain.PageRequest) (domain.Page[domain.Review], error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return domain.Page[domain.Review]{}, err
	}
	reviews, err := s.store.ReviewsByReviewee(ctx, userID)
	if err != nil {
		return domain.Page[domain.Review]{}, fmt.Errorf("review: list for %s: %w", userID, err)
	}
	newestFirst(reviews)
	return domain.Paginate(reviews, page), nil
}

func newestFirst(reviews []domain.Review) {
	for i, j := 0, len(reviews)-1; i < j; i, j = i+1, j-1 {
		reviews[i], reviews[j] = reviews[j], reviews[i]
	}
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
