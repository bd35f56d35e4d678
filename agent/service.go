// Package agent manages agent profiles: public browsing, self-service edits,
// operator verification and the counters driven by deliveries and reviews.
package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"freightflow/domain"
	"freightflow/policy"
	"freightflow/store"
)

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx store.Tx, topic, aggregateID, actorID string, payload map[string]any) error
}

// ListFilter narrows List.
type ListFilter struct {
	VerifiedOnly bool
	CoverageArea string
	Page         domain.PageRequest
}

// UpdateParams holds the fields an agent may edit. Nil leaves the field as is.
type UpdateParams struct {
	CoverageAreas *[]string
	Bio           *string
}

// Service exposes business-level agent operations.
type Service struct {
	store  store.Store
	policy *policy.Policy
	outbox OutboxWriter
	now    func() time.Time
}

// NewService builds a Service on top of the entity store.
func NewService(st store.Store, pol *policy.Policy, outbox OutboxWriter) *Service {
	return &Service{store: st, policy: pol, outbox: outbox, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns the profile for the given agent user.
func (s *Service) Get(ctx context.Context, userID string) (domain.AgentProfile, error) {
	return s.store.GetAgentProfile(ctx, userID)
}

// List returns profiles with the best rated first.
func (s *Service) List(ctx context.Context, f ListFilter) (domain.Page[domain.AgentProfile], error) {
	profiles, total, err := s.store.ListAgentProfiles(ctx, store.AgentFilter{
		VerifiedOnly: f.VerifiedOnly,
		CoverageArea: strings.TrimSpace(f.CoverageArea),
		Page:         f.Page,
	})
	if err != nil {
		return domain.Page[domain.AgentProfile]{}, fmt.Errorf("agent: list: %w", err)
	}
	return domain.NewPage(profiles, f.Page, total), nil
}

// UpdateProfile lets an agent edit coverage areas and bio. Rating and job
// counters are not reachable from here.
func (s *Service) UpdateProfile(ctx context.Context, caller policy.Caller, userID string, params UpdateParams) (domain.AgentProfile, error) {
	if err := s.policy.Authorize(caller, policy.AgentUpdateProfile, policy.Target{ProfileUserID: userID}); err != nil {
		return domain.AgentProfile{}, err
	}

	var out domain.AgentProfile
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		profile, err := tx.GetAgentProfileForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		changed := []string{}
		if params.CoverageAreas != nil {
			profile.CoverageAreas = normalizeAreas(*params.CoverageAreas)
			changed = append(changed, "coverage_areas")
		}
		if params.Bio != nil {
			bio := strings.TrimSpace(*params.Bio)
			if bio == "" {
				profile.Bio = nil
			} else {
				profile.Bio = &bio
			}
			changed = append(changed, "bio")
		}
		profile.UpdatedAt = s.now().UTC()
		if err := tx.PutAgentProfile(ctx, profile); err != nil {
			return err
		}
		out = profile
		return s.enqueue(ctx, tx, userID, caller.ID, map[string]any{"fields": changed})
	})
	if err != nil {
		return domain.AgentProfile{}, err
	}
	return out, nil
}

// SetVerified flips the verification flag. It is an operator action and
// carries no caller.
func (s *Service) SetVerified(ctx context.Context, userID string, verified bool) (domain.AgentProfile, error) {
	var out domain.AgentProfile
	err := s.store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		profile, err := tx.GetAgentProfileForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		profile.Verified = verified
		profile.UpdatedAt = s.now().UTC()
		if err := tx.PutAgentProfile(ctx, profile); err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		user.Verified = verified
		user.UpdatedAt = profile.UpdatedAt
		if err := tx.PutUser(ctx, user); err != nil {
			return err
		}
		out = profile
		return s.enqueue(ctx, tx, userID, "", map[string]any{"verified": verified})
	})
	if err != nil {
		return domain.AgentProfile{}, fmt.Errorf("agent: set verified %s: %w", userID, err)
	}
	return out, nil
}

// RecordCompletionTx credits a delivered job to the agent inside the
// caller's transaction. The request lock is already held.
func (s *Service) RecordCompletionTx(ctx context.Context, tx store.Tx, agentID string) error {
	profile, err := tx.GetAgentProfileForUpdate(ctx, agentID)
	if err != nil {
		return fmt.Errorf("agent: record completion: %w", err)
	}
	profile.CompletedJobs++
	profile.UpdatedAt = s.now().UTC()
	return tx.PutAgentProfile(ctx, profile)
}

// ApplyReviewTx folds a review score into the agent's running average.
func (s *Service) ApplyReviewTx(ctx context.Context, tx store.Tx, agentID string, rating int) error {
	profile, err := tx.GetAgentProfileForUpdate(ctx, agentID)
	if err != nil {
		return fmt.Errorf("agent: apply review: %w", err)
	}
	profile.ApplyRating(rating)
	profile.UpdatedAt = s.now().UTC()
	return tx.PutAgentProfile(ctx, profile)
}

func (s *Service) enqueue(ctx context.Context, tx store.Tx, userID, actorID string, payload map[string]any) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Enqueue(ctx, tx, domain.TopicAgentProfileUpdated, userID, actorID, payload)
}

// normalizeAreas trims, drops blanks and dedupes case-insensitively while
// keeping the first spelling.
func normalizeAreas(areas []string) []string {
	seen := make(map[string]struct{}, len(areas))
	out := make([]string, 0, len(areas))
	for _, a := range areas {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
