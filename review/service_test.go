package review

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"freightflow/agent"
	"freightflow/domain"
	"freightflow/freight"
	"freightflow/outbox"
	"freightflow/policy"
	"freightflow/quote"
	"freightflow/store"
)

var now = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	st      *store.Memory
	engine  *freight.Engine
	quotes  *quote.Service
	agents  *agent.Service
	reviews *Service
	owner   policy.Caller
	carrier policy.Caller
	outside policy.Caller
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := func() time.Time { return now }
	seq := 0
	ids := func() string {
		seq++
		return fmt.Sprintf("id-%03d", seq)
	}
	e := &env{
		st:      store.NewMemory(),
		owner:   policy.Caller{ID: "shipper-1", Role: domain.RoleIndividual},
		carrier: policy.Caller{ID: "agent-1", Role: domain.RoleAgent},
		outside: policy.Caller{ID: "agent-2", Role: domain.RoleAgent},
	}
	pol := policy.New()
	w := outbox.NewWriter().WithClock(clock).WithIDGenerator(ids)
	e.agents = agent.NewService(e.st, pol, w).WithClock(clock)
	e.engine = freight.NewEngine(e.st, pol, w, e.agents).WithClock(clock).WithIDGenerator(ids)
	e.quotes = quote.NewService(e.st, e.engine, pol).WithIDGenerator(ids)
	e.reviews = NewService(e.st, e.engine, pol, e.agents).WithIDGenerator(ids)

	err := e.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, c := range []policy.Caller{e.owner, e.carrier, e.outside} {
			if err := tx.PutUser(ctx, domain.User{
				ID: c.ID, Email: c.ID + "@example.com", FullName: c.ID, Role: c.Role,
				PasswordHash: "x", CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
			if c.Role == domain.RoleAgent {
				if err := tx.PutAgentProfile(ctx, domain.AgentProfile{UserID: c.ID, UpdatedAt: now}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return e
}

// assigned creates a published request and has the owner accept agent-1's quote.
func (e *env) assigned(t *testing.T) domain.FreightRequest {
	t.Helper()
	ctx := context.Background()
	req, err := e.engine.Create(ctx, e.owner, freight.CreateParams{
		Title:       "Furniture",
		Description: "One sofa and a table",
		Origin:      domain.Location{Address: "3 Jalan Ampang", City: "Kuala Lumpur", Country: "MY"},
		Destination: domain.Location{Address: "8 Lebuh Pantai", City: "George Town", Country: "MY"},
		Cargo:       domain.Cargo{Type: "furniture", WeightKg: 120, Quantity: 2},
		Publish:     true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	q, err := e.quotes.Submit(ctx, e.carrier, req.ID, quote.SubmitParams{Price: domain.Money{Amount: 450, Currency: "MYR"}})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	res, err := e.quotes.Accept(ctx, e.owner, q.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return res.Request
}

func (e *env) delivered(t *testing.T) domain.FreightRequest {
	t.Helper()
	ctx := context.Background()
	req := e.assigned(t)
	if _, err := e.engine.MarkInTransit(ctx, e.carrier, req.ID); err != nil {
		t.Fatalf("in transit: %v", err)
	}
	req, err := e.engine.MarkDelivered(ctx, e.owner, req.ID)
	if err != nil {
		t.Fatalf("delivered: %v", err)
	}
	return req
}

func TestCreate_BothPartiesReviewOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.delivered(t)

	comment := "  On time, careful handling "
	r, err := e.reviews.Create(ctx, e.owner, CreateParams{RequestID: req.ID, Rating: 5, Comment: &comment})
	if err != nil {
		t.Fatalf("owner review: %v", err)
	}
	if r.RevieweeID != e.carrier.ID || r.Comment == nil || *r.Comment != "On time, careful handling" {
		t.Fatalf("unexpected review %+v", r)
	}

	back, err := e.reviews.Create(ctx, e.carrier, CreateParams{RequestID: req.ID, Rating: 4})
	if err != nil {
		t.Fatalf("agent review: %v", err)
	}
	if back.RevieweeID != e.owner.ID {
		t.Fatalf("agent should review the owner, got %s", back.RevieweeID)
	}

	if _, err := e.reviews.Create(ctx, e.owner, CreateParams{RequestID: req.ID, Rating: 1}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict on second review, got %v", err)
	}

	profile, err := e.agents.Get(ctx, e.carrier.ID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.ReviewCount != 1 || profile.Rating != 5 || profile.CompletedJobs != 1 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	page, err := e.reviews.ListForUser(ctx, e.carrier.ID, domain.PageRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Pagination.Total != 1 || page.Data[0].ID != r.ID {
		t.Fatalf("unexpected list %+v", page)
	}
}

func TestCreate_Rejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assigned := e.assigned(t)
	if _, err := e.reviews.Create(ctx, e.owner, CreateParams{RequestID: assigned.ID, Rating: 5}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("review before delivery: expected ErrInvalidTransition, got %v", err)
	}

	delivered := e.delivered(t)
	cases := []struct {
		name   string
		caller policy.Caller
		params CreateParams
		want   error
	}{
		{"rating too low", e.owner, CreateParams{RequestID: delivered.ID, Rating: 0}, domain.ErrValidation},
		{"rating too high", e.owner, CreateParams{RequestID: delivered.ID, Rating: 6}, domain.ErrValidation},
		{"outsider", e.outside, CreateParams{RequestID: delivered.ID, Rating: 3}, domain.ErrForbidden},
		{"unknown request", e.owner, CreateParams{RequestID: "missing", Rating: 3}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.reviews.Create(ctx, tc.caller, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	profile, _ := e.agents.Get(ctx, e.carrier.ID)
	if profile.ReviewCount != 0 {
		t.Fatalf("failed reviews must not touch the rating: %+v", profile)
	}
}

func TestListForUser_UnknownUser(t *testing.T) {
	e := newEnv(t)
	if _, err := e.reviews.ListForUser(context.Background(), "ghost", domain.PageRequest{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
