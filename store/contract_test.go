package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"freightflow/domain"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	owner domain.User
	agent domain.User
	req   domain.FreightRequest
}

func newUser(role domain.Role) domain.User {
	id := uuid.NewString()
	return domain.User{
		ID:           id,
		Email:        id[:8] + "@example.com",
		FullName:     "User " + id[:8],
		Role:         role,
		PasswordHash: "hash",
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	}
}

func newActiveRequest(ownerID string) domain.FreightRequest {
	return domain.FreightRequest{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Title:       "Pallets to Denver",
		Description: "Four pallets of tiles",
		Origin:      domain.Location{Address: "1 Main St", City: "Austin"},
		Destination: domain.Location{Address: "9 Elm St", City: "Denver"},
		Cargo:       domain.Cargo{Type: "pallets", WeightKg: 800, Quantity: 4},
		Status:      domain.RequestActive,
		CreatedAt:   epoch,
		UpdatedAt:   epoch,
	}
}

func newQuote(requestID, agentID string) domain.Quote {
	return domain.Quote{
		ID:        uuid.NewString(),
		RequestID: requestID,
		AgentID:   agentID,
		Price:     domain.Money{Amount: 1200, Currency: "USD"},
		Status:    domain.QuotePending,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func seed(t *testing.T, s Store) fixture {
	t.Helper()
	f := fixture{owner: newUser(domain.RoleBusiness), agent: newUser(domain.RoleAgent)}
	f.req = newActiveRequest(f.owner.ID)
	err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.PutUser(ctx, f.owner); err != nil {
			return err
		}
		if err := tx.PutUser(ctx, f.agent); err != nil {
			return err
		}
		if err := tx.PutAgentProfile(ctx, domain.AgentProfile{UserID: f.agent.ID, UpdatedAt: epoch}); err != nil {
			return err
		}
		return tx.PutRequest(ctx, f.req)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return f
}

func putQuote(s Store, q domain.Quote) error {
	return s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.PutQuote(ctx, q)
	})
}

// runContract exercises the behaviour every Store must share.
func runContract(t *testing.T, s Store) {
	t.Run("rollback discards writes", func(t *testing.T) {
		f := seed(t, s)
		boom := errors.New("boom")
		err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			req, err := tx.GetRequestForUpdate(ctx, f.req.ID)
			if err != nil {
				return err
			}
			req.Title = "changed"
			if err := tx.PutRequest(ctx, req); err != nil {
				return err
			}
			got, err := tx.GetRequest(ctx, f.req.ID)
			if err != nil {
				return err
			}
			if got.Title != "changed" {
				t.Errorf("expected tx to read its own write, got %q", got.Title)
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, err := s.GetRequest(context.Background(), f.req.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Title != f.req.Title {
			t.Fatalf("rolled back write leaked: %q", got.Title)
		}
	})

	t.Run("missing entities are not found", func(t *testing.T) {
		ctx := context.Background()
		if _, err := s.GetRequest(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("request: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetQuote(ctx, uuid.NewString()); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("quote: expected ErrNotFound, got %v", err)
		}
		if _, err := s.GetUserByEmail(ctx, "nobody-"+uuid.NewString()[:6]+"@example.com"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("user: expected ErrNotFound, got %v", err)
		}
	})

	t.Run("invalid rows are rejected", func(t *testing.T) {
		f := seed(t, s)
		bad := f.req
		bad.Title = "  "
		err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.PutRequest(ctx, bad)
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("one pending quote per agent and request", func(t *testing.T) {
		f := seed(t, s)
		first := newQuote(f.req.ID, f.agent.ID)
		if err := putQuote(s, first); err != nil {
			t.Fatalf("first quote: %v", err)
		}
		if err := putQuote(s, newQuote(f.req.ID, f.agent.ID)); !errors.Is(err, domain.ErrDuplicateQuote) {
			t.Fatalf("expected ErrDuplicateQuote, got %v", err)
		}

		first.Status = domain.QuoteRejected
		if err := putQuote(s, first); err != nil {
			t.Fatalf("reject first: %v", err)
		}
		if err := putQuote(s, newQuote(f.req.ID, f.agent.ID)); err != nil {
			t.Fatalf("resubmission after rejection: %v", err)
		}
	})

	t.Run("one accepted quote per request", func(t *testing.T) {
		f := seed(t, s)
		other := newUser(domain.RoleAgent)
		if err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.PutUser(ctx, other)
		}); err != nil {
			t.Fatalf("seed agent: %v", err)
		}
		a := newQuote(f.req.ID, f.agent.ID)
		a.Status = domain.QuoteAccepted
		if err := putQuote(s, a); err != nil {
			t.Fatalf("first accepted: %v", err)
		}
		b := newQuote(f.req.ID, other.ID)
		b.Status = domain.QuoteAccepted
		if err := putQuote(s, b); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("quote needs an existing request", func(t *testing.T) {
		f := seed(t, s)
		if err := putQuote(s, newQuote(uuid.NewString(), f.agent.ID)); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("emails are unique ignoring case", func(t *testing.T) {
		f := seed(t, s)
		twin := newUser(domain.RoleIndividual)
		twin.Email = strings.ToUpper(f.owner.Email)
		err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.PutUser(ctx, twin)
		})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, err := s.GetUserByEmail(context.Background(), strings.ToUpper(f.owner.Email))
		if err != nil || got.ID != f.owner.ID {
			t.Fatalf("lookup by email: %+v %v", got, err)
		}
	})

	t.Run("one review per reviewer and request", func(t *testing.T) {
		f := seed(t, s)
		review := domain.Review{
			ID: uuid.NewString(), RequestID: f.req.ID, ReviewerID: f.owner.ID, RevieweeID: f.agent.ID,
			Rating: 5, CreatedAt: epoch,
		}
		put := func(r domain.Review) error {
			return s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
				return tx.PutReview(ctx, r)
			})
		}
		if err := put(review); err != nil {
			t.Fatalf("first review: %v", err)
		}
		review.ID = uuid.NewString()
		if err := put(review); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		list, err := s.ReviewsByReviewee(context.Background(), f.agent.ID)
		if err != nil || len(list) != 1 {
			t.Fatalf("reviews by reviewee: %d %v", len(list), err)
		}
	})

	t.Run("list filters on effective status", func(t *testing.T) {
		f := seed(t, s)
		lapsed := newActiveRequest(f.owner.ID)
		past := epoch.Add(-time.Hour)
		lapsed.ExpiresAt = &past
		if err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.PutRequest(ctx, lapsed)
		}); err != nil {
			t.Fatalf("put lapsed: %v", err)
		}

		active, total, err := s.ListRequests(context.Background(), RequestFilter{
			OwnerID: f.owner.ID, Status: domain.RequestActive, Now: epoch,
		})
		if err != nil {
			t.Fatalf("list active: %v", err)
		}
		if total != 1 || len(active) != 1 || active[0].ID != f.req.ID {
			t.Fatalf("active list = %d/%d", len(active), total)
		}

		cancelled, total, err := s.ListRequests(context.Background(), RequestFilter{
			OwnerID: f.owner.ID, Status: domain.RequestCancelled, Now: epoch,
		})
		if err != nil {
			t.Fatalf("list cancelled: %v", err)
		}
		if total != 1 || cancelled[0].ID != lapsed.ID {
			t.Fatalf("cancelled list = %d", total)
		}
		if cancelled[0].Status != domain.RequestActive {
			t.Fatalf("listing must not rewrite stored status, got %s", cancelled[0].Status)
		}
	})

	t.Run("list filters by city and paginates", func(t *testing.T) {
		f := seed(t, s)
		for i := 0; i < 2; i++ {
			r := newActiveRequest(f.owner.ID)
			if err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
				return tx.PutRequest(ctx, r)
			}); err != nil {
				t.Fatalf("put: %v", err)
			}
		}
		got, total, err := s.ListRequests(context.Background(), RequestFilter{
			OwnerID: f.owner.ID, City: "denver", Page: domain.PageRequest{Page: 2, Limit: 2},
		})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if total != 3 || len(got) != 1 {
			t.Fatalf("page 2 = %d of %d", len(got), total)
		}
	})

	t.Run("events are appended with the transaction", func(t *testing.T) {
		f := seed(t, s)
		ev := domain.Event{
			ID: uuid.NewString(), Topic: domain.TopicRequestCreated, AggregateID: f.req.ID,
			Payload: map[string]any{"status": "active"}, CreatedAt: epoch,
		}
		if err := s.InTx(context.Background(), func(ctx context.Context, tx Tx) error {
			return tx.AppendEvent(ctx, ev)
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
		events, err := s.EventsByAggregate(context.Background(), f.req.ID)
		if err != nil || len(events) != 1 {
			t.Fatalf("events: %d %v", len(events), err)
		}
		if events[0].Payload["status"] != "active" {
			t.Fatalf("payload = %v", events[0].Payload)
		}

		if err := s.MarkEventsPublished(context.Background(), []string{ev.ID}, epoch); err != nil {
			t.Fatalf("mark published: %v", err)
		}
		pending, err := s.PendingEvents(context.Background(), 1000)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		for _, p := range pending {
			if p.ID == ev.ID {
				t.Fatalf("published event still pending")
			}
		}
	})
}
