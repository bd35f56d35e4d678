package quote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"freightflow/domain"
	"freightflow/freight"
	"freightflow/outbox"
	"freightflow/policy"
	"freightflow/store"
)

var t0 = time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type env struct {
	st     *store.Memory
	engine *freight.Engine
	svc    *Service
	clock  *clock
	owner  policy.Caller
	a1     policy.Caller
	a2     policy.Caller
}

func newEnv(t *testing.T, pol *policy.Policy) *env {
	t.Helper()
	if pol == nil {
		pol = policy.New()
	}
	e := &env{
		st:    store.NewMemory(),
		clock: &clock{now: t0.Add(-time.Hour)},
		owner: policy.Caller{ID: "user-u", Role: domain.RoleIndividual},
		a1:    policy.Caller{ID: "agent-a1", Role: domain.RoleAgent},
		a2:    policy.Caller{ID: "agent-a2", Role: domain.RoleAgent},
	}
	var seq atomic.Int64
	ids := func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }
	e.engine = freight.NewEngine(e.st, pol, outbox.NewWriter().WithClock(e.clock.Now), nil).
		WithClock(e.clock.Now).WithIDGenerator(ids)
	e.svc = NewService(e.st, e.engine, pol).WithIDGenerator(ids)

	err := e.st.InTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, c := range []policy.Caller{e.owner, e.a1, e.a2} {
			if err := tx.PutUser(ctx, domain.User{
				ID: c.ID, Email: c.ID + "@example.com", FullName: c.ID, Role: c.Role,
				PasswordHash: "x", CreatedAt: t0, UpdatedAt: t0,
			}); err != nil {
				return err
			}
			if c.Role == domain.RoleAgent {
				if err := tx.PutAgentProfile(ctx, domain.AgentProfile{UserID: c.ID, Verified: c.ID == e.a1.ID, UpdatedAt: t0}); err != nil {
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

func (e *env) publishedRequest(t *testing.T) domain.FreightRequest {
	t.Helper()
	ctx := context.Background()
	req, err := e.engine.Create(ctx, e.owner, freight.CreateParams{
		Title:       "Household move",
		Description: "Two-bedroom flat",
		Origin:      domain.Location{Address: "12 Jalan Ampang", City: "Kuala Lumpur", Country: "MY"},
		Destination: domain.Location{Address: "3 Lebuh Pantai", City: "George Town", Country: "MY"},
		Cargo:       domain.Cargo{Type: "furniture", WeightKg: 1500},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != domain.RequestDraft {
		t.Fatalf("expected draft, got %s", req.Status)
	}
	req, err = e.engine.Publish(ctx, e.owner, req.ID)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	return req
}

func myr(amount float64) SubmitParams {
	return SubmitParams{Price: domain.Money{Amount: amount, Currency: "MYR"}}
}

func TestAcceptScenario(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	q1, err := e.svc.Submit(ctx, e.a1, r.ID, myr(100))
	if err != nil {
		t.Fatalf("submit q1: %v", err)
	}
	q2, err := e.svc.Submit(ctx, e.a2, r.ID, myr(120))
	if err != nil {
		t.Fatalf("submit q2: %v", err)
	}

	res, err := e.svc.Accept(ctx, e.owner, q1.ID)
	if err != nil {
		t.Fatalf("accept q1: %v", err)
	}
	if res.Request.Status != domain.RequestAssigned || *res.Request.AssignedQuoteID != q1.ID || *res.Request.AssignedAgentID != e.a1.ID {
		t.Fatalf("request not assigned to q1: %+v", res.Request)
	}
	if res.Quote.Status != domain.QuoteAccepted {
		t.Fatalf("q1 status = %s", res.Quote.Status)
	}
	got2, _ := e.st.GetQuote(ctx, q2.ID)
	if got2.Status != domain.QuoteRejected {
		t.Fatalf("q2 status = %s", got2.Status)
	}

	if _, err := e.svc.Accept(ctx, e.a2, q1.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("A2 accept: expected ErrForbidden, got %v", err)
	}
	if _, err := e.svc.Reject(ctx, e.a2, q1.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("A2 reject: expected ErrForbidden, got %v", err)
	}
	if _, err := e.svc.Submit(ctx, e.owner, r.ID, myr(90)); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("owner submit on assigned: expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpiryScenario(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	params := myr(150)
	expires := t0
	params.ExpiresAt = &expires
	q, err := e.svc.Submit(ctx, e.a1, r.ID, params)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	n, err := e.svc.ExpireStale(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := e.st.GetQuote(ctx, q.ID)
	if got.Status != domain.QuoteExpired {
		t.Fatalf("status = %s", got.Status)
	}

	e.clock.Set(t0.Add(2 * time.Hour))
	if _, err := e.svc.Accept(ctx, e.owner, q.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("accept expired: expected ErrInvalidTransition, got %v", err)
	}
}

func TestExpireStaleOnLapsedRequest(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	requestExpiry := t0
	req, err := e.engine.Create(ctx, e.owner, freight.CreateParams{
		Title:       "Cold chain",
		Description: "Chilled produce",
		Origin:      domain.Location{Address: "1 Jalan Pasar", City: "Ipoh", Country: "MY"},
		Destination: domain.Location{Address: "9 Jalan Laut", City: "Klang", Country: "MY"},
		Cargo:       domain.Cargo{Type: "produce", WeightKg: 400},
		ExpiresAt:   &requestExpiry,
		Publish:     true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	params := myr(90)
	quoteExpiry := t0.Add(-30 * time.Minute)
	params.ExpiresAt = &quoteExpiry
	q, err := e.svc.Submit(ctx, e.a1, req.ID, params)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	now := t0.Add(time.Hour)
	e.clock.Set(now)
	n, err := e.svc.ExpireStale(ctx, now)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	got, _ := e.st.GetQuote(ctx, q.ID)
	if got.Status != domain.QuoteExpired {
		t.Fatalf("quote status = %s, want expired", got.Status)
	}
	stored, _ := e.st.GetRequest(ctx, req.ID)
	if stored.Status != domain.RequestCancelled || stored.CancelReason == nil || *stored.CancelReason != domain.CancelReasonExpired {
		t.Fatalf("request should be cancelled as expired, got %s", stored.Status)
	}
}

func TestExpireStaleIsIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	expires := t0
	for _, a := range []policy.Caller{e.a1, e.a2} {
		p := myr(100)
		p.ExpiresAt = &expires
		if _, err := e.svc.Submit(ctx, a, r.ID, p); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	now := t0.Add(time.Minute)
	first, err := e.svc.ExpireStale(ctx, now)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	snapshot, _ := e.st.QuotesByRequest(ctx, r.ID)
	second, err := e.svc.ExpireStale(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	again, _ := e.st.QuotesByRequest(ctx, r.ID)

	if first != 2 || second != 0 {
		t.Fatalf("sweeps changed %d then %d", first, second)
	}
	for i := range snapshot {
		if snapshot[i].Status != again[i].Status || !snapshot[i].UpdatedAt.Equal(again[i].UpdatedAt) {
			t.Fatalf("second sweep changed quote %s", snapshot[i].ID)
		}
	}
}

func TestAcceptDoesNotTouchDecidedQuotes(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	q1, _ := e.svc.Submit(ctx, e.a1, r.ID, myr(100))
	q2, _ := e.svc.Submit(ctx, e.a2, r.ID, myr(110))
	withdrawn, err := e.svc.Withdraw(ctx, e.a2, q2.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := e.svc.Accept(ctx, e.owner, q1.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	after, _ := e.st.GetQuote(ctx, q2.ID)
	if after.Status != domain.QuoteExpired || !after.UpdatedAt.Equal(withdrawn.UpdatedAt) {
		t.Fatalf("withdrawn quote was touched by cascade: %+v", after)
	}
}

func TestDuplicatePendingQuote(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	q, err := e.svc.Submit(ctx, e.a1, r.ID, myr(100))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := e.svc.Submit(ctx, e.a1, r.ID, myr(95)); !errors.Is(err, domain.ErrDuplicateQuote) {
		t.Fatalf("expected ErrDuplicateQuote, got %v", err)
	}

	if _, err := e.svc.Reject(ctx, e.owner, q.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := e.svc.Submit(ctx, e.a1, r.ID, myr(95)); err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
}

func TestSubmitReplacesLapsedPendingQuote(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	p := myr(100)
	soon := e.clock.Now().Add(time.Minute)
	p.ExpiresAt = &soon
	old, err := e.svc.Submit(ctx, e.a1, r.ID, p)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.clock.Set(soon.Add(time.Second))

	if _, err := e.svc.Submit(ctx, e.a1, r.ID, myr(90)); err != nil {
		t.Fatalf("resubmit over lapsed quote: %v", err)
	}
	got, _ := e.st.GetQuote(ctx, old.ID)
	if got.Status != domain.QuoteExpired {
		t.Fatalf("lapsed quote status = %s", got.Status)
	}
}

func TestSubmitValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)

	cases := map[string]SubmitParams{
		"zero price":   {Price: domain.Money{Amount: 0, Currency: "MYR"}},
		"bad currency": {Price: domain.Money{Amount: 10, Currency: "ringgit"}},
		"past expiry": func() SubmitParams {
			p := myr(10)
			past := e.clock.Now().Add(-time.Minute)
			p.ExpiresAt = &past
			return p
		}(),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := e.svc.Submit(ctx, e.a1, r.ID, p); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if _, err := e.svc.Submit(ctx, e.a1, "missing", myr(10)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown request: expected ErrNotFound, got %v", err)
	}
}

func TestSubmitAppliesDefaultTTL(t *testing.T) {
	e := newEnv(t, nil)
	e.svc.WithDefaultTTL(6 * time.Hour)
	r := e.publishedRequest(t)

	q, err := e.svc.Submit(context.Background(), e.a1, r.ID, myr(100))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if q.ExpiresAt == nil || !q.ExpiresAt.Equal(e.clock.Now().Add(6*time.Hour)) {
		t.Fatalf("expiresAt = %v", q.ExpiresAt)
	}
}

func TestConcurrentAcceptHasOneWinner(t *testing.T) {
	for round := 0; round < 20; round++ {
		e := newEnv(t, nil)
		ctx := context.Background()
		r := e.publishedRequest(t)
		q1, _ := e.svc.Submit(ctx, e.a1, r.ID, myr(100))
		q2, _ := e.svc.Submit(ctx, e.a2, r.ID, myr(120))

		var wins, conflicts atomic.Int32
		var g errgroup.Group
		for _, id := range []string{q1.ID, q2.ID} {
			g.Go(func() error {
				_, err := e.svc.Accept(ctx, e.owner, id)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, domain.ErrInvalidTransition):
					conflicts.Add(1)
				default:
					return err
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d: unexpected error %v", round, err)
		}
		if wins.Load() != 1 || conflicts.Load() != 1 {
			t.Fatalf("round %d: wins=%d conflicts=%d", round, wins.Load(), conflicts.Load())
		}

		quotes, _ := e.st.QuotesByRequest(ctx, r.ID)
		accepted := 0
		for _, q := range quotes {
			if q.Status == domain.QuoteAccepted {
				accepted++
			}
		}
		if accepted != 1 {
			t.Fatalf("round %d: %d accepted quotes", round, accepted)
		}
	}
}

func TestWithdrawOnlyByQuoteAgent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)
	q, _ := e.svc.Submit(ctx, e.a1, r.ID, myr(100))

	if _, err := e.svc.Withdraw(ctx, e.a2, q.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	got, err := e.svc.Withdraw(ctx, e.a1, q.ID)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Status != domain.QuoteExpired || got.ExpiresAt == nil || !got.ExpiresAt.Equal(e.clock.Now()) {
		t.Fatalf("unexpected withdrawn quote: %+v", got)
	}
	if _, err := e.svc.Withdraw(ctx, e.a1, q.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("withdraw twice: expected ErrInvalidTransition, got %v", err)
	}
}

func TestVerifiedAgentRequiredAboveThreshold(t *testing.T) {
	pol := policy.New().WithRule(policy.QuoteAccept, policy.AgentVerifiedAbove(500))
	e := newEnv(t, pol)
	ctx := context.Background()
	r := e.publishedRequest(t)

	unverified, _ := e.svc.Submit(ctx, e.a2, r.ID, myr(800))
	if _, err := e.svc.Accept(ctx, e.owner, unverified.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for unverified agent, got %v", err)
	}
	verified, _ := e.svc.Submit(ctx, e.a1, r.ID, myr(800))
	if _, err := e.svc.Accept(ctx, e.owner, verified.ID); err != nil {
		t.Fatalf("verified agent: %v", err)
	}
}

func TestListVisibility(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	r := e.publishedRequest(t)
	q1, _ := e.svc.Submit(ctx, e.a1, r.ID, myr(100))
	if _, err := e.svc.Submit(ctx, e.a2, r.ID, myr(120)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	all, err := e.svc.ListForRequest(ctx, e.owner, r.ID, domain.PageRequest{})
	if err != nil || all.Pagination.Total != 2 {
		t.Fatalf("owner sees %d quotes, err %v", all.Pagination.Total, err)
	}
	own, err := e.svc.ListForRequest(ctx, e.a1, r.ID, domain.PageRequest{})
	if err != nil || own.Pagination.Total != 1 || own.Data[0].ID != q1.ID {
		t.Fatalf("agent sees %+v, err %v", own.Pagination, err)
	}

	if _, err := e.svc.Get(ctx, e.a2, q1.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("other agent get: expected ErrForbidden, got %v", err)
	}
	mine, err := e.svc.ListMine(ctx, e.a1, domain.QuotePending, domain.PageRequest{})
	if err != nil || mine.Pagination.Total != 1 {
		t.Fatalf("list mine: %+v %v", mine.Pagination, err)
	}
	if _, err := e.svc.ListMine(ctx, e.owner, "", domain.PageRequest{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("shipper list mine: expected ErrForbidden, got %v", err)
	}
}
