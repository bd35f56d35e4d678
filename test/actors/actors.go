// Package actors drives the marketplace services concurrently against a real
// Postgres so the oracles can look for broken invariants.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightflow/agent"
	"freightflow/domain"
	"freightflow/freight"
	"freightflow/outbox"
	"freightflow/policy"
	"freightflow/quote"
	"freightflow/store"
)

// Stats counts what the actors saw. Rejected operations are expected under
// contention; transient ones are infrastructure failures such as killed
// backends.
type Stats struct {
	Succeeded atomic.Int64
	Rejected  atomic.Int64
	Transient atomic.Int64
}

func (s *Stats) String() string {
	return fmt.Sprintf("ok=%d rejected=%d transient=%d", s.Succeeded.Load(), s.Rejected.Load(), s.Transient.Load())
}

// World wires the services to one pool and holds the seeded principals.
type World struct {
	Pool     *pgxpool.Pool
	Store    *store.Postgres
	Engine   *freight.Engine
	Quotes   *quote.Service
	Agents   *agent.Service
	Shippers []policy.Caller
	Carriers []policy.Caller
	Stats    *Stats
}

func NewWorld(pool *pgxpool.Pool) *World {
	st := store.NewPostgres(pool)
	pol := policy.New()
	w := outbox.NewWriter()
	agents := agent.NewService(st, pol, w)
	engine := freight.NewEngine(st, pol, w, agents)
	return &World{
		Pool:   pool,
		Store:  st,
		Engine: engine,
		Quotes: quote.NewService(st, engine, pol),
		Agents: agents,
		Stats:  &Stats{},
	}
}

// Seed inserts shippers and carriers with agent profiles.
func (w *World) Seed(ctx context.Context, shippers, carriers int) error {
	now := time.Now().UTC()
	return w.Store.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		for i := 0; i < shippers; i++ {
			c := policy.Caller{ID: fmt.Sprintf("shipper-%d", i), Role: domain.RoleBusiness}
			if err := tx.PutUser(ctx, seedUser(c, now)); err != nil {
				return err
			}
			w.Shippers = append(w.Shippers, c)
		}
		for i := 0; i < carriers; i++ {
			c := policy.Caller{ID: fmt.Sprintf("carrier-%d", i), Role: domain.RoleAgent}
			if err := tx.PutUser(ctx, seedUser(c, now)); err != nil {
				return err
			}
			if err := tx.PutAgentProfile(ctx, domain.AgentProfile{UserID: c.ID, CoverageAreas: []string{}, UpdatedAt: now}); err != nil {
				return err
			}
			w.Carriers = append(w.Carriers, c)
		}
		return nil
	})
}

func seedUser(c policy.Caller, now time.Time) domain.User {
	return domain.User{
		ID:           c.ID,
		Email:        c.ID + "@stress.example.com",
		FullName:     c.ID,
		Role:         c.Role,
		PasswordHash: "x",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// record classifies err and only returns it when the actor should stop.
func (w *World) record(err error) error {
	switch {
	case err == nil:
		w.Stats.Succeeded.Add(1)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDuplicateQuote),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrForbidden):
		w.Stats.Rejected.Add(1)
	case errors.Is(err, domain.ErrValidation):
		return fmt.Errorf("unexpected validation failure: %w", err)
	default:
		w.Stats.Transient.Add(1)
	}
	return nil
}

func (w *World) pick(callers []policy.Caller) policy.Caller {
	return callers[rand.Intn(len(callers))]
}

// randomRequest returns a random request in status together with its owner.
func (w *World) randomRequest(ctx context.Context, status domain.RequestStatus) (id, owner string, ok bool) {
	err := w.Pool.QueryRow(ctx,
		`SELECT id, owner_id FROM freight_requests WHERE status = $1 ORDER BY random() LIMIT 1`,
		status).Scan(&id, &owner)
	return id, owner, err == nil
}

// randomPendingQuote returns a pending quote on an active request.
func (w *World) randomPendingQuote(ctx context.Context) (id, agentID, owner string, ok bool) {
	err := w.Pool.QueryRow(ctx, `
		SELECT q.id, q.agent_id, r.owner_id
		FROM quotes q JOIN freight_requests r ON r.id = q.request_id
		WHERE q.status = 'pending' AND r.status = 'active'
		ORDER BY random() LIMIT 1`).Scan(&id, &agentID, &owner)
	return id, agentID, owner, err == nil
}

type step func(ctx context.Context) error

func (w *World) loop(ctx context.Context, stop <-chan struct{}, pause time.Duration, fn step) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if err := w.record(fn(ctx)); err != nil {
			return err
		}
		time.Sleep(pause + time.Duration(rand.Int63n(int64(pause))))
	}
}

// Poster publishes new requests.
func Poster(ctx context.Context, w *World, stop <-chan struct{}) error {
	return w.loop(ctx, stop, 40*time.Millisecond, func(ctx context.Context) error {
		_, err := w.Engine.Create(ctx, w.pick(w.Shippers), freight.CreateParams{
			Title:       "Pallets",
			Description: "Stress load",
			Origin:      domain.Location{Address: "1 Jalan Sultan", City: "Kuala Lumpur", Country: "MY"},
			Destination: domain.Location{Address: "2 Jalan Tebrau", City: "Johor Bahru", Country: "MY"},
			Cargo:       domain.Cargo{Type: "pallet", WeightKg: float64(100 + rand.Intn(900)), Quantity: 1 + rand.Intn(4)},
			Publish:     true,
		})
		return err
	})
}

// Bidder submits quotes on active requests, often racing itself for the same
// request and agent pair.
func Bidder(ctx context.Context, w *World, stop <-chan struct{}) error {
	return w.loop(ctx, stop, 10*time.Millisecond, func(ctx context.Context) error {
		id, _, ok := w.randomRequest(ctx, domain.RequestActive)
		if !ok {
			return nil
		}
		expires := time.Now().Add(time.Duration(500+rand.Intn(3000)) * time.Millisecond)
		_, err := w.Quotes.Submit(ctx, w.pick(w.Carriers), id, quote.SubmitParams{
			Price:     domain.Money{Amount: float64(200 + rand.Intn(800)), Currency: "MYR"},
			ExpiresAt: &expires,
		})
		return err
	})
}

// Acceptor accepts random pending quotes as the request owner.
func Acceptor(ctx context.Context, w *World, stop <-chan struct{}) error {
	return w.loop(ctx, stop, 15*time.Millisecond, func(ctx context.Context) error {
		id, _, owner, ok := w.randomPendingQuote(ctx)
		if !ok {
			return nil
		}
		_, err := w.Quotes.Accept(ctx, policy.Caller{ID: owner, Role: domain.RoleBusiness}, id)
		return err
	})
}

// Withdrawer withdraws or rejects pending quotes.
func Withdrawer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return w.loop(ctx, stop, 30*time.Millisecond, func(ctx context.Context) error {
		id, agentID, owner, ok := w.randomPendingQuote(ctx)
		if !ok {
			return nil
		}
		if rand.Intn(2) == 0 {
			_, err := w.Quotes.Withdraw(ctx, policy.Caller{ID: agentID, Role: domain.RoleAgent}, id)
			return err
		}
		_, err := w.Quotes.Reject(ctx, policy.Caller{ID: owner, Role: domain.RoleBusiness}, id)
		return err
	})
}

// Canceller cancels requests that are not yet in transit.
func Canceller(ctx context.Context, w *World, stop <-chan struct{}) error {
	statuses := []domain.RequestStatus{domain.RequestActive, domain.RequestAssigned}
	return w.loop(ctx, stop, 120*time.Millisecond, func(ctx context.Context) error {
		id, owner, ok := w.randomRequest(ctx, statuses[rand.Intn(len(statuses))])
		if !ok {
			return nil
		}
		reason := "stress"
		_, err := w.Engine.Cancel(ctx, policy.Caller{ID: owner, Role: domain.RoleBusiness}, id, &reason)
		return err
	})
}

// Advancer moves assigned requests through transit to delivery as the
// assigned agent.
func Advancer(ctx context.Context, w *World, stop <-chan struct{}) error {
	return w.loop(ctx, stop, 20*time.Millisecond, func(ctx context.Context) error {
		var id, agentID, status string
		err := w.Pool.QueryRow(ctx, `
			SELECT id, assigned_agent_id, status FROM freight_requests
			WHERE status IN ('assigned', 'in_transit')
			ORDER BY random() LIMIT 1`).Scan(&id, &agentID, &status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		caller := policy.Caller{ID: agentID, Role: domain.RoleAgent}
		if domain.RequestStatus(status) == domain.RequestAssigned {
			_, err = w.Engine.MarkInTransit(ctx, caller, id)
		} else {
			_, err = w.Engine.MarkDelivered(ctx, caller, id)
		}
		return err
	})
}

// Sweeper expires stale quotes.
func Sweeper(ctx context.Context, w *World, stop <-chan struct{}) error {
	return w.loop(ctx, stop, 250*time.Millisecond, func(ctx context.Context) error {
		_, err := w.Quotes.ExpireStale(ctx, time.Now())
		return err
	})
}

// FlakyPublisher drops roughly one publish in ten.
type FlakyPublisher struct {
	Published atomic.Int64
}

func (p *FlakyPublisher) Publish(context.Context, []byte, []byte) error {
	if rand.Intn(10) == 0 {
		return errors.New("flaky publisher: broker unavailable")
	}
	p.Published.Add(1)
	return nil
}

// Relay drains the outbox through a flaky publisher.
func Relay(ctx context.Context, w *World, pub *FlakyPublisher, stop <-chan struct{}) error {
	relay := outbox.NewRelay(w.Store, pub, nil).WithBatchSize(25)
	return w.loop(ctx, stop, 50*time.Millisecond, func(ctx context.Context) error {
		_, err := relay.RelayOnce(ctx)
		return err
	})
}
