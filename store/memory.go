package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"freightflow/domain"
)

type memData struct {
	users    *table[domain.User]
	requests *table[domain.FreightRequest]
	quotes   *table[domain.Quote]
	profiles *table[domain.AgentProfile]
	reviews  *table[domain.Review]
	events   *table[domain.Event]
}

func newMemData() *memData {
	return &memData{
		users:    newTable[domain.User](),
		requests: newTable[domain.FreightRequest](),
		quotes:   newTable[domain.Quote](),
		profiles: newTable[domain.AgentProfile](),
		reviews:  newTable[domain.Review](),
		events:   newTable[domain.Event](),
	}
}

// Memory is an in-process Store. Committed data sits behind one RWMutex that
// is only held for the copy in or out; per-entity serialization comes from
// keyed locks so transactions on unrelated requests never wait on each other.
type Memory struct {
	memView

	mu    sync.RWMutex
	data  *memData
	locks *keyedLocks
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	m := &Memory{
		data:  newMemData(),
		locks: newKeyedLocks(),
	}
	m.memView = memView{m: m}
	return m
}

// memView reads committed data, overlaid with a transaction's staged writes
// when staged is set.
type memView struct {
	m      *Memory
	staged *memData
}

func (v memView) users() (*table[domain.User], *table[domain.User]) {
	if v.staged == nil {
		return v.m.data.users, nil
	}
	return v.m.data.users, v.staged.users
}

func (v memView) requests() (*table[domain.FreightRequest], *table[domain.FreightRequest]) {
	if v.staged == nil {
		return v.m.data.requests, nil
	}
	return v.m.data.requests, v.staged.requests
}

func (v memView) quotes() (*table[domain.Quote], *table[domain.Quote]) {
	if v.staged == nil {
		return v.m.data.quotes, nil
	}
	return v.m.data.quotes, v.staged.quotes
}

func (v memView) profiles() (*table[domain.AgentProfile], *table[domain.AgentProfile]) {
	if v.staged == nil {
		return v.m.data.profiles, nil
	}
	return v.m.data.profiles, v.staged.profiles
}

func (v memView) reviews() (*table[domain.Review], *table[domain.Review]) {
	if v.staged == nil {
		return v.m.data.reviews, nil
	}
	return v.m.data.reviews, v.staged.reviews
}

func (v memView) events() (*table[domain.Event], *table[domain.Event]) {
	if v.staged == nil {
		return v.m.data.events, nil
	}
	return v.m.data.events, v.staged.events
}

func (v memView) GetUser(ctx context.Context, id string) (domain.User, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	base, staged := v.users()
	u, ok := lookup(base, staged, id)
	if !ok {
		return domain.User{}, fmt.Errorf("store: user %s: %w", id, domain.ErrNotFound)
	}
	return cloneUser(u), nil
}

func (v memView) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	var (
		found domain.User
		ok    bool
	)
	base, staged := v.users()
	overlay(base, staged, func(u domain.User) {
		if !ok && strings.EqualFold(u.Email, email) {
			found, ok = u, true
		}
	})
	if !ok {
		return domain.User{}, fmt.Errorf("store: user with email %s: %w", email, domain.ErrNotFound)
	}
	return cloneUser(found), nil
}

func (v memView) GetRequest(ctx context.Context, id string) (domain.FreightRequest, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	base, staged := v.requests()
	r, ok := lookup(base, staged, id)
	if !ok {
		return domain.FreightRequest{}, fmt.Errorf("store: freight request %s: %w", id, domain.ErrNotFound)
	}
	return cloneRequest(r), nil
}

func (v memView) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	base, staged := v.quotes()
	q, ok := lookup(base, staged, id)
	if !ok {
		return domain.Quote{}, fmt.Errorf("store: quote %s: %w", id, domain.ErrNotFound)
	}
	return cloneQuote(q), nil
}

func (v memView) GetAgentProfile(ctx context.Context, userID string) (domain.AgentProfile, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	base, staged := v.profiles()
	p, ok := lookup(base, staged, userID)
	if !ok {
		return domain.AgentProfile{}, fmt.Errorf("store: agent profile %s: %w", userID, domain.ErrNotFound)
	}
	return cloneProfile(p), nil
}

func (v memView) GetReview(ctx context.Context, id string) (domain.Review, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	base, staged := v.reviews()
	r, ok := lookup(base, staged, id)
	if !ok {
		return domain.Review{}, fmt.Errorf("store: review %s: %w", id, domain.ErrNotFound)
	}
	return cloneReview(r), nil
}

func (v memView) RequestsByOwner(ctx context.Context, ownerID string) ([]domain.FreightRequest, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	out := []domain.FreightRequest{}
	base, staged := v.requests()
	overlay(base, staged, func(r domain.FreightRequest) {
		if r.OwnerID == ownerID {
			out = append(out, cloneRequest(r))
		}
	})
	return out, nil
}

func (v memView) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.FreightRequest, int, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	matched := []domain.FreightRequest{}
	base, staged := v.requests()
	overlay(base, staged, func(r domain.FreightRequest) {
		if matchRequest(r, filter) {
			matched = append(matched, r)
		}
	})
	page := domain.Paginate(matched, filter.Page)
	for i := range page.Data {
		page.Data[i] = cloneRequest(page.Data[i])
	}
	return page.Data, page.Pagination.Total, nil
}

func matchRequest(r domain.FreightRequest, f RequestFilter) bool {
	if f.OwnerID != "" && r.OwnerID != f.OwnerID {
		return false
	}
	if f.AssignedAgentID != "" && (r.AssignedAgentID == nil || *r.AssignedAgentID != f.AssignedAgentID) {
		return false
	}
	if f.Status != "" && effectiveStatus(r, f.Now) != f.Status {
		return false
	}
	if f.City != "" && !strings.EqualFold(r.Origin.City, f.City) && !strings.EqualFold(r.Destination.City, f.City) {
		return false
	}
	if f.CargoType != "" && !strings.EqualFold(r.Cargo.Type, f.CargoType) {
		return false
	}
	return true
}

func (v memView) QuotesByRequest(ctx context.Context, requestID string) ([]domain.Quote, error) {
	return v.filterQuotes(func(q domain.Quote) bool { return q.RequestID == requestID }), nil
}

func (v memView) QuotesByAgent(ctx context.Context, agentID string) ([]domain.Quote, error) {
	return v.filterQuotes(func(q domain.Quote) bool { return q.AgentID == agentID }), nil
}

func (v memView) StaleQuotes(ctx context.Context, now time.Time) ([]domain.Quote, error) {
	return v.filterQuotes(func(q domain.Quote) bool { return q.StaleAt(now) }), nil
}

func (v memView) filterQuotes(keep func(domain.Quote) bool) []domain.Quote {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	out := []domain.Quote{}
	base, staged := v.quotes()
	overlay(base, staged, func(q domain.Quote) {
		if keep(q) {
			out = append(out, cloneQuote(q))
		}
	})
	return out
}

func (v memView) ListAgentProfiles(ctx context.Context, filter AgentFilter) ([]domain.AgentProfile, int, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	matched := []domain.AgentProfile{}
	base, staged := v.profiles()
	overlay(base, staged, func(p domain.AgentProfile) {
		if filter.VerifiedOnly && !p.Verified {
			return
		}
		if filter.CoverageArea != "" && !slices.ContainsFunc(p.CoverageAreas, func(a string) bool {
			return strings.EqualFold(a, filter.CoverageArea)
		}) {
			return
		}
		matched = append(matched, p)
	})
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Rating > matched[j].Rating })
	page := domain.Paginate(matched, filter.Page)
	for i := range page.Data {
		page.Data[i] = cloneProfile(page.Data[i])
	}
	return page.Data, page.Pagination.Total, nil
}

func (v memView) ReviewsByRequest(ctx context.Context, requestID string) ([]domain.Review, error) {
	return v.filterReviews(func(r domain.Review) bool { return r.RequestID == requestID }), nil
}

func (v memView) ReviewsByReviewee(ctx context.Context, userID string) ([]domain.Review, error) {
	return v.filterReviews(func(r domain.Review) bool { return r.RevieweeID == userID }), nil
}

func (v memView) filterReviews(keep func(domain.Review) bool) []domain.Review {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	out := []domain.Review{}
	base, staged := v.reviews()
	overlay(base, staged, func(r domain.Review) {
		if keep(r) {
			out = append(out, cloneReview(r))
		}
	})
	return out
}

func (v memView) EventsByAggregate(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	v.m.mu.RLock()
	defer v.m.mu.RUnlock()
	out := []domain.Event{}
	base, staged := v.events()
	overlay(base, staged, func(e domain.Event) {
		if e.AggregateID == aggregateID {
			out = append(out, cloneEvent(e))
		}
	})
	return out, nil
}

// InTx runs fn with a transaction whose writes become visible to others only
// when fn returns nil. Locks taken through the ForUpdate getters are released
// when InTx returns, including on panic.
func (m *Memory) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{memView: memView{m: m, staged: newMemData()}}
	defer tx.finish()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) PendingEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Event
	for _, id := range m.data.events.order {
		if e := m.data.events.rows[id]; e.PublishedAt == nil {
			out = append(out, cloneEvent(e))
		}
	}
	// Fewest attempts first so events that keep failing do not starve newer ones.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attempts < out[j].Attempts })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.data.events.get(id)
		if !ok {
			continue
		}
		e.PublishedAt = &at
		e.Attempts++
		m.data.events.rows[id] = e
	}
	return nil
}

func (m *Memory) MarkEventsFailed(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		e, ok := m.data.events.get(id)
		if !ok {
			continue
		}
		e.Attempts++
		m.data.events.rows[id] = e
	}
	return nil
}
