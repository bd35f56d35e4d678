package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"freightflow/agent"
	"freightflow/auth"
	"freightflow/domain"
	"freightflow/freight"
	"freightflow/outbox"
	"freightflow/policy"
	"freightflow/quote"
	"freightflow/review"
	"freightflow/store"
)

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  *errorBody      `json:"error"`
}

type testServer struct {
	handler http.Handler
	st      *store.Memory
}

func newTestServer(t *testing.T, idem IdempotencyStore) *testServer {
	t.Helper()
	st := store.NewMemory()
	pol := policy.New()
	w := outbox.NewWriter()
	agents := agent.NewService(st, pol, w)
	engine := freight.NewEngine(st, pol, w, agents)
	authSvc := auth.NewService(auth.NewRepository(st, w), "test-secret")
	srv := NewServer(Services{
		Auth:     authSvc,
		Requests: engine,
		Quotes:   quote.NewService(st, engine, pol),
		Agents:   agents,
		Reviews:  review.NewService(st, engine, pol, agents),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if idem != nil {
		srv.WithIdempotency(idem)
	}
	return &testServer{handler: srv.Handler(), st: st}
}

func (ts *testServer) rpc(t *testing.T, name, token string, body any, header http.Header) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc/"+name, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s: decode response %q: %v", name, rec.Body.String(), err)
	}
	return rec, env
}

func (ts *testServer) ok(t *testing.T, name, token string, body, out any) {
	t.Helper()
	rec, env := ts.rpc(t, name, token, body, nil)
	if rec.Code != http.StatusOK || env.Error != nil {
		t.Fatalf("%s: expected 200, got %d %+v", name, rec.Code, env.Error)
	}
	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			t.Fatalf("%s: decode result: %v", name, err)
		}
	}
}

func (ts *testServer) fails(t *testing.T, name, token string, body any, status int, code string) {
	t.Helper()
	rec, env := ts.rpc(t, name, token, body, nil)
	if rec.Code != status || env.Error == nil || env.Error.Code != code {
		t.Fatalf("%s: expected %d %s, got %d %+v", name, status, code, rec.Code, env.Error)
	}
}

// signup registers and logs in, returning the token and user id.
func (ts *testServer) signup(t *testing.T, email string, role domain.Role) (string, string) {
	t.Helper()
	ts.ok(t, "auth.register", "", map[string]any{
		"email": email, "password": "correct-horse", "fullName": email, "role": role,
	}, nil)
	var login loginResponse
	ts.ok(t, "auth.login", "", map[string]any{"email": email, "password": "correct-horse"}, &login)
	return login.Token, login.User.ID
}

func requestBody() map[string]any {
	return map[string]any{
		"title":       "Rice sacks",
		"description": "Forty sacks, palletised",
		"origin":      map[string]any{"address": "12 Jalan Klang", "city": "Kuala Lumpur", "country": "MY"},
		"destination": map[string]any{"address": "4 Jalan Tebrau", "city": "Johor Bahru", "country": "MY"},
		"cargo":       map[string]any{"type": "bulk", "weightKg": 1000, "quantity": 40},
		"publish":     true,
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRPC_AcceptScenario(t *testing.T) {
	ts := newTestServer(t, nil)
	owner, ownerID := ts.signup(t, "u@example.com", domain.RoleIndividual)
	a1, a1ID := ts.signup(t, "a1@example.com", domain.RoleAgent)
	a2, _ := ts.signup(t, "a2@example.com", domain.RoleAgent)

	var req requestResponse
	ts.ok(t, "freightRequests.create", owner, requestBody(), &req)
	if req.Status != string(domain.RequestActive) || req.OwnerID != ownerID {
		t.Fatalf("unexpected request %+v", req)
	}

	var q1, q2 quoteResponse
	ts.ok(t, "quotes.submit", a1, map[string]any{"requestId": req.ID, "price": map[string]any{"amount": 100, "currency": "MYR"}}, &q1)
	ts.ok(t, "quotes.submit", a2, map[string]any{"requestId": req.ID, "price": map[string]any{"amount": 120, "currency": "MYR"}}, &q2)
	ts.fails(t, "quotes.submit", a1, map[string]any{"requestId": req.ID, "price": map[string]any{"amount": 90, "currency": "MYR"}},
		http.StatusConflict, CodeDuplicateQuote)

	ts.fails(t, "quotes.accept", a2, map[string]any{"id": q1.ID}, http.StatusForbidden, CodeForbidden)

	var accepted acceptResponse
	ts.ok(t, "quotes.accept", owner, map[string]any{"id": q1.ID}, &accepted)
	if accepted.Request.Status != string(domain.RequestAssigned) || accepted.Quote.Status != string(domain.QuoteAccepted) {
		t.Fatalf("unexpected accept result %+v", accepted)
	}
	if accepted.Request.AssignedAgentID == nil || *accepted.Request.AssignedAgentID != a1ID {
		t.Fatalf("expected assignment to %s, got %v", a1ID, accepted.Request.AssignedAgentID)
	}

	var sibling quoteResponse
	ts.ok(t, "quotes.get", a2, map[string]any{"id": q2.ID}, &sibling)
	if sibling.Status != string(domain.QuoteRejected) {
		t.Fatalf("sibling should be rejected, got %s", sibling.Status)
	}

	ts.fails(t, "quotes.reject", a2, map[string]any{"id": q1.ID}, http.StatusForbidden, CodeForbidden)
	ts.fails(t, "quotes.submit", owner, map[string]any{"requestId": req.ID, "price": map[string]any{"amount": 1, "currency": "MYR"}},
		http.StatusConflict, CodeInvalidTransition)

	ts.ok(t, "freightRequests.markInTransit", a1, map[string]any{"id": req.ID}, nil)
	ts.ok(t, "freightRequests.markDelivered", owner, map[string]any{"id": req.ID}, nil)
	ts.ok(t, "reviews.create", owner, map[string]any{"requestId": req.ID, "rating": 5}, nil)

	var profile agentResponse
	ts.ok(t, "agents.get", "", map[string]any{"id": a1ID}, &profile)
	if profile.CompletedJobs != 1 || profile.ReviewCount != 1 || profile.Rating != 5 {
		t.Fatalf("unexpected profile %+v", profile)
	}

	var timeline []eventResponse
	ts.ok(t, "freightRequests.timeline", owner, map[string]any{"id": req.ID}, &timeline)
	if len(timeline) == 0 || timeline[0].Type != domain.TopicRequestCreated {
		t.Fatalf("unexpected timeline %+v", timeline)
	}

	var mine pageResponse[requestResponse]
	ts.ok(t, "freightRequests.mine", a1, map[string]any{"status": "delivered"}, &mine)
	if mine.Pagination.Total != 1 || mine.Data[0].ID != req.ID {
		t.Fatalf("unexpected mine page %+v", mine)
	}
}

func TestRPC_ErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)
	shipper, _ := ts.signup(t, "s@example.com", domain.RoleBusiness)
	agentToken, _ := ts.signup(t, "ag@example.com", domain.RoleAgent)

	ts.fails(t, "freightRequests.create", "", requestBody(), http.StatusUnauthorized, CodeUnauthenticated)
	ts.fails(t, "freightRequests.create", "not-a-jwt", requestBody(), http.StatusUnauthorized, CodeUnauthenticated)
	ts.fails(t, "freightRequests.create", agentToken, requestBody(), http.StatusForbidden, CodeForbidden)
	ts.fails(t, "freightRequests.get", shipper, map[string]any{"id": "missing"}, http.StatusNotFound, CodeNotFound)
	ts.fails(t, "nope.nothing", shipper, nil, http.StatusNotFound, CodeNotFound)
	ts.fails(t, "auth.login", "", map[string]any{"email": "s@example.com", "password": "wrong-password"}, http.StatusUnauthorized, CodeUnauthenticated)
	ts.fails(t, "auth.register", "", map[string]any{"email": "S@example.com", "password": "correct-horse", "fullName": "Dup"}, http.StatusConflict, CodeConflict)
	ts.fails(t, "auth.register", "", map[string]any{"email": "x@example.com", "password": "short", "fullName": "X"}, http.StatusBadRequest, CodeValidation)

	draft := requestBody()
	draft["publish"] = false
	draft["description"] = ""
	var req requestResponse
	ts.ok(t, "freightRequests.create", shipper, draft, &req)
	ts.fails(t, "freightRequests.publish", shipper, map[string]any{"id": req.ID}, http.StatusBadRequest, CodeValidation)

	httpReq := httptest.NewRequest(http.MethodPost, "/rpc/freightRequests.get", bytes.NewBufferString("{not json"))
	httpReq.Header.Set("Authorization", "Bearer "+shipper)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httpReq)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("x: %w", domain.ErrValidation), CodeValidation, http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNotFound), CodeNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", domain.ErrForbidden), CodeForbidden, http.StatusForbidden},
		{fmt.Errorf("x: %w", domain.ErrInvalidTransition), CodeInvalidTransition, http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrDuplicateQuote), CodeDuplicateQuote, http.StatusConflict},
		{fmt.Errorf("x: %w", domain.ErrConflict), CodeConflict, http.StatusConflict},
		{auth.ErrInvalidToken, CodeUnauthenticated, http.StatusUnauthorized},
		{errors.New("db exploded"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, status, msg := classify(tc.err)
		if code != tc.code || status != tc.status {
			t.Fatalf("%v: expected %s/%d, got %s/%d", tc.err, tc.code, tc.status, code, status)
		}
		if tc.code == CodeInternal && msg != "internal error" {
			t.Fatalf("internal errors must not leak details, got %q", msg)
		}
	}
}

type fakeIdempotency struct {
	mu     sync.Mutex
	done   map[string]Replay
	locked map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{done: map[string]Replay{}, locked: map[string]bool{}}
}

func (f *fakeIdempotency) Lookup(_ context.Context, key string) (Replay, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.done[key]; ok {
		return r, true, nil
	}
	if f.locked[key] {
		return Replay{}, false, errIdempotencyInUse
	}
	return Replay{}, false, nil
}

func (f *fakeIdempotency) Lock(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked[key] {
		return false, nil
	}
	f.locked[key] = true
	return true, nil
}

func (f *fakeIdempotency) Complete(_ context.Context, key string, r Replay) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, key)
	f.done[key] = r
	return nil
}

func (f *fakeIdempotency) Release(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locked, key)
	return nil
}

func TestRPC_IdempotencyReplay(t *testing.T) {
	ts := newTestServer(t, newFakeIdempotency())
	owner, ownerID := ts.signup(t, "idem@example.com", domain.RoleBusiness)

	header := http.Header{"Idempotency-Key": []string{"create-1"}}
	first, env1 := ts.rpc(t, "freightRequests.create", owner, requestBody(), header)
	second, env2 := ts.rpc(t, "freightRequests.create", owner, requestBody(), header)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both 200, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Fatal("second call should be a replay")
	}
	if !bytes.Equal(env1.Result, env2.Result) {
		t.Fatalf("replay body differs:\n%s\n%s", env1.Result, env2.Result)
	}

	owned, err := ts.st.RequestsByOwner(context.Background(), ownerID)
	if err != nil || len(owned) != 1 {
		t.Fatalf("expected exactly one stored request, got %d (%v)", len(owned), err)
	}

	// A different key is a different operation.
	third, _ := ts.rpc(t, "freightRequests.create", owner, requestBody(), http.Header{"Idempotency-Key": []string{"create-2"}})
	if third.Code != http.StatusOK || third.Header().Get("X-Idempotency-Replay") != "" {
		t.Fatalf("new key should execute, got %d", third.Code)
	}
}

func TestRPC_IdempotencyAnonymousCallersDoNotShareKeys(t *testing.T) {
	ts := newTestServer(t, newFakeIdempotency())
	header := http.Header{"Idempotency-Key": []string{"1"}}
	register := func(email, name string) (*httptest.ResponseRecorder, envelope) {
		return ts.rpc(t, "auth.register", "", map[string]any{
			"email": email, "password": "correct-horse", "fullName": name, "role": domain.RoleIndividual,
		}, header)
	}

	first, _ := register("alice@example.com", "Alice")
	second, env := register("bob@example.com", "Bob")
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected both 200, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("X-Idempotency-Replay") != "" {
		t.Fatal("a different registrant must not receive a replay")
	}
	var user userResponse
	if err := json.Unmarshal(env.Result, &user); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if user.Email != "bob@example.com" {
		t.Fatalf("expected bob's own account, got %q", user.Email)
	}
	if _, err := ts.st.GetUserByEmail(context.Background(), "bob@example.com"); err != nil {
		t.Fatalf("bob should be registered: %v", err)
	}

	// The same anonymous request with the same key is still replayed.
	again, _ := register("bob@example.com", "Bob")
	if again.Code != http.StatusOK || again.Header().Get("X-Idempotency-Replay") != "true" {
		t.Fatalf("identical retry should replay, got %d", again.Code)
	}
}

func TestRPC_IdempotencyKeyReusedWithDifferentBody(t *testing.T) {
	ts := newTestServer(t, newFakeIdempotency())
	owner, _ := ts.signup(t, "reuse@example.com", domain.RoleBusiness)
	header := http.Header{"Idempotency-Key": []string{"create-1"}}

	first, _ := ts.rpc(t, "freightRequests.create", owner, requestBody(), header)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.Code)
	}
	other := requestBody()
	other["title"] = "Different load"
	second, env := ts.rpc(t, "freightRequests.create", owner, other, header)
	if second.Code != http.StatusConflict || env.Error == nil || env.Error.Code != CodeConflict {
		t.Fatalf("expected 409 CONFLICT, got %d %+v", second.Code, env.Error)
	}
}
