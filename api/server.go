// Package api exposes the marketplace over HTTP. Every procedure is a
// POST /rpc/<group>.<name> call carrying a JSON body; responses are wrapped in
// {"result": ...} or {"error": {"code", "message"}}.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"freightflow/agent"
	"freightflow/auth"
	"freightflow/freight"
	"freightflow/metrics"
	"freightflow/policy"
	"freightflow/quote"
	"freightflow/review"
)

const maxBodyBytes = 1 << 20

// Services bundles the components the procedures dispatch to.
type Services struct {
	Auth     *auth.Service
	Requests *freight.Engine
	Quotes   *quote.Service
	Agents   *agent.Service
	Reviews  *review.Service
}

type call func(ctx context.Context, caller policy.Caller, body []byte) (any, error)

type procedure struct {
	// public procedures run without a bearer token.
	public bool
	// mutating procedures honour Idempotency-Key.
	mutating bool
	call     call
}

type Server struct {
	services    Services
	logger      *slog.Logger
	idempotency IdempotencyStore
	procedures  map[string]procedure
}

func NewServer(services Services, logger *slog.Logger) *Server {
	s := &Server{services: services, logger: logger}
	s.procedures = s.registerProcedures()
	return s
}

// WithIdempotency enables Idempotency-Key handling for mutating procedures.
func (s *Server) WithIdempotency(store IdempotencyStore) *Server {
	s.idempotency = store
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(s.recoverMiddleware)
	r.Use(s.observabilityMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/rpc/{procedure}", s.handleRPC)

	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")
	proc, ok := s.procedures[name]
	if !ok {
		s.writeError(w, r, errUnknownProcedure)
		return
	}

	caller, err := s.authenticate(r)
	if err != nil && !proc.public {
		s.writeError(w, r, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, errBadBody)
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if proc.mutating && key != "" && s.idempotency != nil {
		s.serveIdempotent(w, r, name, key, caller, proc, body)
		return
	}

	status, payload := s.dispatch(r, proc, caller, body)
	writeRaw(w, status, payload)
}

// dispatch runs the procedure and renders the envelope.
func (s *Server) dispatch(r *http.Request, proc procedure, caller policy.Caller, body []byte) (int, []byte) {
	result, err := proc.call(r.Context(), caller, body)
	if err != nil {
		return s.renderError(r, err)
	}
	payload, err := json.Marshal(struct {
		Result any `json:"result"`
	}{Result: result})
	if err != nil {
		return s.renderError(r, err)
	}
	return http.StatusOK, payload
}

// authenticate resolves the bearer token into a caller. The role carried by
// the token is authoritative.
func (s *Server) authenticate(r *http.Request) (policy.Caller, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return policy.Caller{}, errUnauthenticated
	}
	userID, role, err := s.services.Auth.VerifyToken(strings.TrimSpace(token))
	if err != nil {
		return policy.Caller{}, err
	}
	return policy.Caller{ID: userID, Role: role}, nil
}

func (s *Server) renderError(r *http.Request, err error) (int, []byte) {
	code, status, message := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("rpc failed", "error", err, "request_id", chimiddleware.GetReqID(r.Context()))
	}
	payload, _ := json.Marshal(errorResponse{Error: errorBody{Code: code, Message: message}})
	return status, payload
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, payload := s.renderError(r, err)
	writeRaw(w, status, payload)
}

func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (s *Server) serveIdempotent(w http.ResponseWriter, r *http.Request, name, key string, caller policy.Caller, proc procedure, body []byte) {
	ctx := r.Context()
	fp := fingerprint(body)
	scoped := idempotencyScope(caller.ID, name, key, fp)

	replay, found, err := s.idempotency.Lookup(ctx, scoped)
	switch {
	case errors.Is(err, errIdempotencyInUse):
		s.writeError(w, r, err)
		return
	case err != nil:
		s.logger.Warn("idempotency lookup failed, serving without it", "error", err)
		status, payload := s.dispatch(r, proc, caller, body)
		writeRaw(w, status, payload)
		return
	case found && replay.Fingerprint != "" && replay.Fingerprint != fp:
		s.writeError(w, r, errIdempotencyReuse)
		return
	case found:
		metrics.IdempotentReplays.Inc()
		w.Header().Set("X-Idempotency-Replay", "true")
		writeRaw(w, replay.Status, replay.Body)
		return
	}

	locked, err := s.idempotency.Lock(ctx, scoped)
	if err != nil {
		s.logger.Warn("idempotency lock failed, serving without it", "error", err)
		status, payload := s.dispatch(r, proc, caller, body)
		writeRaw(w, status, payload)
		return
	}
	if !locked {
		s.writeError(w, r, errIdempotencyInUse)
		return
	}

	status, payload := s.dispatch(r, proc, caller, body)
	// Server faults are not remembered so the client may retry.
	if status >= http.StatusInternalServerError {
		err = s.idempotency.Release(context.WithoutCancel(ctx), scoped)
	} else {
		err = s.idempotency.Complete(context.WithoutCancel(ctx), scoped, Replay{Status: status, Body: payload, Fingerprint: fp})
	}
	if err != nil {
		s.logger.Warn("idempotency store update failed", "error", err, "key", scoped)
	}
	writeRaw(w, status, payload)
}
