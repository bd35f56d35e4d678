package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"freightflow/domain"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores entities in the schema created by db.Migrate.
type Postgres struct {
	pgReader
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pgReader: pgReader{q: pool}, pool: pool}
}

func (p *Postgres) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx}, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPGError("commit", err)
	}
	return nil
}

func (p *Postgres) PendingEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM outbox_events WHERE published_at IS NULL ORDER BY attempts, seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: pending events: %w", err)
	}
	return collect(rows, scanEvent)
}

func (p *Postgres) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx,
		`UPDATE outbox_events SET published_at = $2, attempts = attempts + 1 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return fmt.Errorf("store: mark events published: %w", err)
	}
	return nil
}

func (p *Postgres) MarkEventsFailed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.pool.Exec(ctx, `UPDATE outbox_events SET attempts = attempts + 1 WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("store: mark events failed: %w", err)
	}
	return nil
}

type pgReader struct {
	q querier
}

const (
	userColumns = `id, email, full_name, phone, company_name, role, verified, password_hash, created_at, updated_at`

	requestColumns = `id, owner_id, title, description, origin, destination, cargo, budget_amount, budget_currency,
		pickup_date, delivery_date, status, assigned_quote_id, assigned_agent_id, expires_at, cancel_reason,
		created_at, updated_at, published_at, assigned_at, picked_up_at, delivered_at, cancelled_at`

	quoteColumns = `id, request_id, agent_id, price_amount, price_currency, message, estimated_pickup,
		estimated_delivery, status, expires_at, created_at, updated_at, decided_at`

	profileColumns = `user_id, rating, review_count, completed_jobs, verified, coverage_areas, bio, updated_at`

	reviewColumns = `id, request_id, reviewer_id, reviewee_id, rating, comment, created_at`

	eventColumns = `id, topic, aggregate_id, actor_id, payload, created_at, published_at, attempts`
)

func (r pgReader) GetUser(ctx context.Context, id string) (domain.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, mapPGError("get user "+id, err)
}

func (r pgReader) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
	return u, mapPGError("get user by email", err)
}

func (r pgReader) GetRequest(ctx context.Context, id string) (domain.FreightRequest, error) {
	req, err := scanRequest(r.q.QueryRow(ctx, `SELECT `+requestColumns+` FROM freight_requests WHERE id = $1`, id))
	return req, mapPGError("get request "+id, err)
}

func (r pgReader) GetQuote(ctx context.Context, id string) (domain.Quote, error) {
	q, err := scanQuote(r.q.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id))
	return q, mapPGError("get quote "+id, err)
}

func (r pgReader) GetAgentProfile(ctx context.Context, userID string) (domain.AgentProfile, error) {
	p, err := scanProfile(r.q.QueryRow(ctx, `SELECT `+profileColumns+` FROM agent_profiles WHERE user_id = $1`, userID))
	return p, mapPGError("get agent profile "+userID, err)
}

func (r pgReader) GetReview(ctx context.Context, id string) (domain.Review, error) {
	rv, err := scanReview(r.q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = $1`, id))
	return rv, mapPGError("get review "+id, err)
}

func (r pgReader) RequestsByOwner(ctx context.Context, ownerID string) ([]domain.FreightRequest, error) {
	rows, err := r.q.Query(ctx, `SELECT `+requestColumns+` FROM freight_requests WHERE owner_id = $1 ORDER BY seq`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("store: requests by owner: %w", err)
	}
	return collect(rows, scanRequest)
}

func (r pgReader) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.FreightRequest, int, error) {
	where := []string{"1=1"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.OwnerID != "" {
		where = append(where, "owner_id = "+arg(filter.OwnerID))
	}
	if filter.AssignedAgentID != "" {
		where = append(where, "assigned_agent_id = "+arg(filter.AssignedAgentID))
	}
	if filter.Status != "" {
		where = append(where, statusClause(filter.Status, filter.Now, arg))
	}
	if filter.City != "" {
		n := arg(filter.City)
		where = append(where, fmt.Sprintf("(lower(origin->>'city') = lower(%s) OR lower(destination->>'city') = lower(%s))", n, n))
	}
	if filter.CargoType != "" {
		where = append(where, "lower(cargo->>'type') = lower("+arg(filter.CargoType)+")")
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM freight_requests`+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count requests: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM freight_requests%s ORDER BY seq LIMIT %d OFFSET %d`,
		requestColumns, whereClause, page.Limit, page.Offset())
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list requests: %w", err)
	}
	list, err := collect(rows, scanRequest)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// statusClause matches the effective status when now is set.
func statusClause(status domain.RequestStatus, now time.Time, arg func(any) string) string {
	if now.IsZero() {
		return "status = " + arg(status)
	}
	switch status {
	case domain.RequestDraft, domain.RequestActive:
		return fmt.Sprintf("(status = %s AND (expires_at IS NULL OR expires_at > %s))", arg(status), arg(now))
	case domain.RequestCancelled:
		return fmt.Sprintf("(status = 'cancelled' OR (status IN ('draft', 'active') AND expires_at <= %s))", arg(now))
	default:
		return "status = " + arg(status)
	}
}

func (r pgReader) QuotesByRequest(ctx context.Context, requestID string) ([]domain.Quote, error) {
	rows, err := r.q.Query(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE request_id = $1 ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("store: quotes by request: %w", err)
	}
	return collect(rows, scanQuote)
}

func (r pgReader) QuotesByAgent(ctx context.Context, agentID string) ([]domain.Quote, error) {
	rows, err := r.q.Query(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE agent_id = $1 ORDER BY seq`, agentID)
	if err != nil {
		return nil, fmt.Errorf("store: quotes by agent: %w", err)
	}
	return collect(rows, scanQuote)
}

func (r pgReader) StaleQuotes(ctx context.Context, now time.Time) ([]domain.Quote, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+quoteColumns+` FROM quotes WHERE status = 'pending' AND expires_at < $1 ORDER BY seq`, now)
	if err != nil {
		return nil, fmt.Errorf("store: stale quotes: %w", err)
	}
	return collect(rows, scanQuote)
}

func (r pgReader) ListAgentProfiles(ctx context.Context, filter AgentFilter) ([]domain.AgentProfile, int, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.VerifiedOnly {
		where = append(where, "verified")
	}
	if filter.CoverageArea != "" {
		args = append(args, filter.CoverageArea)
		where = append(where, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(coverage_areas) AS area WHERE lower(area) = lower($%d))", len(args)))
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.q.QueryRow(ctx, `SELECT COUNT(*) FROM agent_profiles`+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count agent profiles: %w", err)
	}

	page := filter.Page.Normalize()
	query := fmt.Sprintf(`SELECT %s FROM agent_profiles%s ORDER BY rating DESC, seq LIMIT %d OFFSET %d`,
		profileColumns, whereClause, page.Limit, page.Offset())
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list agent profiles: %w", err)
	}
	list, err := collect(rows, scanProfile)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r pgReader) ReviewsByRequest(ctx context.Context, requestID string) ([]domain.Review, error) {
	rows, err := r.q.Query(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE request_id = $1 ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("store: reviews by request: %w", err)
	}
	return collect(rows, scanReview)
}

func (r pgReader) ReviewsByReviewee(ctx context.Context, userID string) ([]domain.Review, error) {
	rows, err := r.q.Query(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE reviewee_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: reviews by reviewee: %w", err)
	}
	return collect(rows, scanReview)
}

func (r pgReader) EventsByAggregate(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	rows, err := r.q.Query(ctx, `SELECT `+eventColumns+` FROM outbox_events WHERE aggregate_id = $1 ORDER BY seq`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("store: events by aggregate: %w", err)
	}
	return collect(rows, scanEvent)
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows: %w", err)
	}
	return out, nil
}

// mapPGError translates driver errors into domain kinds. Unique violations on
// the pending-quote index are duplicate quotes; every other unique violation
// is a conflict.
func mapPGError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("store: %s: %w", op, domain.ErrNotFound)
	}
	if errors.Is(err, pgx.ErrTxClosed) {
		return ErrTxDone
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == "quotes_one_pending" {
				return fmt.Errorf("store: %s: %w", op, domain.ErrDuplicateQuote)
			}
			return fmt.Errorf("store: %s: %w: %s", op, domain.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("store: %s: %w: %s", op, domain.ErrNotFound, pgErr.ConstraintName)
		case "23514", "22P02":
			return fmt.Errorf("store: %s: %w: %s", op, domain.ErrValidation, pgErr.Message)
		}
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
