package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freightflow/domain"
)

type pgTx struct {
	pgReader
	tx pgx.Tx
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) GetRequestForUpdate(ctx context.Context, id string) (domain.FreightRequest, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM freight_requests WHERE id = $1 FOR UPDATE`, id))
	return req, mapPGError("get request for update "+id, err)
}

func (t *pgTx) GetAgentProfileForUpdate(ctx context.Context, userID string) (domain.AgentProfile, error) {
	p, err := scanProfile(t.tx.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM agent_profiles WHERE user_id = $1 FOR UPDATE`, userID))
	return p, mapPGError("get agent profile for update "+userID, err)
}

func (t *pgTx) PutUser(ctx context.Context, u domain.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("store: put user: %w", err)
	}
	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			full_name = EXCLUDED.full_name,
			phone = EXCLUDED.phone,
			company_name = EXCLUDED.company_name,
			role = EXCLUDED.role,
			verified = EXCLUDED.verified,
			password_hash = EXCLUDED.password_hash,
			updated_at = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, query,
		u.ID, u.Email, u.FullName, u.Phone, u.CompanyName, u.Role, u.Verified, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return mapPGError("put user", err)
}

func (t *pgTx) PutRequest(ctx context.Context, r domain.FreightRequest) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("store: put request: %w", err)
	}
	const query = `
		INSERT INTO freight_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			origin = EXCLUDED.origin,
			destination = EXCLUDED.destination,
			cargo = EXCLUDED.cargo,
			budget_amount = EXCLUDED.budget_amount,
			budget_currency = EXCLUDED.budget_currency,
			pickup_date = EXCLUDED.pickup_date,
			delivery_date = EXCLUDED.delivery_date,
			status = EXCLUDED.status,
			assigned_quote_id = EXCLUDED.assigned_quote_id,
			assigned_agent_id = EXCLUDED.assigned_agent_id,
			expires_at = EXCLUDED.expires_at,
			cancel_reason = EXCLUDED.cancel_reason,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			assigned_at = EXCLUDED.assigned_at,
			picked_up_at = EXCLUDED.picked_up_at,
			delivered_at = EXCLUDED.delivered_at,
			cancelled_at = EXCLUDED.cancelled_at
	`
	var (
		amount   *float64
		currency *string
	)
	if r.Budget != nil {
		amount, currency = &r.Budget.Amount, &r.Budget.Currency
	}
	_, err := t.tx.Exec(ctx, query,
		r.ID, r.OwnerID, r.Title, r.Description,
		toLocationDoc(r.Origin), toLocationDoc(r.Destination), toCargoDoc(r.Cargo),
		amount, currency, r.PickupDate, r.DeliveryDate, r.Status,
		r.AssignedQuoteID, r.AssignedAgentID, r.ExpiresAt, r.CancelReason,
		r.CreatedAt, r.UpdatedAt, r.PublishedAt, r.AssignedAt, r.PickedUpAt, r.DeliveredAt, r.CancelledAt,
	)
	return mapPGError("put request", err)
}

func (t *pgTx) PutQuote(ctx context.Context, q domain.Quote) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("store: put quote: %w", err)
	}
	const query = `
		INSERT INTO quotes (` + quoteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			price_amount = EXCLUDED.price_amount,
			price_currency = EXCLUDED.price_currency,
			message = EXCLUDED.message,
			estimated_pickup = EXCLUDED.estimated_pickup,
			estimated_delivery = EXCLUDED.estimated_delivery,
			status = EXCLUDED.status,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at,
			decided_at = EXCLUDED.decided_at
	`
	_, err := t.tx.Exec(ctx, query,
		q.ID, q.RequestID, q.AgentID, q.Price.Amount, q.Price.Currency, q.Message,
		q.EstimatedPickup, q.EstimatedDelivery, q.Status, q.ExpiresAt, q.CreatedAt, q.UpdatedAt, q.DecidedAt,
	)
	return mapPGError("put quote", err)
}

func (t *pgTx) PutAgentProfile(ctx context.Context, p domain.AgentProfile) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("store: put agent profile: %w", err)
	}
	areas := p.CoverageAreas
	if areas == nil {
		areas = []string{}
	}
	const query = `
		INSERT INTO agent_profiles (` + profileColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			review_count = EXCLUDED.review_count,
			completed_jobs = EXCLUDED.completed_jobs,
			verified = EXCLUDED.verified,
			coverage_areas = EXCLUDED.coverage_areas,
			bio = EXCLUDED.bio,
			updated_at = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, query,
		p.UserID, p.Rating, p.ReviewCount, p.CompletedJobs, p.Verified, areas, p.Bio, p.UpdatedAt)
	return mapPGError("put agent profile", err)
}

// PutReview inserts only; reviews are immutable once written.
func (t *pgTx) PutReview(ctx context.Context, r domain.Review) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("store: put review: %w", err)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO reviews (`+reviewColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.RequestID, r.ReviewerID, r.RevieweeID, r.Rating, r.Comment, r.CreatedAt)
	return mapPGError("put review", err)
}

func (t *pgTx) AppendEvent(ctx context.Context, e domain.Event) error {
	if e.ID == "" || e.Topic == "" || e.AggregateID == "" {
		return fmt.Errorf("store: append event: %w: id, topic and aggregate required", domain.ErrValidation)
	}
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO outbox_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Topic, e.AggregateID, e.ActorID, payload, e.CreatedAt, e.PublishedAt, e.Attempts)
	return mapPGError("append event", err)
}
