package store

import (
	"github.com/jackc/pgx/v5"

	"freightflow/domain"
)

// locationDoc and cargoDoc are the jsonb shapes of request locations and cargo.
type locationDoc struct {
	Address    string   `json:"address"`
	City       string   `json:"city"`
	State      string   `json:"state,omitempty"`
	Country    string   `json:"country,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

type dimensionsDoc struct {
	LengthCm float64 `json:"lengthCm"`
	WidthCm  float64 `json:"widthCm"`
	HeightCm float64 `json:"heightCm"`
}

type cargoDoc struct {
	Type       string         `json:"type"`
	WeightKg   float64        `json:"weightKg"`
	Dimensions *dimensionsDoc `json:"dimensions,omitempty"`
	Quantity   int            `json:"quantity"`
}

func toLocationDoc(l domain.Location) locationDoc {
	return locationDoc(l)
}

func (d locationDoc) toDomain() domain.Location {
	return domain.Location(d)
}

func toCargoDoc(c domain.Cargo) cargoDoc {
	doc := cargoDoc{Type: c.Type, WeightKg: c.WeightKg, Quantity: c.Quantity}
	if c.Dimensions != nil {
		d := dimensionsDoc(*c.Dimensions)
		doc.Dimensions = &d
	}
	return doc
}

func (d cargoDoc) toDomain() domain.Cargo {
	c := domain.Cargo{Type: d.Type, WeightKg: d.WeightKg, Quantity: d.Quantity}
	if d.Dimensions != nil {
		dims := domain.Dimensions(*d.Dimensions)
		c.Dimensions = &dims
	}
	return c
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.Phone, &u.CompanyName, &u.Role, &u.Verified,
		&u.PasswordHash, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanRequest(row pgx.Row) (domain.FreightRequest, error) {
	var (
		r                   domain.FreightRequest
		origin, destination locationDoc
		cargo               cargoDoc
		amount              *float64
		currency            *string
	)
	err := row.Scan(
		&r.ID, &r.OwnerID, &r.Title, &r.Description,
		&origin, &destination, &cargo,
		&amount, &currency, &r.PickupDate, &r.DeliveryDate, &r.Status,
		&r.AssignedQuoteID, &r.AssignedAgentID, &r.ExpiresAt, &r.CancelReason,
		&r.CreatedAt, &r.UpdatedAt, &r.PublishedAt, &r.AssignedAt, &r.PickedUpAt, &r.DeliveredAt, &r.CancelledAt,
	)
	if err != nil {
		return domain.FreightRequest{}, err
	}
	r.Origin = origin.toDomain()
	r.Destination = destination.toDomain()
	r.Cargo = cargo.toDomain()
	if amount != nil && currency != nil {
		r.Budget = &domain.Money{Amount: *amount, Currency: *currency}
	}
	return r, nil
}

func scanQuote(row pgx.Row) (domain.Quote, error) {
	var q domain.Quote
	err := row.Scan(&q.ID, &q.RequestID, &q.AgentID, &q.Price.Amount, &q.Price.Currency, &q.Message,
		&q.EstimatedPickup, &q.EstimatedDelivery, &q.Status, &q.ExpiresAt, &q.CreatedAt, &q.UpdatedAt, &q.DecidedAt)
	return q, err
}

func scanProfile(row pgx.Row) (domain.AgentProfile, error) {
	var p domain.AgentProfile
	err := row.Scan(&p.UserID, &p.Rating, &p.ReviewCount, &p.CompletedJobs, &p.Verified, &p.CoverageAreas,
		&p.Bio, &p.UpdatedAt)
	return p, err
}

func scanReview(row pgx.Row) (domain.Review, error) {
	var r domain.Review
	err := row.Scan(&r.ID, &r.RequestID, &r.ReviewerID, &r.RevieweeID, &r.Rating, &r.Comment, &r.CreatedAt)
	return r, err
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Topic, &e.AggregateID, &e.ActorID, &e.Payload, &e.CreatedAt, &e.PublishedAt, &e.Attempts)
	return e, err
}
