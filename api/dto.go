package api

import (
	"time"

	"freightflow/domain"
)

type locationDTO struct {
	Address    string   `json:"address"`
	City       string   `json:"city"`
	State      string   `json:"state,omitempty"`
	Country    string   `json:"country,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lng        *float64 `json:"lng,omitempty"`
}

func (l locationDTO) toDomain() domain.Location {
	return domain.Location(l)
}

type dimensionsDTO struct {
	LengthCm float64 `json:"lengthCm"`
	WidthCm  float64 `json:"widthCm"`
	HeightCm float64 `json:"heightCm"`
}

type cargoDTO struct {
	Type       string         `json:"type"`
	WeightKg   float64        `json:"weightKg"`
	Dimensions *dimensionsDTO `json:"dimensions,omitempty"`
	Quantity   int            `json:"quantity"`
}

func (c cargoDTO) toDomain() domain.Cargo {
	out := domain.Cargo{Type: c.Type, WeightKg: c.WeightKg, Quantity: c.Quantity}
	if c.Dimensions != nil {
		d := domain.Dimensions(*c.Dimensions)
		out.Dimensions = &d
	}
	return out
}

type moneyDTO struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

func (m *moneyDTO) toDomain() *domain.Money {
	if m == nil {
		return nil
	}
	out := domain.Money(*m)
	return &out
}

func newCargoDTO(c domain.Cargo) cargoDTO {
	out := cargoDTO{Type: c.Type, WeightKg: c.WeightKg, Quantity: c.Quantity}
	if c.Dimensions != nil {
		d := dimensionsDTO(*c.Dimensions)
		out.Dimensions = &d
	}
	return out
}

func newMoneyDTO(m *domain.Money) *moneyDTO {
	if m == nil {
		return nil
	}
	out := moneyDTO(*m)
	return &out
}

type userResponse struct {
	ID          string  `json:"id"`
	Email       string  `json:"email"`
	FullName    string  `json:"fullName"`
	Phone       *string `json:"phone,omitempty"`
	CompanyName *string `json:"companyName,omitempty"`
	Role        string  `json:"role"`
	Verified    bool    `json:"verified"`
	CreatedAt   string  `json:"createdAt"`
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		Phone:       u.Phone,
		CompanyName: u.CompanyName,
		Role:        string(u.Role),
		Verified:    u.Verified,
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expiresAt"`
	User      userResponse `json:"user"`
}

type requestResponse struct {
	ID              string      `json:"id"`
	OwnerID         string      `json:"ownerId"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Origin          locationDTO `json:"origin"`
	Destination     locationDTO `json:"destination"`
	Cargo           cargoDTO    `json:"cargo"`
	Budget          *moneyDTO   `json:"budget,omitempty"`
	PickupDate      *string     `json:"pickupDate,omitempty"`
	DeliveryDate    *string     `json:"deliveryDate,omitempty"`
	Status          string      `json:"status"`
	AssignedQuoteID *string     `json:"assignedQuoteId,omitempty"`
	AssignedAgentID *string     `json:"assignedAgentId,omitempty"`
	ExpiresAt       *string     `json:"expiresAt,omitempty"`
	CancelReason    *string     `json:"cancelReason,omitempty"`
	CreatedAt       string      `json:"createdAt"`
	UpdatedAt       string      `json:"updatedAt"`
}

func newRequestResponse(r domain.FreightRequest) requestResponse {
	return requestResponse{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Title:           r.Title,
		Description:     r.Description,
		Origin:          locationDTO(r.Origin),
		Destination:     locationDTO(r.Destination),
		Cargo:           newCargoDTO(r.Cargo),
		Budget:          newMoneyDTO(r.Budget),
		PickupDate:      formatTimePtr(r.PickupDate),
		DeliveryDate:    formatTimePtr(r.DeliveryDate),
		Status:          string(r.Status),
		AssignedQuoteID: r.AssignedQuoteID,
		AssignedAgentID: r.AssignedAgentID,
		ExpiresAt:       formatTimePtr(r.ExpiresAt),
		CancelReason:    r.CancelReason,
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
}

type quoteResponse struct {
	ID                string   `json:"id"`
	RequestID         string   `json:"requestId"`
	AgentID           string   `json:"agentId"`
	Price             moneyDTO `json:"price"`
	Message           string   `json:"message,omitempty"`
	EstimatedPickup   *string  `json:"estimatedPickup,omitempty"`
	EstimatedDelivery *string  `json:"estimatedDelivery,omitempty"`
	Status            string   `json:"status"`
	ExpiresAt         *string  `json:"expiresAt,omitempty"`
	CreatedAt         string   `json:"createdAt"`
	UpdatedAt         string   `json:"updatedAt"`
}

func newQuoteResponse(q domain.Quote) quoteResponse {
	return quoteResponse{
		ID:                q.ID,
		RequestID:         q.RequestID,
		AgentID:           q.AgentID,
		Price:             moneyDTO(q.Price),
		Message:           q.Message,
		EstimatedPickup:   formatTimePtr(q.EstimatedPickup),
		EstimatedDelivery: formatTimePtr(q.EstimatedDelivery),
		Status:            string(q.Status),
		ExpiresAt:         formatTimePtr(q.ExpiresAt),
		CreatedAt:         formatTime(q.CreatedAt),
		UpdatedAt:         formatTime(q.UpdatedAt),
	}
}

type acceptResponse struct {
	Quote   quoteResponse   `json:"quote"`
	Request requestResponse `json:"request"`
}

type agentResponse struct {
	UserID        string   `json:"userId"`
	Rating        float64  `json:"rating"`
	ReviewCount   int      `json:"reviewCount"`
	CompletedJobs int      `json:"completedJobs"`
	Verified      bool     `json:"verified"`
	CoverageAreas []string `json:"coverageAreas"`
	Bio           *string  `json:"bio,omitempty"`
	UpdatedAt     string   `json:"updatedAt"`
}

func newAgentResponse(p domain.AgentProfile) agentResponse {
	areas := p.CoverageAreas
	if areas == nil {
		areas = []string{}
	}
	return agentResponse{
		UserID:        p.UserID,
		Rating:        p.Rating,
		ReviewCount:   p.ReviewCount,
		CompletedJobs: p.CompletedJobs,
		Verified:      p.Verified,
		CoverageAreas: areas,
		Bio:           p.Bio,
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

type reviewResponse struct {
	ID         string  `json:"id"`
	RequestID  string  `json:"requestId"`
	ReviewerID string  `json:"reviewerId"`
	RevieweeID string  `json:"revieweeId"`
	Rating     int     `json:"rating"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

func newReviewResponse(r domain.Review) reviewResponse {
	return reviewResponse{
		ID:         r.ID,
		RequestID:  r.RequestID,
		ReviewerID: r.ReviewerID,
		RevieweeID: r.RevieweeID,
		Rating:     r.Rating,
		Comment:    r.Comment,
		CreatedAt:  formatTime(r.CreatedAt),
	}
}

type eventResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	ActorID    *string        `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload"`
	OccurredAt string         `json:"occurredAt"`
}

func newEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:         e.ID,
		Type:       e.Topic,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
		OccurredAt: formatTime(e.CreatedAt),
	}
}

type paginationDTO struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type pageResponse[T any] struct {
	Data       []T           `json:"data"`
	Pagination paginationDTO `json:"pagination"`
}

func newPageResponse[D any, T any](p domain.Page[D], conv func(D) T) pageResponse[T] {
	out := make([]T, 0, len(p.Data))
	for _, d := range p.Data {
		out = append(out, conv(d))
	}
	return pageResponse[T]{Data: out, Pagination: paginationDTO(p.Pagination)}
}

type pageRequest struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

func (p pageRequest) toDomain() domain.PageRequest {
	return domain.PageRequest(p)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
