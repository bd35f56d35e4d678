package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"freightflow/agent"
	"freightflow/auth"
	"freightflow/domain"
	"freightflow/freight"
	"freightflow/policy"
	"freightflow/quote"
	"freightflow/review"
)

// bind decodes the body into In before calling fn. An empty body leaves In
// at its zero value.
func bind[In any](fn func(ctx context.Context, caller policy.Caller, in In) (any, error)) call {
	return func(ctx context.Context, caller policy.Caller, body []byte) (any, error) {
		var in In
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &in); err != nil {
				return nil, fmt.Errorf("%w: %v", errBadBody, err)
			}
		}
		return fn(ctx, caller, in)
	}
}

type idInput struct {
	ID string `json:"id"`
}

type registerInput struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FullName    string  `json:"fullName"`
	Role        string  `json:"role"`
	Phone       *string `json:"phone"`
	CompanyName *string `json:"companyName"`
}

type loginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type requestInput struct {
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	Origin       locationDTO `json:"origin"`
	Destination  locationDTO `json:"destination"`
	Cargo        cargoDTO    `json:"cargo"`
	Budget       *moneyDTO   `json:"budget"`
	PickupDate   *time.Time  `json:"pickupDate"`
	DeliveryDate *time.Time  `json:"deliveryDate"`
	ExpiresAt    *time.Time  `json:"expiresAt"`
	Publish      bool        `json:"publish"`
}

type updateRequestInput struct {
	ID           string       `json:"id"`
	Title        *string      `json:"title"`
	Description  *string      `json:"description"`
	Origin       *locationDTO `json:"origin"`
	Destination  *locationDTO `json:"destination"`
	Cargo        *cargoDTO    `json:"cargo"`
	Budget       *moneyDTO    `json:"budget"`
	PickupDate   *time.Time   `json:"pickupDate"`
	DeliveryDate *time.Time   `json:"deliveryDate"`
	ExpiresAt    *time.Time   `json:"expiresAt"`
}

type listRequestsInput struct {
	pageRequest
	Status    string `json:"status"`
	City      string `json:"city"`
	CargoType string `json:"cargoType"`
	OwnerID   string `json:"ownerId"`
}

type cancelInput struct {
	ID     string  `json:"id"`
	Reason *string `json:"reason"`
}

type submitQuoteInput struct {
	RequestID         string     `json:"requestId"`
	Price             moneyDTO   `json:"price"`
	Message           string     `json:"message"`
	EstimatedPickup   *time.Time `json:"estimatedPickup"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	ExpiresAt         *time.Time `json:"expiresAt"`
}

type listQuotesInput struct {
	pageRequest
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

type listAgentsInput struct {
	pageRequest
	VerifiedOnly bool   `json:"verifiedOnly"`
	CoverageArea string `json:"coverageArea"`
}

type updateAgentInput struct {
	CoverageAreas *[]string `json:"coverageAreas"`
	Bio           *string   `json:"bio"`
}

type createReviewInput struct {
	RequestID string  `json:"requestId"`
	Rating    int     `json:"rating"`
	Comment   *string `json:"comment"`
}

type listReviewsInput struct {
	pageRequest
	UserID string `json:"userId"`
}

func (s *Server) registerProcedures() map[string]procedure {
	sv := s.services
	requestOut := func(r domain.FreightRequest, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return newRequestResponse(r), nil
	}
	quoteOut := func(q domain.Quote, err error) (any, error) {
		if err != nil {
			return nil, err
		}
		return newQuoteResponse(q), nil
	}

	return map[string]procedure{
		"auth.register": {public: true, mutating: true, call: bind(func(ctx context.Context, _ policy.Caller, in registerInput) (any, error) {
			u, err := sv.Auth.Register(ctx, auth.RegisterRequest{
				Email:       in.Email,
				Password:    in.Password,
				FullName:    in.FullName,
				Role:        domain.Role(in.Role),
				Phone:       in.Phone,
				CompanyName: in.CompanyName,
			})
			if err != nil {
				return nil, err
			}
			return newUserResponse(u), nil
		})},
		"auth.login": {public: true, call: bind(func(ctx context.Context, _ policy.Caller, in loginInput) (any, error) {
			res, err := sv.Auth.Login(ctx, auth.LoginRequest{Email: in.Email, Password: in.Password})
			if err != nil {
				return nil, err
			}
			return loginResponse{
				Token:     res.Token,
				ExpiresAt: formatTime(time.Unix(res.ExpiresAt, 0)),
				User:      newUserResponse(res.User),
			}, nil
		})},
		"auth.me": {call: bind(func(ctx context.Context, c policy.Caller, _ struct{}) (any, error) {
			u, err := sv.Auth.Me(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			return newUserResponse(u), nil
		})},

		"freightRequests.create": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in requestInput) (any, error) {
			return requestOut(sv.Requests.Create(ctx, c, freight.CreateParams{
				Title:        in.Title,
				Description:  in.Description,
				Origin:       in.Origin.toDomain(),
				Destination:  in.Destination.toDomain(),
				Cargo:        in.Cargo.toDomain(),
				Budget:       in.Budget.toDomain(),
				PickupDate:   in.PickupDate,
				DeliveryDate: in.DeliveryDate,
				ExpiresAt:    in.ExpiresAt,
				Publish:      in.Publish,
			}))
		})},
		"freightRequests.get": {call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return requestOut(sv.Requests.Get(ctx, c, in.ID))
		})},
		"freightRequests.list": {call: bind(func(ctx context.Context, c policy.Caller, in listRequestsInput) (any, error) {
			page, err := sv.Requests.List(ctx, c, freight.ListFilter{
				OwnerID:   in.OwnerID,
				Status:    domain.RequestStatus(in.Status),
				City:      in.City,
				CargoType: in.CargoType,
				Page:      in.toDomain(),
			})
			if err != nil {
				return nil, err
			}
			return newPageResponse(page, newRequestResponse), nil
		})},
		"freightRequests.mine": {call: bind(func(ctx context.Context, c policy.Caller, in listRequestsInput) (any, error) {
			page, err := sv.Requests.ListMine(ctx, c, domain.RequestStatus(in.Status), in.toDomain())
			if err != nil {
				return nil, err
			}
			return newPageResponse(page, newRequestResponse), nil
		})},
		"freightRequests.update": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in updateRequestInput) (any, error) {
			params := freight.UpdateParams{
				Title:        in.Title,
				Description:  in.Description,
				Budget:       in.Budget.toDomain(),
				PickupDate:   in.PickupDate,
				DeliveryDate: in.DeliveryDate,
				ExpiresAt:    in.ExpiresAt,
			}
			if in.Origin != nil {
				l := in.Origin.toDomain()
				params.Origin = &l
			}
			if in.Destination != nil {
				l := in.Destination.toDomain()
				params.Destination = &l
			}
			if in.Cargo != nil {
				cargo := in.Cargo.toDomain()
				params.Cargo = &cargo
			}
			return requestOut(sv.Requests.Update(ctx, c, in.ID, params))
		})},
		"freightRequests.publish": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return requestOut(sv.Requests.Publish(ctx, c, in.ID))
		})},
		"freightRequests.cancel": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in cancelInput) (any, error) {
			return requestOut(sv.Requests.Cancel(ctx, c, in.ID, in.Reason))
		})},
		"freightRequests.markInTransit": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return requestOut(sv.Requests.MarkInTransit(ctx, c, in.ID))
		})},
		"freightRequests.markDelivered": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return requestOut(sv.Requests.MarkDelivered(ctx, c, in.ID))
		})},
		"freightRequests.timeline": {call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			events, err := sv.Requests.Timeline(ctx, c, in.ID)
			if err != nil {
				return nil, err
			}
			out := make([]eventResponse, 0, len(events))
			for _, e := range events {
				out = append(out, newEventResponse(e))
			}
			return out, nil
		})},

		"quotes.submit": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in submitQuoteInput) (any, error) {
			return quoteOut(sv.Quotes.Submit(ctx, c, in.RequestID, quote.SubmitParams{
				Price:             *in.Price.toDomain(),
				Message:           in.Message,
				EstimatedPickup:   in.EstimatedPickup,
				EstimatedDelivery: in.EstimatedDelivery,
				ExpiresAt:         in.ExpiresAt,
			}))
		})},
		"quotes.accept": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			res, err := sv.Quotes.Accept(ctx, c, in.ID)
			if err != nil {
				return nil, err
			}
			return acceptResponse{Quote: newQuoteResponse(res.Quote), Request: newRequestResponse(res.Request)}, nil
		})},
		"quotes.reject": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return quoteOut(sv.Quotes.Reject(ctx, c, in.ID))
		})},
		"quotes.withdraw": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return quoteOut(sv.Quotes.Withdraw(ctx, c, in.ID))
		})},
		"quotes.get": {call: bind(func(ctx context.Context, c policy.Caller, in idInput) (any, error) {
			return quoteOut(sv.Quotes.Get(ctx, c, in.ID))
		})},
		"quotes.listForRequest": {call: bind(func(ctx context.Context, c policy.Caller, in listQuotesInput) (any, error) {
			page, err := sv.Quotes.ListForRequest(ctx, c, in.RequestID, in.toDomain())
			if err != nil {
				return nil, err
			}
			return newPageResponse(page, newQuoteResponse), nil
		})},
		"quotes.mine": {call: bind(func(ctx context.Context, c policy.Caller, in listQuotesInput) (any, error) {
			page, err := sv.Quotes.ListMine(ctx, c, domain.QuoteStatus(in.Status), in.toDomain())
			if err != nil {
				return nil, err
			}
			return newPageResponse(page, newQuoteResponse), nil
		})},
		"quotes.expireStale": {mutating: true, call: bind(func(ctx context.Context, _ policy.Caller, _ struct{}) (any, error) {
			n, err := sv.Quotes.ExpireStale(ctx, sv.Requests.Now())
			if err != nil {
				return nil, err
			}
			return map[string]int{"expired": n}, nil
		})},

		"agents.get": {public: true, call: bind(func(ctx context.Context, _ policy.Caller, in idInput) (any, error) {
			p, err := sv.Agents.Get(ctx, in.ID)
			if err != nil {
				return nil, err
			}
			return newAgentResponse(p), nil
		})},
		"agents.list": {public: true, call: bind(func(ctx context.Context, _ policy.Caller, in listAgentsInput) (any, error) {
			page, err := sv.Agents.List(ctx, agent.ListFilter{
				VerifiedOnly: in.VerifiedOnly,
				CoverageArea: in.CoverageArea,
				Page:         in.toDomain(),
			})
			if err != nil {
				return nil, err
			}
			return newPageResponse(page, newAgentResponse), nil
		})},
		"agents.updateProfile": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in updateAgentInput) (any, error) {
			p, err := sv.Agents.UpdateProfile(ctx, c, c.ID, agent.UpdateParams{CoverageAreas: in.CoverageAreas, Bio: in.Bio})
			if err != nil {
				return nil, err
			}
			return newAgentResponse(p), nil
		})},

		"reviews.create": {mutating: true, call: bind(func(ctx context.Context, c policy.Caller, in createReviewInput) (any, error) {
			r, err := sv.Reviews.Create(ctx, c, review.CreateParams{RequestID: in.RequestID, Rating: in.Rating, Comment: in.Comment})
			if err != nil {
				return nil, err
			}
			return newReviewResponse(r), nil
		})},
		"reviews.listForUser": {public: true, call: bind(func(ctx context.Context, _ policy.Caller, in listReviewsInput) (any, error) {
			page, err := sv.Reviews.ListForUser(ctx, in.UserID, in.toDomain())
			if err != nil {
				return nil, err
			}
			return newPageResponse(page, newReviewResponse), nil
		})},
	}
}
