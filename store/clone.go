package store

import (
	"maps"
	"slices"
	"time"

	"freightflow/domain"
)

func ptr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(t *time.Time) *time.Time { return ptr(t) }

func cloneUser(u domain.User) domain.User {
	u.Phone = ptr(u.Phone)
	u.CompanyName = ptr(u.CompanyName)
	return u
}

func cloneLocation(l domain.Location) domain.Location {
	l.Lat = ptr(l.Lat)
	l.Lng = ptr(l.Lng)
	return l
}

func cloneRequest(r domain.FreightRequest) domain.FreightRequest {
	r.Origin = cloneLocation(r.Origin)
	r.Destination = cloneLocation(r.Destination)
	r.Cargo.Dimensions = ptr(r.Cargo.Dimensions)
	r.Budget = ptr(r.Budget)
	r.PickupDate = cloneTime(r.PickupDate)
	r.DeliveryDate = cloneTime(r.DeliveryDate)
	r.AssignedQuoteID = ptr(r.AssignedQuoteID)
	r.AssignedAgentID = ptr(r.AssignedAgentID)
	r.ExpiresAt = cloneTime(r.ExpiresAt)
	r.CancelReason = ptr(r.CancelReason)
	r.PublishedAt = cloneTime(r.PublishedAt)
	r.AssignedAt = cloneTime(r.AssignedAt)
	r.PickedUpAt = cloneTime(r.PickedUpAt)
	r.DeliveredAt = cloneTime(r.DeliveredAt)
	r.CancelledAt = cloneTime(r.CancelledAt)
	return r
}

func cloneQuote(q domain.Quote) domain.Quote {
	q.EstimatedPickup = cloneTime(q.EstimatedPickup)
	q.EstimatedDelivery = cloneTime(q.EstimatedDelivery)
	q.ExpiresAt = cloneTime(q.ExpiresAt)
	q.DecidedAt = cloneTime(q.DecidedAt)
	return q
}

func cloneProfile(p domain.AgentProfile) domain.AgentProfile {
	p.CoverageAreas = slices.Clone(p.CoverageAreas)
	p.Bio = ptr(p.Bio)
	return p
}

func cloneReview(r domain.Review) domain.Review {
	r.Comment = ptr(r.Comment)
	return r
}

func cloneEvent(e domain.Event) domain.Event {
	e.ActorID = ptr(e.ActorID)
	e.Payload = maps.Clone(e.Payload)
	e.PublishedAt = cloneTime(e.PublishedAt)
	return e
}
