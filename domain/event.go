package domain

import "time"

// Outbox topics.
const (
	TopicRequestCreated       = "freight.created"
	TopicRequestUpdated       = "freight.updated"
	TopicRequestStatusChanged = "freight.status_changed"
	TopicQuoteSubmitted       = "quote.submitted"
	TopicQuoteStatusChanged   = "quote.status_changed"
	TopicReviewCreated        = "review.created"
	TopicUserRegistered       = "user.registered"
	TopicAgentProfileUpdated  = "agent.profile_updated"
)

// Event is an outbox entry appended in the same transaction as the change it records.
type Event struct {
	ID          string
	Topic       string
	AggregateID string
	ActorID     *string
	Payload     map[string]any
	CreatedAt   time.Time
	PublishedAt *time.Time
	Attempts    int
}
