// Package events publishes auth audit events (logins, refreshes, revocations)
// for downstream consumers. Publishing is best effort: a failed publish never
// fails the auth operation that produced it.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	UserRegistered      = "user.registered"
	UserLoggedIn        = "user.logged_in"
	TokenRefreshed      = "token.refreshed"
	TokenRevoked        = "token.revoked"
	UserTokensRevoked   = "user.tokens_revoked"
	UserPasswordChanged = "user.password_changed"
	UserDisabled        = "user.disabled"
)

// Event is the JSON payload written to the bus. It never carries token values.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	OccurredAt time.Time `json:"occurredAt"`
	IPAddress  string    `json:"ipAddress,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType, userID string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher is implemented by the Kafka, NATS and no-op publishers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
