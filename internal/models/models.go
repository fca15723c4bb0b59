package models

import "time"

// EventType identifies a ban lifecycle event
type EventType string

const (
	EventBanned EventType = "banned"
	EventLifted EventType = "lifted"
)

// AttemptView represents a client that has failed at least once but is not banned
type AttemptView struct {
	ClientID      string    `json:"client_id"`
	Count         int       `json:"count"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

// BanView represents an active ban
type BanView struct {
	ClientID         string    `json:"client_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// BanEvent is emitted when a client is banned or a ban is lifted by an operator
type BanEvent struct {
	Type      EventType `json:"type"`
	ClientID  string    `json:"client_id"`
	At        time.Time `json:"at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
}
