package models

import "time"

// Session status constants
const (
	SessionStatusConnected    = "connected"
	SessionStatusDisconnected = "disconnected"
)

// Session ended_by markers
const (
	SessionEndedByClient  = "client"
	SessionEndedByTimeout = "timeout"
	SessionEndedByAdmin   = "admin"
)

// Session is one open instance of a subscriber tunnelling through a server.
// The partial unique index on (subscriber_id) where status='connected' is the
// serialization point for concurrent connects; once disconnected the row is
// immutable except for administrative correction.
type Session struct {
	ID              string
	SubscriberID    string
	ServerID        *string // nullable after server decommission
	ClientAddress   string  // assigned in-tunnel address
	ClientPublicKey string
	Status          string
	BytesSent       int64
	BytesReceived   int64
	StartedAt       time.Time
	EndedAt         *time.Time
	LastSeenAt      time.Time
	EndedBy         *string
}

// Duration returns the session length; for open sessions, time since start.
func (s *Session) Duration(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// UsageLog is the append-only accounting record closed on disconnect.
type UsageLog struct {
	ID             string
	SubscriberID   string
	ServerID       *string
	SessionID      string
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	DataMB         float64
}
