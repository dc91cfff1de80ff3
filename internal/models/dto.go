package models

// ==================== Auth DTOs ====================

// RegisterRequest creates a subscriber account
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Phone    string `json:"phone,omitempty"`
	Country  string `json:"country,omitempty"`
}

// RegisterResponse is returned after registration; a verification code is
// mailed out separately.
type RegisterResponse struct {
	SubscriberID string `json:"subscriber_id"`
	Handle       int64  `json:"handle"`
	Email        string `json:"email"`
	Message      string `json:"message"`
}

// LoginRequest authenticates a subscriber
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries the bearer token issued on login
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // always "bearer"
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// VerifyEmailRequest consumes an email-verify code
type VerifyEmailRequest struct {
	Email string `json:"email" binding:"required"`
	Code  string `json:"code" binding:"required"`
}

// PasswordResetRequest asks for a reset code to be mailed
type PasswordResetRequest struct {
	Email string `json:"email" binding:"required"`
}

// PasswordResetConfirm consumes a reset code and sets a new password
type PasswordResetConfirm struct {
	Email       string `json:"email" binding:"required"`
	Code        string `json:"code" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8"`
}

// ==================== Profile DTOs ====================

// ProfileResponse is the subscriber's own view of their account
type ProfileResponse struct {
	SubscriberID string `json:"subscriber_id"`
	Handle       int64  `json:"handle"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone,omitempty"`
	Country      string `json:"country,omitempty"`
	IsPremium    bool   `json:"is_premium"`
	IsVerified   bool   `json:"is_verified"`
	CreatedAt    string `json:"created_at"`
}

// UpdateProfileRequest updates mutable profile fields
type UpdateProfileRequest struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Country string `json:"country,omitempty"`
}

// ==================== Subscription DTOs ====================

// PlanInfo is the catalog view of a plan
type PlanInfo struct {
	PlanID       string                 `json:"plan_id"`
	Name         string                 `json:"name"`
	Tier         string                 `json:"tier"`
	Price        string                 `json:"price"`
	DurationDays int                    `json:"duration_days"`
	Features     map[string]interface{} `json:"features,omitempty"`
}

// AssignPlanRequest starts a subscription purchase
type AssignPlanRequest struct {
	PlanID        string `json:"plan_id" binding:"required"`
	AutoRenew     bool   `json:"auto_renew"`
	PaymentMethod string `json:"payment_method" binding:"required"`
}

// SubscriptionResponse describes a subscription to the app
type SubscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	PlanID         string `json:"plan_id"`
	PlanName       string `json:"plan_name,omitempty"`
	Tier           string `json:"tier"`
	Status         string `json:"status"`
	StartAt        string `json:"start_at,omitempty"`
	EndAt          string `json:"end_at,omitempty"`
	AutoRenew      bool   `json:"auto_renew"`
	PaymentID      string `json:"payment_id,omitempty"`
}

// PaymentCallbackRequest is the processor webhook payload
type PaymentCallbackRequest struct {
	PaymentRef     string `json:"payment_ref" binding:"required"`
	ExternalStatus string `json:"external_status" binding:"required"` // success, failed
	ExternalID     string `json:"external_id,omitempty"`
}

// ==================== VPN DTOs ====================

// ServerInfo is the subscriber-visible server descriptor
type ServerInfo struct {
	ServerID       string  `json:"server_id"`
	Hostname       string  `json:"hostname"`
	Location       string  `json:"location"`
	Tier           string  `json:"tier"`
	Status         string  `json:"status"`
	CurrentLoad    float64 `json:"current_load"`
	PingMs         int     `json:"ping_ms"`
	MaxConnections int     `json:"max_connections"`
}

// ConnectRequest opens a tunnel session
type ConnectRequest struct {
	ClientPublicKey string `json:"client_public_key" binding:"required"`
	Location        string `json:"location,omitempty"`
	ServerID        string `json:"server_id,omitempty"` // explicit server choice
	WantPremium     bool   `json:"want_premium,omitempty"`
}

// ConnectResponse carries everything the client tunnel engine needs
type ConnectResponse struct {
	SessionID     string       `json:"session_id"`
	Server        *PeerInfo    `json:"server"`
	ClientAddress string       `json:"client_address"`
	TunnelConfig  string       `json:"tunnel_config"`
	StartedAt     string       `json:"started_at"`
	Status        string       `json:"status"`
	Entitlement   *TierSummary `json:"entitlement,omitempty"`
}

// PeerInfo is the tunnel peer descriptor embedded in ConnectResponse
type PeerInfo struct {
	ServerID   string   `json:"server_id"`
	Location   string   `json:"location"`
	Endpoint   string   `json:"endpoint"` // host:port
	PublicKey  string   `json:"public_key"`
	AllowedIPs []string `json:"allowed_ips"`
}

// TierSummary is the entitlement echo returned on connect
type TierSummary struct {
	Tier      string `json:"tier"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// DisconnectRequest closes a session with client-reported counters
type DisconnectRequest struct {
	SessionID     string `json:"session_id" binding:"required"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
}

// DisconnectResponse summarizes the finished session
type DisconnectResponse struct {
	SessionID           string  `json:"session_id"`
	DurationSeconds     int64   `json:"duration_seconds"`
	DurationFormatted   string  `json:"duration_formatted"`
	BytesSent           int64   `json:"bytes_sent"`
	BytesReceived       int64   `json:"bytes_received"`
	TotalBytes          int64   `json:"total_bytes"`
	TotalDataMB         float64 `json:"total_data_mb"`
	AvgSpeedMbps        float64 `json:"avg_speed_mbps"`
	ServerLocation      string  `json:"server_location,omitempty"`
	AlreadyDisconnected bool    `json:"already_disconnected,omitempty"`
	Message             string  `json:"message"`
}

// SessionStatusResponse is the live/latest session snapshot
type SessionStatusResponse struct {
	HasSession      bool        `json:"has_session"`
	SessionID       string      `json:"session_id,omitempty"`
	Status          string      `json:"status,omitempty"`
	Server          *ServerInfo `json:"server,omitempty"`
	ClientAddress   string      `json:"client_address,omitempty"`
	StartedAt       string      `json:"started_at,omitempty"`
	EndedAt         string      `json:"ended_at,omitempty"`
	DurationSeconds int64       `json:"duration_seconds,omitempty"`
	BytesSent       int64       `json:"bytes_sent,omitempty"`
	BytesReceived   int64       `json:"bytes_received,omitempty"`
	AvgSpeedMbps    float64     `json:"avg_speed_mbps,omitempty"`
	Message         string      `json:"message,omitempty"`
}

// ==================== Operator DTOs ====================

// CreateServerRequest registers a tunnel node
type CreateServerRequest struct {
	Hostname       string   `json:"hostname" binding:"required"`
	Location       string   `json:"location" binding:"required"`
	Endpoint       string   `json:"endpoint" binding:"required"`
	Port           int      `json:"port" binding:"required"`
	PublicKey      string   `json:"public_key" binding:"required"`
	TunnelAddress  string   `json:"tunnel_address" binding:"required"`
	TunnelPrefix   string   `json:"tunnel_prefix" binding:"required"`
	AllowedIPs     []string `json:"allowed_ips,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	MaxConnections int      `json:"max_connections,omitempty"`
}

// UpdateServerRequest mutates a tunnel node; zero values are ignored
type UpdateServerRequest struct {
	Hostname       string   `json:"hostname,omitempty"`
	Location       string   `json:"location,omitempty"`
	Endpoint       string   `json:"endpoint,omitempty"`
	Port           int      `json:"port,omitempty"`
	Status         string   `json:"status,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	Ping           int      `json:"ping,omitempty"`
	MaxConnections int      `json:"max_connections,omitempty"`
	AllowedIPs     []string `json:"allowed_ips,omitempty"`
}
