package models

import "time"

// Server status constants
const (
	ServerStatusActive      = "active"
	ServerStatusMaintenance = "maintenance"
	ServerStatusOffline     = "offline"
)

// Server is a tunnel node in the registry. CurrentLoad is a normalized
// summary of open sessions (open_sessions / max_connections), adjusted on
// connect/disconnect and recomputed by the periodic reconcile task.
type Server struct {
	ID             string
	Hostname       string
	Location       string
	Endpoint       string // externally reachable address
	Port           int
	PublicKey      string   // tunnel protocol public key
	TunnelAddress  string   // server's own in-tunnel address, e.g. 10.8.0.1
	TunnelPrefix   string   // assignable pool, e.g. 10.8.0.0/24
	AllowedIPs     []string // routed prefixes pushed to clients
	Tier           string   // free | premium servers require a paid entitlement
	Status         string
	CurrentLoad    float64 // normalized 0.0-1.0
	Ping           int     // latency estimate in ms
	MaxConnections int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AcceptsTier reports whether a subscriber with the given effective tier may
// be placed on this server.
func (s *Server) AcceptsTier(tier string) bool {
	if s.Tier == TierFree {
		return true
	}
	return tier == TierPaid
}
