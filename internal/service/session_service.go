package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/config"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
	"github.com/wenwu/saas-platform/vpn-core/internal/tunnel"
)

const closeRetries = 3

// SessionService opens and closes tunnel sessions: entitlement check, server
// selection, address allocation and the usage accounting on teardown
type SessionService struct {
	cfg          *config.Config
	serverRepo   *repository.ServerRepository
	sessionRepo  *repository.SessionRepository
	usageRepo    *repository.UsageRepository
	entitlements *EntitlementService
}

// NewSessionService creates a new session service
func NewSessionService(
	cfg *config.Config,
	serverRepo *repository.ServerRepository,
	sessionRepo *repository.SessionRepository,
	usageRepo *repository.UsageRepository,
	entitlements *EntitlementService,
) *SessionService {
	return &SessionService{
		cfg:          cfg,
		serverRepo:   serverRepo,
		sessionRepo:  sessionRepo,
		usageRepo:    usageRepo,
		entitlements: entitlements,
	}
}

// ListServers returns the servers the subscriber is entitled to see,
// optionally narrowed to a location
func (s *SessionService) ListServers(ctx context.Context, sub *models.Subscriber, location string) ([]models.ServerInfo, error) {
	ent, err := s.entitlements.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}

	servers, err := s.serverRepo.List(ctx, repository.ServerFilter{
		Location: location,
		Status:   models.ServerStatusActive,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list servers", err)
	}

	out := make([]models.ServerInfo, 0, len(servers))
	for _, srv := range servers {
		if !srv.AcceptsTier(ent.Tier) {
			continue
		}
		out = append(out, serverInfo(srv))
	}
	return out, nil
}

// Connect opens a tunnel session. At most one session per subscriber is
// open at a time; the unique index on connected sessions settles races
// between concurrent connects.
func (s *SessionService) Connect(ctx context.Context, sub *models.Subscriber, req *models.ConnectRequest) (*models.ConnectResponse, error) {
	// 1. Resolve what the subscriber is entitled to
	ent, err := s.entitlements.Resolve(ctx, sub)
	if err != nil {
		return nil, err
	}
	if req.WantPremium && !ent.Premium() {
		return nil, apperr.New(apperr.KindPremiumRequired, "a paid subscription is required for premium servers").
			WithDetail("required_tier", models.TierPaid)
	}

	// 2. Refuse a second open session up front; the index catches races
	if existing, err := s.sessionRepo.GetConnectedBySubscriber(ctx, sub.ID); err == nil && existing != nil {
		return nil, alreadyConnectedErr(existing)
	} else if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to check open sessions", err)
	}

	// 3. Pick candidate servers
	candidates, err := s.candidateServers(ctx, ent, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperr.New(apperr.KindNoCapacity, "no server available for this request")
	}

	// 4. Walk the candidates: capacity check, address lease, session insert
	var lastErr error
	for _, srv := range candidates {
		open, err := s.sessionRepo.CountConnectedByServer(ctx, srv.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to count server sessions", err)
		}
		if srv.MaxConnections > 0 && open >= srv.MaxConnections {
			lastErr = apperr.Newf(apperr.KindNoCapacity, "server %s is at capacity", srv.Hostname)
			continue
		}

		leased, err := s.sessionRepo.ListLeasedAddresses(ctx, srv.ID)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to list leased addresses", err)
		}
		clientAddr, err := tunnel.AllocateAddress(srv.TunnelPrefix, srv.TunnelAddress, leased)
		if err != nil {
			if errors.Is(err, tunnel.ErrAddressExhausted) {
				lastErr = apperr.Newf(apperr.KindAddressExhausted, "server %s has no free address", srv.Hostname)
				continue
			}
			return nil, apperr.Wrap(apperr.KindInternal, "failed to allocate address", err)
		}

		now := time.Now()
		serverID := srv.ID
		session := &models.Session{
			ID:              uuid.New().String(),
			SubscriberID:    sub.ID,
			ServerID:        &serverID,
			ClientAddress:   clientAddr,
			ClientPublicKey: req.ClientPublicKey,
			Status:          models.SessionStatusConnected,
			StartedAt:       now,
			LastSeenAt:      now,
		}
		if err := s.sessionRepo.Create(ctx, session); err != nil {
			if errors.Is(err, repository.ErrAlreadyConnected) {
				// Lost the race; report the winning session so the client can reconcile
				winner, _ := s.sessionRepo.GetConnectedBySubscriber(ctx, sub.ID)
				return nil, alreadyConnectedErr(winner)
			}
			return nil, apperr.Wrap(apperr.KindInternal, "failed to create session", err)
		}

		s.adjustLoad(ctx, srv, +1)

		usage := &models.UsageLog{
			ID:           uuid.New().String(),
			SubscriberID: sub.ID,
			ServerID:     &serverID,
			SessionID:    session.ID,
			ConnectedAt:  now,
		}
		if err := s.usageRepo.Open(ctx, usage); err != nil {
			log.Printf("[Session] Failed to open usage log for session %s: %v", session.ID, err)
		}

		log.Printf("[Session] Connected: handle=%d server=%s addr=%s session=%s",
			sub.Handle, srv.Hostname, clientAddr, session.ID)

		cfgBlob := tunnel.RenderConfig(srv, clientAddr, tunnel.RenderOptions{
			DNSServers: s.cfg.Tunnel.DNSServers,
			Keepalive:  s.cfg.Tunnel.Keepalive,
		})

		resp := &models.ConnectResponse{
			SessionID: session.ID,
			Server: &models.PeerInfo{
				ServerID:   srv.ID,
				Location:   srv.Location,
				Endpoint:   fmt.Sprintf("%s:%d", srv.Endpoint, srv.Port),
				PublicKey:  srv.PublicKey,
				AllowedIPs: srv.AllowedIPs,
			},
			ClientAddress: clientAddr,
			TunnelConfig:  cfgBlob,
			StartedAt:     now.Format(time.RFC3339),
			Status:        models.SessionStatusConnected,
			Entitlement:   tierSummary(ent),
		}
		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, apperr.New(apperr.KindNoCapacity, "no server available for this request")
}

// Disconnect closes a session with the client-reported counters. Closing an
// already-closed session succeeds and returns the stored summary, so clients
// can retry without fear.
func (s *SessionService) Disconnect(ctx context.Context, subscriberID string, req *models.DisconnectRequest) (*models.DisconnectResponse, error) {
	session, err := s.sessionRepo.GetByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "session not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
	}
	if err := requireOwner(session, subscriberID); err != nil {
		return nil, err
	}

	if session.Status == models.SessionStatusDisconnected {
		resp := s.summarize(ctx, session)
		resp.AlreadyDisconnected = true
		resp.Message = "Session was already disconnected"
		return resp, nil
	}

	endedAt := time.Now()
	err = s.closeWithRetry(ctx, session.ID, req.BytesSent, req.BytesReceived, endedAt, models.SessionEndedByClient)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost the race with another disconnect or the reaper
			closed, gerr := s.sessionRepo.GetByID(ctx, session.ID)
			if gerr == nil {
				resp := s.summarize(ctx, closed)
				resp.AlreadyDisconnected = true
				resp.Message = "Session was already disconnected"
				return resp, nil
			}
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to close session", err)
	}

	session.Status = models.SessionStatusDisconnected
	session.BytesSent = req.BytesSent
	session.BytesReceived = req.BytesReceived
	session.EndedAt = &endedAt

	s.finishTeardown(ctx, session)

	resp := s.summarize(ctx, session)
	resp.Message = "Disconnected"
	log.Printf("[Session] Disconnected: session=%s duration=%s data=%.2fMB",
		session.ID, resp.DurationFormatted, resp.TotalDataMB)
	return resp, nil
}

// Status returns the session identified by sessionID, or when none is given
// the open session if there is one, else the latest closed one
func (s *SessionService) Status(ctx context.Context, subscriberID, sessionID string) (*models.SessionStatusResponse, error) {
	var session *models.Session
	var err error

	if sessionID != "" {
		session, err = s.sessionRepo.GetByID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.New(apperr.KindNotFound, "session not found")
			}
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
		}
		if err := requireOwner(session, subscriberID); err != nil {
			return nil, err
		}
	} else {
		session, err = s.sessionRepo.GetConnectedBySubscriber(ctx, subscriberID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
			}
			session, err = s.sessionRepo.GetLatestBySubscriber(ctx, subscriberID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return &models.SessionStatusResponse{HasSession: false, Message: "No sessions yet"}, nil
				}
				return nil, apperr.Wrap(apperr.KindInternal, "failed to load session", err)
			}
		}
	}

	if session.Status == models.SessionStatusConnected {
		if err := s.sessionRepo.Touch(ctx, session.ID, time.Now()); err != nil {
			log.Printf("[Session] Failed to record heartbeat for %s: %v", session.ID, err)
		}
	}

	resp := &models.SessionStatusResponse{
		HasSession:    true,
		SessionID:     session.ID,
		Status:        session.Status,
		ClientAddress: session.ClientAddress,
		StartedAt:     session.StartedAt.Format(time.RFC3339),
		BytesSent:     session.BytesSent,
		BytesReceived: session.BytesReceived,
	}

	duration := session.Duration(time.Now())
	resp.DurationSeconds = int64(duration.Seconds())
	if session.EndedAt != nil {
		resp.EndedAt = session.EndedAt.Format(time.RFC3339)
		resp.AvgSpeedMbps = avgSpeedMbps(session.BytesSent+session.BytesReceived, duration)
	}

	if session.ServerID != nil {
		if srv, err := s.serverRepo.GetByID(ctx, *session.ServerID); err == nil {
			info := serverInfo(srv)
			resp.Server = &info
		}
	}

	return resp, nil
}

// ReapStale force-disconnects open sessions whose last heartbeat is older
// than the stale threshold; run periodically
func (s *SessionService) ReapStale(ctx context.Context) {
	cutoff := time.Now().Add(-s.cfg.Session.StaleThreshold)
	stale, err := s.sessionRepo.ListStale(ctx, cutoff, 100)
	if err != nil {
		log.Printf("[Session] Stale sweep failed: %v", err)
		return
	}

	for _, session := range stale {
		endedAt := time.Now()
		err := s.sessionRepo.Close(ctx, session.ID, session.BytesSent, session.BytesReceived, endedAt, models.SessionEndedByTimeout)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				log.Printf("[Session] Failed to reap session %s: %v", session.ID, err)
			}
			continue
		}
		session.EndedAt = &endedAt
		s.finishTeardown(ctx, session)
		log.Printf("[Session] Reaped stale session %s (last seen %s)", session.ID, session.LastSeenAt.Format(time.RFC3339))
	}
}

// ReconcileLoads recomputes every server's load from counted sessions
func (s *SessionService) ReconcileLoads(ctx context.Context) {
	if _, err := s.serverRepo.ReconcileLoads(ctx); err != nil {
		log.Printf("[Session] Load reconcile failed: %v", err)
	}
}

// candidateServers resolves the connect request to an ordered server list.
// An explicit server_id pins the choice; otherwise active servers matching
// tier and location, falling back to all locations when the requested one
// has nothing.
func (s *SessionService) candidateServers(ctx context.Context, ent *models.Entitlement, req *models.ConnectRequest) ([]*models.Server, error) {
	if req.ServerID != "" {
		srv, err := s.serverRepo.GetByID(ctx, req.ServerID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.New(apperr.KindNotFound, "server not found")
			}
			return nil, apperr.Wrap(apperr.KindInternal, "failed to load server", err)
		}
		if srv.Status != models.ServerStatusActive {
			return nil, apperr.New(apperr.KindNoCapacity, "server is not accepting sessions")
		}
		if !srv.AcceptsTier(ent.Tier) {
			return nil, apperr.New(apperr.KindPremiumRequired, "a paid subscription is required for this server").
				WithDetail("required_tier", models.TierPaid)
		}
		return []*models.Server{srv}, nil
	}

	tierFilter := ""
	if req.WantPremium {
		tierFilter = models.TierPaid
	}

	servers, err := s.serverRepo.List(ctx, repository.ServerFilter{
		Location: req.Location,
		Tier:     tierFilter,
		Status:   models.ServerStatusActive,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list servers", err)
	}

	candidates := filterByTier(servers, ent.Tier)
	if len(candidates) == 0 && req.Location != "" {
		// Requested location has nothing usable; widen to all locations
		servers, err = s.serverRepo.List(ctx, repository.ServerFilter{
			Tier:   tierFilter,
			Status: models.ServerStatusActive,
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInternal, "failed to list servers", err)
		}
		candidates = filterByTier(servers, ent.Tier)
	}
	return candidates, nil
}

// finishTeardown releases the server slot and finalizes usage accounting
func (s *SessionService) finishTeardown(ctx context.Context, session *models.Session) {
	if session.ServerID != nil {
		if srv, err := s.serverRepo.GetByID(ctx, *session.ServerID); err == nil {
			s.adjustLoad(ctx, srv, -1)
		}
	}

	endedAt := time.Now()
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	dataMB := float64(session.BytesSent+session.BytesReceived) / (1024 * 1024)
	if err := s.usageRepo.Close(ctx, session.ID, endedAt, dataMB); err != nil {
		log.Printf("[Session] Failed to close usage log for %s: %v", session.ID, err)
	}
}

// closeWithRetry retries transient store errors with exponential backoff;
// ErrNotFound is the idempotency signal and is returned as-is
func (s *SessionService) closeWithRetry(ctx context.Context, id string, sent, received int64, endedAt time.Time, endedBy string) error {
	var err error
	for attempt := 0; attempt < closeRetries; attempt++ {
		err = s.sessionRepo.Close(ctx, id, sent, received, endedAt, endedBy)
		if err == nil || errors.Is(err, repository.ErrNotFound) {
			return err
		}
		backoff := time.Duration(1<<attempt) * 100 * time.Millisecond
		log.Printf("[Session] Close attempt %d for %s failed, retrying in %s: %v", attempt+1, id, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *SessionService) adjustLoad(ctx context.Context, srv *models.Server, direction float64) {
	if srv.MaxConnections <= 0 {
		return
	}
	delta := direction / float64(srv.MaxConnections)
	if err := s.serverRepo.AdjustLoad(ctx, srv.ID, delta); err != nil {
		log.Printf("[Session] Failed to adjust load for server %s: %v", srv.ID, err)
	}
}

// summarize builds the disconnect summary from a closed session row
func (s *SessionService) summarize(ctx context.Context, session *models.Session) *models.DisconnectResponse {
	duration := session.Duration(time.Now())
	totalBytes := session.BytesSent + session.BytesReceived

	resp := &models.DisconnectResponse{
		SessionID:         session.ID,
		DurationSeconds:   int64(duration.Seconds()),
		DurationFormatted: formatDuration(duration),
		BytesSent:         session.BytesSent,
		BytesReceived:     session.BytesReceived,
		TotalBytes:        totalBytes,
		TotalDataMB:       float64(totalBytes) / (1024 * 1024),
		AvgSpeedMbps:      avgSpeedMbps(totalBytes, duration),
	}

	if session.ServerID != nil {
		if srv, err := s.serverRepo.GetByID(ctx, *session.ServerID); err == nil {
			resp.ServerLocation = srv.Location
		}
	}
	return resp
}

// requireOwner hides foreign sessions behind not-found so session IDs
// cannot be probed for existence
func requireOwner(session *models.Session, subscriberID string) error {
	if session.SubscriberID != subscriberID {
		return apperr.New(apperr.KindNotFound, "session not found")
	}
	return nil
}

// alreadyConnectedErr builds the conflict error, carrying the open
// session's ID when it is known
func alreadyConnectedErr(winner *models.Session) error {
	conflict := apperr.New(apperr.KindAlreadyConnected, "a session is already connected")
	if winner != nil {
		conflict = conflict.WithDetail("session_id", winner.ID)
	}
	return conflict
}

func filterByTier(servers []*models.Server, tier string) []*models.Server {
	out := servers[:0:0]
	for _, srv := range servers {
		if srv.AcceptsTier(tier) {
			out = append(out, srv)
		}
	}
	return out
}

func serverInfo(srv *models.Server) models.ServerInfo {
	return models.ServerInfo{
		ServerID:       srv.ID,
		Hostname:       srv.Hostname,
		Location:       srv.Location,
		Tier:           srv.Tier,
		Status:         srv.Status,
		CurrentLoad:    srv.CurrentLoad,
		PingMs:         srv.Ping,
		MaxConnections: srv.MaxConnections,
	}
}

func tierSummary(ent *models.Entitlement) *models.TierSummary {
	ts := &models.TierSummary{Tier: ent.Tier}
	if ent.ExpiresAt != nil {
		ts.ExpiresAt = ent.ExpiresAt.Format(time.RFC3339)
	}
	return ts
}

// avgSpeedMbps computes the mean throughput in megabits per second
func avgSpeedMbps(totalBytes int64, duration time.Duration) float64 {
	seconds := duration.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(totalBytes) * 8 / seconds / 1e6
}

// formatDuration renders HH:MM:SS; hours grow past two digits if needed
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
