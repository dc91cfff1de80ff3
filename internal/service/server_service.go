package service

import (
	"context"
	"errors"
	"log"
	"net/netip"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
	"github.com/wenwu/saas-platform/vpn-core/internal/repository"
)

// ServerService is the operator surface for the tunnel node registry
type ServerService struct {
	serverRepo *repository.ServerRepository
}

// NewServerService creates a new server service
func NewServerService(serverRepo *repository.ServerRepository) *ServerService {
	return &ServerService{serverRepo: serverRepo}
}

// Create registers a tunnel node
func (s *ServerService) Create(ctx context.Context, req *models.CreateServerRequest) (*models.Server, error) {
	tier := req.Tier
	if tier == "" {
		tier = models.TierFree
	}
	if tier != models.TierFree && tier != models.TierPaid {
		return nil, apperr.Newf(apperr.KindInvalidInput, "unknown tier %q", tier)
	}

	if _, err := netip.ParsePrefix(req.TunnelPrefix); err != nil {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid tunnel prefix %q", req.TunnelPrefix)
	}
	if _, err := netip.ParseAddr(req.TunnelAddress); err != nil {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid tunnel address %q", req.TunnelAddress)
	}
	if req.Port <= 0 || req.Port > 65535 {
		return nil, apperr.Newf(apperr.KindInvalidInput, "invalid port %d", req.Port)
	}

	maxConns := req.MaxConnections
	if maxConns <= 0 {
		maxConns = 100
	}

	srv := &models.Server{
		ID:             uuid.New().String(),
		Hostname:       req.Hostname,
		Location:       req.Location,
		Endpoint:       req.Endpoint,
		Port:           req.Port,
		PublicKey:      req.PublicKey,
		TunnelAddress:  req.TunnelAddress,
		TunnelPrefix:   req.TunnelPrefix,
		AllowedIPs:     req.AllowedIPs,
		Tier:           tier,
		Status:         models.ServerStatusActive,
		MaxConnections: maxConns,
	}

	if err := s.serverRepo.Create(ctx, srv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.New(apperr.KindAlreadyExists, "a server with this hostname already exists")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create server", err)
	}

	log.Printf("[Registry] Server registered: %s (%s, %s)", srv.Hostname, srv.Location, srv.Tier)
	return srv, nil
}

// List returns all servers matching the filter, including non-active ones
func (s *ServerService) List(ctx context.Context, filter repository.ServerFilter) ([]*models.Server, error) {
	servers, err := s.serverRepo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list servers", err)
	}
	return servers, nil
}

// Get retrieves one server
func (s *ServerService) Get(ctx context.Context, id string) (*models.Server, error) {
	srv, err := s.serverRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "server not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load server", err)
	}
	return srv, nil
}

// Update applies non-zero fields from the request to the server row
func (s *ServerService) Update(ctx context.Context, id string, req *models.UpdateServerRequest) (*models.Server, error) {
	srv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Hostname != "" {
		srv.Hostname = req.Hostname
	}
	if req.Location != "" {
		srv.Location = req.Location
	}
	if req.Endpoint != "" {
		srv.Endpoint = req.Endpoint
	}
	if req.Port > 0 {
		srv.Port = req.Port
	}
	if req.Status != "" {
		switch req.Status {
		case models.ServerStatusActive, models.ServerStatusMaintenance, models.ServerStatusOffline:
			srv.Status = req.Status
		default:
			return nil, apperr.Newf(apperr.KindInvalidInput, "unknown status %q", req.Status)
		}
	}
	if req.Tier != "" {
		if req.Tier != models.TierFree && req.Tier != models.TierPaid {
			return nil, apperr.Newf(apperr.KindInvalidInput, "unknown tier %q", req.Tier)
		}
		srv.Tier = req.Tier
	}
	if req.Ping > 0 {
		srv.Ping = req.Ping
	}
	if req.MaxConnections > 0 {
		srv.MaxConnections = req.MaxConnections
	}
	if len(req.AllowedIPs) > 0 {
		srv.AllowedIPs = req.AllowedIPs
	}

	if err := s.serverRepo.Update(ctx, srv); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "server not found")
		}
		return nil, apperr.Wrap(apperr.KindInternal, "failed to update server", err)
	}
	return srv, nil
}

// Delete removes a server. Servers still referenced by sessions are moved to
// offline instead, keeping historical session rows resolvable.
func (s *ServerService) Delete(ctx context.Context, id string) (removed bool, err error) {
	referenced, err := s.serverRepo.HasSessions(ctx, id)
	if err != nil {
		return false, apperr.Wrap(apperr.KindInternal, "failed to check server sessions", err)
	}

	if referenced {
		if err := s.serverRepo.SetStatus(ctx, id, models.ServerStatusOffline); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return false, apperr.New(apperr.KindNotFound, "server not found")
			}
			return false, apperr.Wrap(apperr.KindInternal, "failed to retire server", err)
		}
		log.Printf("[Registry] Server %s has session history, set offline instead of deleted", id)
		return false, nil
	}

	if err := s.serverRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, apperr.New(apperr.KindNotFound, "server not found")
		}
		return false, apperr.Wrap(apperr.KindInternal, "failed to delete server", err)
	}
	log.Printf("[Registry] Server %s deleted", id)
	return true, nil
}
