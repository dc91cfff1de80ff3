package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

type ServerRepository struct {
	pool *pgxpool.Pool
}

func NewServerRepository(pool *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{pool: pool}
}

const serverColumns = `
	id, hostname, location, endpoint, port, public_key, tunnel_address, tunnel_prefix,
	allowed_ips, tier, status, current_load, ping, max_connections, created_at, updated_at`

// ServerFilter narrows List results; zero values mean no filtering
type ServerFilter struct {
	Location string
	Tier     string
	Status   string
}

// List returns servers matching the filter, ordered by load then ping then id
// so that selection is deterministic under ties
func (r *ServerRepository) List(ctx context.Context, filter ServerFilter) ([]*models.Server, error) {
	query := `SELECT` + serverColumns + `
		FROM servers
		WHERE ($1 = '' OR location = $1)
		  AND ($2 = '' OR tier = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY current_load ASC, ping ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, filter.Location, filter.Tier, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	return r.scanServers(rows)
}

// GetByID retrieves a server
func (r *ServerRepository) GetByID(ctx context.Context, id string) (*models.Server, error) {
	query := `SELECT` + serverColumns + `FROM servers WHERE id = $1`
	return r.scanServer(r.pool.QueryRow(ctx, query, id))
}

// Create registers a tunnel node
func (r *ServerRepository) Create(ctx context.Context, srv *models.Server) error {
	query := `
		INSERT INTO servers (
			id, hostname, location, endpoint, port, public_key, tunnel_address,
			tunnel_prefix, allowed_ips, tier, status, current_load, ping, max_connections
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.pool.Exec(ctx, query,
		srv.ID, srv.Hostname, srv.Location, srv.Endpoint, srv.Port, srv.PublicKey,
		srv.TunnelAddress, srv.TunnelPrefix, srv.AllowedIPs, srv.Tier, srv.Status,
		srv.CurrentLoad, srv.Ping, srv.MaxConnections,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert server: %w", err)
	}
	return nil
}

// Update mutates a server row
func (r *ServerRepository) Update(ctx context.Context, srv *models.Server) error {
	query := `
		UPDATE servers SET
			hostname = $2, location = $3, endpoint = $4, port = $5, public_key = $6,
			tunnel_address = $7, tunnel_prefix = $8, allowed_ips = $9, tier = $10,
			status = $11, ping = $12, max_connections = $13, updated_at = now()
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		srv.ID, srv.Hostname, srv.Location, srv.Endpoint, srv.Port, srv.PublicKey,
		srv.TunnelAddress, srv.TunnelPrefix, srv.AllowedIPs, srv.Tier,
		srv.Status, srv.Ping, srv.MaxConnections,
	)
	if err != nil {
		return fmt.Errorf("update server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HasSessions reports whether any session row references the server
func (r *ServerRepository) HasSessions(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE server_id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check server sessions: %w", err)
	}
	return exists, nil
}

// Delete removes a server row; callers must check HasSessions first and fall
// back to SetStatus offline when sessions still reference it
func (r *ServerRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM servers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus changes only the lifecycle status
func (r *ServerRepository) SetStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE servers SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set server status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustLoad applies a delta to current_load with an atomic read-modify-write,
// clamped to [0.0, 1.0]
func (r *ServerRepository) AdjustLoad(ctx context.Context, id string, delta float64) error {
	query := `
		UPDATE servers
		SET current_load = GREATEST(0.0, LEAST(1.0, current_load + $2)), updated_at = now()
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("adjust load: %w", err)
	}
	return nil
}

// ReconcileLoads recomputes current_load from counted open sessions for every
// server, correcting drift between the atomic adjustments and reality
func (r *ServerRepository) ReconcileLoads(ctx context.Context) (int64, error) {
	query := `
		UPDATE servers s
		SET current_load = LEAST(1.0, (
			SELECT count(*)::float8 / GREATEST(s.max_connections, 1)
			FROM sessions
			WHERE sessions.server_id = s.id AND sessions.status = 'connected'
		)), updated_at = now()
	`
	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("reconcile loads: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountActive returns the number of servers accepting sessions
func (r *ServerRepository) CountActive(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM servers WHERE status = 'active'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count servers: %w", err)
	}
	return n, nil
}

func (r *ServerRepository) scanServer(row pgx.Row) (*models.Server, error) {
	srv := &models.Server{}
	err := row.Scan(
		&srv.ID, &srv.Hostname, &srv.Location, &srv.Endpoint, &srv.Port, &srv.PublicKey,
		&srv.TunnelAddress, &srv.TunnelPrefix, &srv.AllowedIPs, &srv.Tier, &srv.Status,
		&srv.CurrentLoad, &srv.Ping, &srv.MaxConnections, &srv.CreatedAt, &srv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	return srv, nil
}

func (r *ServerRepository) scanServers(rows pgx.Rows) ([]*models.Server, error) {
	var servers []*models.Server
	for rows.Next() {
		srv := &models.Server{}
		err := rows.Scan(
			&srv.ID, &srv.Hostname, &srv.Location, &srv.Endpoint, &srv.Port, &srv.PublicKey,
			&srv.TunnelAddress, &srv.TunnelPrefix, &srv.AllowedIPs, &srv.Tier, &srv.Status,
			&srv.CurrentLoad, &srv.Ping, &srv.MaxConnections, &srv.CreatedAt, &srv.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan server row: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}
