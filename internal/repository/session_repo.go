package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

// ErrAlreadyConnected is returned when the partial unique index on
// sessions(subscriber_id) where status='connected' rejects a second open
// session for the same subscriber.
var ErrAlreadyConnected = errors.New("subscriber already has a connected session")

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `
	id, subscriber_id, server_id, client_address, client_public_key, status,
	bytes_sent, bytes_received, started_at, ended_at, last_seen_at, ended_by`

// Create inserts a connected session. The partial unique index is the
// serialization point between concurrent connects for one subscriber.
func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO sessions (
			id, subscriber_id, server_id, client_address, client_public_key,
			status, bytes_sent, bytes_received, started_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		s.ID, s.SubscriberID, s.ServerID, s.ClientAddress, s.ClientPublicKey,
		s.Status, s.BytesSent, s.BytesReceived, s.StartedAt, s.LastSeenAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyConnected
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetByID retrieves a session
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT` + sessionColumns + `FROM sessions WHERE id = $1`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetConnectedBySubscriber returns the subscriber's open session, if any
func (r *SessionRepository) GetConnectedBySubscriber(ctx context.Context, subscriberID string) (*models.Session, error) {
	query := `SELECT` + sessionColumns + `FROM sessions WHERE subscriber_id = $1 AND status = 'connected'`
	return r.scanSession(r.pool.QueryRow(ctx, query, subscriberID))
}

// GetLatestBySubscriber returns the most recent session regardless of status
func (r *SessionRepository) GetLatestBySubscriber(ctx context.Context, subscriberID string) (*models.Session, error) {
	query := `
		SELECT` + sessionColumns + `
		FROM sessions
		WHERE subscriber_id = $1
		ORDER BY started_at DESC
		LIMIT 1
	`
	return r.scanSession(r.pool.QueryRow(ctx, query, subscriberID))
}

// ListLeasedAddresses returns the in-tunnel addresses of open sessions on a
// server; used by the allocator to skip taken addresses
func (r *SessionRepository) ListLeasedAddresses(ctx context.Context, serverID string) ([]string, error) {
	query := `SELECT client_address FROM sessions WHERE server_id = $1 AND status = 'connected'`
	rows, err := r.pool.Query(ctx, query, serverID)
	if err != nil {
		return nil, fmt.Errorf("query leased addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, fmt.Errorf("scan leased address: %w", err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, rows.Err()
}

// CountConnectedByServer counts open sessions on a server
func (r *SessionRepository) CountConnectedByServer(ctx context.Context, serverID string) (int, error) {
	var n int
	query := `SELECT count(*) FROM sessions WHERE server_id = $1 AND status = 'connected'`
	if err := r.pool.QueryRow(ctx, query, serverID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count server sessions: %w", err)
	}
	return n, nil
}

// CountConnected counts all open sessions (operator dashboard)
func (r *SessionRepository) CountConnected(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM sessions WHERE status = 'connected'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return n, nil
}

// Close finalizes a session with the client-reported counters. Guarded on
// status='connected' so a second close is a no-op (reported via ErrNotFound).
func (r *SessionRepository) Close(ctx context.Context, id string, bytesSent, bytesReceived int64, endedAt time.Time, endedBy string) error {
	query := `
		UPDATE sessions
		SET status = 'disconnected', bytes_sent = $2, bytes_received = $3,
		    ended_at = $4, ended_by = $5
		WHERE id = $1 AND status = 'connected'
	`
	tag, err := r.pool.Exec(ctx, query, id, bytesSent, bytesReceived, endedAt, endedBy)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Touch records a heartbeat on an open session
func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE sessions SET last_seen_at = $2 WHERE id = $1 AND status = 'connected'`
	_, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// ListStale returns open sessions whose last heartbeat is older than the
// threshold; the reaper force-disconnects these
func (r *SessionRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT` + sessionColumns + `
		FROM sessions
		WHERE status = 'connected' AND last_seen_at < $1
		ORDER BY last_seen_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		err := rows.Scan(
			&s.ID, &s.SubscriberID, &s.ServerID, &s.ClientAddress, &s.ClientPublicKey, &s.Status,
			&s.BytesSent, &s.BytesReceived, &s.StartedAt, &s.EndedAt, &s.LastSeenAt, &s.EndedBy,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) scanSession(row pgx.Row) (*models.Session, error) {
	s := &models.Session{}
	err := row.Scan(
		&s.ID, &s.SubscriberID, &s.ServerID, &s.ClientAddress, &s.ClientPublicKey, &s.Status,
		&s.BytesSent, &s.BytesReceived, &s.StartedAt, &s.EndedAt, &s.LastSeenAt, &s.EndedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

// ==================== Usage log ====================

type UsageRepository struct {
	pool *pgxpool.Pool
}

func NewUsageRepository(pool *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{pool: pool}
}

// Open appends a usage-log row at connect time
func (r *UsageRepository) Open(ctx context.Context, entry *models.UsageLog) error {
	query := `
		INSERT INTO usage_logs (id, subscriber_id, server_id, session_id, connected_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query,
		entry.ID, entry.SubscriberID, entry.ServerID, entry.SessionID, entry.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("open usage log: %w", err)
	}
	return nil
}

// Close finalizes the usage-log row for a session with the transferred data
func (r *UsageRepository) Close(ctx context.Context, sessionID string, disconnectedAt time.Time, dataMB float64) error {
	query := `
		UPDATE usage_logs
		SET disconnected_at = $2, data_mb = $3
		WHERE session_id = $1 AND disconnected_at IS NULL
	`
	_, err := r.pool.Exec(ctx, query, sessionID, disconnectedAt, dataMB)
	if err != nil {
		return fmt.Errorf("close usage log: %w", err)
	}
	return nil
}
