package protect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// BanRecord is the ephemeral ban entry keyed by IP in the kv store.
type BanRecord struct {
	Reason    string    `json:"reason"`
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining returns the ban TTL left at now.
func (b *BanRecord) Remaining(now time.Time) time.Duration {
	if d := b.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Store is the counter/ban backend. Counters are sliding windows of
// timestamped events; entries outside the window are evicted lazily on read.
type Store interface {
	// Count returns the number of events for key within the trailing window.
	Count(ctx context.Context, key string, window time.Duration) (int, error)
	// Record appends an event for key and refreshes the key TTL to window.
	Record(ctx context.Context, key string, window time.Duration) error
	// SetBan writes a ban record with the given TTL.
	SetBan(ctx context.Context, ip, reason string, ttl time.Duration) error
	// GetBan returns the unexpired ban for ip, or nil.
	GetBan(ctx context.Context, ip string) (*BanRecord, error)
}

// ==================== Redis store ====================

// RedisStore keeps counters in sorted sets scored by unix-nano timestamps
// and bans as JSON values under a TTL'd key.
type RedisStore struct {
	client *redis.Client
	seq    atomic.Uint64 // disambiguates events recorded in the same nanosecond
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("count %s: %w", key, err)
	}
	return int(card.Val()), nil
}

func (s *RedisStore) Record(ctx context.Context, key string, window time.Duration) error {
	now := time.Now().UnixNano()
	member := strconv.FormatInt(now, 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetBan(ctx context.Context, ip, reason string, ttl time.Duration) error {
	now := time.Now()
	record := BanRecord{Reason: reason, BannedAt: now, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal ban: %w", err)
	}
	if err := s.client.SetEx(ctx, banKey(ip), payload, ttl).Err(); err != nil {
		return fmt.Errorf("set ban %s: %w", SanitizeForLog(ip), err)
	}
	return nil
}

func (s *RedisStore) GetBan(ctx context.Context, ip string) (*BanRecord, error) {
	payload, err := s.client.Get(ctx, banKey(ip)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ban: %w", err)
	}
	record := &BanRecord{}
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, fmt.Errorf("unmarshal ban: %w", err)
	}
	return record, nil
}

func banKey(ip string) string { return "ban:" + ip }

// ==================== In-memory store ====================

// MemoryStore is the single-process fallback with the same TTL semantics.
// Counter windows follow the in-memory limiter we ran before Redis; bans
// ride on go-cache's per-item expiry.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
	bans   *gocache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]time.Time),
		bans:   gocache.New(gocache.NoExpiration, time.Minute),
	}
}

func (s *MemoryStore) Count(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := time.Now().Add(-window)
	valid := s.events[key][:0]
	for _, t := range s.events[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(s.events, key)
	} else {
		s.events[key] = valid
	}
	return len(valid), nil
}

func (s *MemoryStore) Record(_ context.Context, key string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[key] = append(s.events[key], time.Now())
	return nil
}

func (s *MemoryStore) SetBan(_ context.Context, ip, reason string, ttl time.Duration) error {
	now := time.Now()
	record := &BanRecord{Reason: reason, BannedAt: now, ExpiresAt: now.Add(ttl)}
	s.bans.Set(banKey(ip), record, ttl)
	return nil
}

func (s *MemoryStore) GetBan(_ context.Context, ip string) (*BanRecord, error) {
	v, ok := s.bans.Get(banKey(ip))
	if !ok {
		return nil, nil
	}
	return v.(*BanRecord), nil
}

// ==================== Failover ====================

// FailoverStore serves from the primary store and falls back to the
// secondary when the primary errors, so protection degrades to
// single-process behavior instead of turning off when Redis is down.
type FailoverStore struct {
	primary  Store
	fallback Store
}

func NewFailoverStore(primary, fallback Store) *FailoverStore {
	return &FailoverStore{primary: primary, fallback: fallback}
}

func (s *FailoverStore) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	n, err := s.primary.Count(ctx, key, window)
	if err != nil {
		log.Printf("[protect] kv store count failed, using in-memory fallback: %v", err)
		return s.fallback.Count(ctx, key, window)
	}
	return n, nil
}

func (s *FailoverStore) Record(ctx context.Context, key string, window time.Duration) error {
	if err := s.primary.Record(ctx, key, window); err != nil {
		log.Printf("[protect] kv store record failed, using in-memory fallback: %v", err)
		return s.fallback.Record(ctx, key, window)
	}
	return nil
}

func (s *FailoverStore) SetBan(ctx context.Context, ip, reason string, ttl time.Duration) error {
	if err := s.primary.SetBan(ctx, ip, reason, ttl); err != nil {
		log.Printf("[protect] kv store ban failed, using in-memory fallback: %v", err)
		return s.fallback.SetBan(ctx, ip, reason, ttl)
	}
	return nil
}

func (s *FailoverStore) GetBan(ctx context.Context, ip string) (*BanRecord, error) {
	record, err := s.primary.GetBan(ctx, ip)
	if err != nil {
		log.Printf("[protect] kv store ban lookup failed, using in-memory fallback: %v", err)
		return s.fallback.GetBan(ctx, ip)
	}
	return record, nil
}
