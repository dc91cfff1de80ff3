package protect

import (
	"context"
	"log"
	"time"

	"github.com/wenwu/saas-platform/vpn-core/internal/config"
	"github.com/wenwu/saas-platform/vpn-core/internal/metrics"
)

// Ban reasons written into the kv store
const (
	BanReasonDDoS       = "ddos"
	BanReasonSuspicious = "suspicious_activity"
	BanReasonManual     = "manual"
)

// Decision is the outcome of the protection checks for one request.
type Decision struct {
	Allowed    bool
	Banned     bool
	Reason     string
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	Reset      time.Time
}

// Guard fronts every operation with, in order: ban check, DDoS tracking,
// endpoint rate limit, per-IP global cap, process-wide cap. The first
// failing check short-circuits. Whitelisted IPs and superusers bypass all
// of it.
type Guard struct {
	store     Store
	rate      config.RateLimitConfig
	ddos      config.DDoSConfig
	whitelist *Whitelist
}

func NewGuard(store Store, rate config.RateLimitConfig, ddos config.DDoSConfig) *Guard {
	return &Guard{
		store:     store,
		rate:      rate,
		ddos:      ddos,
		whitelist: NewWhitelist(ddos.Whitelist),
	}
}

// Bypassed reports whether the caller skips both subsystems entirely.
func (g *Guard) Bypassed(ip string, superuser bool) bool {
	return superuser || g.whitelist.Contains(ip)
}

// Check runs the full precedence chain. identity is the subscriber ID for
// authenticated endpoints, empty otherwise; when present the endpoint limit
// is enforced per-IP and per-identity independently.
func (g *Guard) Check(ctx context.Context, ip, identity string, class EndpointClass) (*Decision, error) {
	now := time.Now()

	// 1. Ban check
	if g.ddos.Enabled {
		ban, err := g.store.GetBan(ctx, ip)
		if err != nil {
			return nil, err
		}
		if ban != nil && ban.Remaining(now) > 0 {
			return &Decision{
				Banned:     true,
				Reason:     ban.Reason,
				RetryAfter: ban.Remaining(now),
			}, nil
		}

		// 2. DDoS threshold over all requests in the last minute
		ddosKey := "ddos:" + ip
		count, err := g.store.Count(ctx, ddosKey, time.Minute)
		if err != nil {
			return nil, err
		}
		if count >= g.ddos.Threshold {
			if err := g.store.SetBan(ctx, ip, BanReasonDDoS, g.ddos.BanDuration); err != nil {
				log.Printf("[protect] failed to write ddos ban for %s: %v", SanitizeForLog(ip), err)
			}
			metrics.BansTotal.WithLabelValues(BanReasonDDoS).Inc()
			log.Printf("[protect] IP banned for DDoS activity: %s (%d req/min)", SanitizeForLog(ip), count)
			return &Decision{
				Banned:     true,
				Reason:     BanReasonDDoS,
				RetryAfter: g.ddos.BanDuration,
			}, nil
		}
		if err := g.store.Record(ctx, ddosKey, time.Minute); err != nil {
			return nil, err
		}
	}

	if !g.rate.Enabled {
		return &Decision{Allowed: true}, nil
	}

	policy := PolicyFor(class)

	// 3. Endpoint rate limit, per-IP and (if known) per-identity
	keys := []string{"rl:" + string(class) + ":ip:" + ip}
	if identity != "" {
		keys = append(keys, "rl:"+string(class)+":sub:"+identity)
	}
	remaining := policy.Cap()
	for _, key := range keys {
		count, err := g.store.Count(ctx, key, policy.Window)
		if err != nil {
			return nil, err
		}
		if count >= policy.Cap() {
			return &Decision{
				Reason:     "rate_limited",
				RetryAfter: policy.Window,
				Limit:      policy.Limit,
				Remaining:  0,
				Reset:      now.Add(policy.Window),
			}, nil
		}
		if left := policy.Cap() - count - 1; left < remaining {
			remaining = left
		}
	}

	// 4. Global per-IP cap across all endpoints
	ipCount, err := g.store.Count(ctx, "ip:"+ip, time.Minute)
	if err != nil {
		return nil, err
	}
	if ipCount >= g.rate.IPLimit {
		return &Decision{
			Reason:     "ip_cap",
			RetryAfter: time.Minute,
			Limit:      g.rate.IPLimit,
			Reset:      now.Add(time.Minute),
		}, nil
	}

	// 5. Process-wide cap
	globalCount, err := g.store.Count(ctx, "global", time.Minute)
	if err != nil {
		return nil, err
	}
	if globalCount >= g.rate.GlobalLimit {
		return &Decision{
			Reason:     "global_cap",
			RetryAfter: time.Minute,
			Limit:      g.rate.GlobalLimit,
			Reset:      now.Add(time.Minute),
		}, nil
	}

	// Admitted: record against every counter
	for _, key := range keys {
		if err := g.store.Record(ctx, key, policy.Window); err != nil {
			return nil, err
		}
	}
	if err := g.store.Record(ctx, "ip:"+ip, time.Minute); err != nil {
		return nil, err
	}
	if err := g.store.Record(ctx, "global", time.Minute); err != nil {
		return nil, err
	}

	return &Decision{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: remaining,
		Reset:     now.Add(policy.Window),
	}, nil
}

// RecordAuthFailure feeds the suspicious-activity counter; crossing the
// threshold bans the IP for the shorter suspicious duration.
func (g *Guard) RecordAuthFailure(ctx context.Context, ip string) {
	if !g.ddos.Enabled || g.whitelist.Contains(ip) {
		return
	}

	key := "suspect:" + ip
	if err := g.store.Record(ctx, key, g.ddos.SuspiciousWindow); err != nil {
		log.Printf("[protect] failed to record auth failure for %s: %v", SanitizeForLog(ip), err)
		return
	}
	count, err := g.store.Count(ctx, key, g.ddos.SuspiciousWindow)
	if err != nil {
		log.Printf("[protect] failed to count auth failures for %s: %v", SanitizeForLog(ip), err)
		return
	}
	if count > g.ddos.SuspiciousThreshold {
		if err := g.store.SetBan(ctx, ip, BanReasonSuspicious, g.ddos.SuspiciousBan); err != nil {
			log.Printf("[protect] failed to write suspicious ban for %s: %v", SanitizeForLog(ip), err)
			return
		}
		metrics.BansTotal.WithLabelValues(BanReasonSuspicious).Inc()
		log.Printf("[protect] IP banned for suspicious activity: %s (%d failures)", SanitizeForLog(ip), count)
	}
}
