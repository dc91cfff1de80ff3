package protect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wenwu/saas-platform/vpn-core/internal/config"
)

func testGuard(t *testing.T, rate config.RateLimitConfig, ddos config.DDoSConfig) *Guard {
	t.Helper()
	return NewGuard(NewMemoryStore(), rate, ddos)
}

func permissiveRate() config.RateLimitConfig {
	return config.RateLimitConfig{Enabled: true, GlobalLimit: 1000, IPLimit: 100}
}

func permissiveDDoS() config.DDoSConfig {
	return config.DDoSConfig{
		Enabled:             true,
		Threshold:           500,
		BanDuration:         time.Hour,
		SuspiciousThreshold: 50,
		SuspiciousWindow:    5 * time.Minute,
		SuspiciousBan:       30 * time.Minute,
	}
}

func TestGuardAllowsUnderLimit(t *testing.T) {
	g := testGuard(t, permissiveRate(), permissiveDDoS())
	ctx := context.Background()

	d, err := g.Check(ctx, "203.0.113.5", "", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, d.Banned)
	assert.Equal(t, PolicyFor(ClassGeneral).Limit, d.Limit)
	assert.Equal(t, PolicyFor(ClassGeneral).Cap()-1, d.Remaining)
}

func TestGuardEnforcesEndpointCap(t *testing.T) {
	g := testGuard(t, permissiveRate(), permissiveDDoS())
	ctx := context.Background()

	cap := PolicyFor(ClassAuthLogin).Cap()
	for i := 0; i < cap; i++ {
		d, err := g.Check(ctx, "203.0.113.5", "", ClassAuthLogin)
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
	}

	d, err := g.Check(ctx, "203.0.113.5", "", ClassAuthLogin)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Banned)
	assert.Equal(t, "rate_limited", d.Reason)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, PolicyFor(ClassAuthLogin).Window, d.RetryAfter)
}

func TestGuardEndpointCapPerIdentity(t *testing.T) {
	g := testGuard(t, permissiveRate(), permissiveDDoS())
	ctx := context.Background()

	// Exhaust the identity counter from one IP, then the same identity
	// from a fresh IP must still be refused.
	cap := PolicyFor(ClassVPNConnect).Cap()
	for i := 0; i < cap; i++ {
		d, err := g.Check(ctx, "203.0.113.5", "sub-1", ClassVPNConnect)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := g.Check(ctx, "198.51.100.7", "sub-1", ClassVPNConnect)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "rate_limited", d.Reason)

	// A different identity from the second IP is unaffected
	d, err = g.Check(ctx, "198.51.100.7", "sub-2", ClassVPNConnect)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGuardPerIPCap(t *testing.T) {
	rate := permissiveRate()
	rate.IPLimit = 3
	g := testGuard(t, rate, permissiveDDoS())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := g.Check(ctx, "203.0.113.5", "", ClassGeneral)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := g.Check(ctx, "203.0.113.5", "", ClassGeneral)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "ip_cap", d.Reason)

	// Other IPs are unaffected by one IP hitting its cap
	d, err = g.Check(ctx, "198.51.100.7", "", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGuardGlobalCap(t *testing.T) {
	rate := permissiveRate()
	rate.GlobalLimit = 2
	g := testGuard(t, rate, permissiveDDoS())
	ctx := context.Background()

	d, err := g.Check(ctx, "203.0.113.1", "", ClassGeneral)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	d, err = g.Check(ctx, "203.0.113.2", "", ClassGeneral)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = g.Check(ctx, "203.0.113.3", "", ClassGeneral)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "global_cap", d.Reason)
}

func TestGuardDDoSBan(t *testing.T) {
	ddos := permissiveDDoS()
	ddos.Threshold = 5
	g := testGuard(t, permissiveRate(), ddos)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := g.Check(ctx, "203.0.113.5", "", ClassGeneral)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// Crossing the threshold bans, and the ban persists on later checks
	d, err := g.Check(ctx, "203.0.113.5", "", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, d.Banned)
	assert.Equal(t, BanReasonDDoS, d.Reason)
	assert.Equal(t, ddos.BanDuration, d.RetryAfter)

	d, err = g.Check(ctx, "203.0.113.5", "", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, d.Banned)
	assert.Equal(t, BanReasonDDoS, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestGuardManualBanPrecedesEverything(t *testing.T) {
	g := testGuard(t, permissiveRate(), permissiveDDoS())
	ctx := context.Background()

	require.NoError(t, g.store.SetBan(ctx, "203.0.113.5", BanReasonManual, time.Hour))

	d, err := g.Check(ctx, "203.0.113.5", "", ClassGeneral)
	require.NoError(t, err)
	assert.True(t, d.Banned)
	assert.Equal(t, BanReasonManual, d.Reason)
}

func TestGuardDisabledSubsystems(t *testing.T) {
	g := testGuard(t,
		config.RateLimitConfig{Enabled: false},
		config.DDoSConfig{Enabled: false},
	)
	ctx := context.Background()

	// With both subsystems off every request is admitted
	for i := 0; i < 100; i++ {
		d, err := g.Check(ctx, "203.0.113.5", "", ClassAuthLogin)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}

func TestGuardBypassed(t *testing.T) {
	ddos := permissiveDDoS()
	ddos.Whitelist = []string{"10.0.0.1", "192.168.0.0/16"}
	g := testGuard(t, permissiveRate(), ddos)

	tests := []struct {
		name      string
		ip        string
		superuser bool
		want      bool
	}{
		{"superuser bypasses", "203.0.113.5", true, true},
		{"whitelisted ip", "10.0.0.1", false, true},
		{"whitelisted cidr member", "192.168.4.20", false, true},
		{"ordinary ip", "203.0.113.5", false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, g.Bypassed(tc.ip, tc.superuser))
		})
	}
}

func TestRecordAuthFailureBansAfterThreshold(t *testing.T) {
	ddos := permissiveDDoS()
	ddos.SuspiciousThreshold = 3
	g := testGuard(t, permissiveRate(), ddos)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g.RecordAuthFailure(ctx, "203.0.113.5")
		ban, err := g.store.GetBan(ctx, "203.0.113.5")
		require.NoError(t, err)
		assert.Nil(t, ban, "failure %d should not ban yet", i+1)
	}

	g.RecordAuthFailure(ctx, "203.0.113.5")
	ban, err := g.store.GetBan(ctx, "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, BanReasonSuspicious, ban.Reason)
}

func TestRecordAuthFailureSkipsWhitelisted(t *testing.T) {
	ddos := permissiveDDoS()
	ddos.SuspiciousThreshold = 0
	ddos.Whitelist = []string{"10.0.0.1"}
	g := testGuard(t, permissiveRate(), ddos)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		g.RecordAuthFailure(ctx, "10.0.0.1")
	}
	ban, err := g.store.GetBan(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, ban)
}
