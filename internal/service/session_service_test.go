package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wenwu/saas-platform/vpn-core/internal/apperr"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

func TestRequireOwner(t *testing.T) {
	session := &models.Session{ID: "sess-1", SubscriberID: "sub-1"}

	assert.NoError(t, requireOwner(session, "sub-1"))

	// A foreign session must be indistinguishable from a missing one
	err := requireOwner(session, "sub-2")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestAlreadyConnectedErr(t *testing.T) {
	err := alreadyConnectedErr(&models.Session{ID: "sess-1"})
	assert.Equal(t, apperr.KindAlreadyConnected, apperr.KindOf(err))
	assert.Equal(t, "sess-1", apperr.AsError(err).Details["session_id"])

	// Unknown winner still conflicts, just without the reference
	err = alreadyConnectedErr(nil)
	assert.Equal(t, apperr.KindAlreadyConnected, apperr.KindOf(err))
	assert.Empty(t, apperr.AsError(err).Details)
}

func TestAvgSpeedMbps(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		duration time.Duration
		want     float64
	}{
		{"zero duration yields zero", 1024, 0, 0},
		{"negative duration yields zero", 1024, -time.Second, 0},
		{"one megabit over one second", 125_000, time.Second, 1.0},
		{"ten seconds", 1_250_000, 10 * time.Second, 1.0},
		{"gigabyte over an hour", 1 << 30, time.Hour, float64(1<<30) * 8 / 3600 / 1e6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, avgSpeedMbps(tc.bytes, tc.duration), 1e-9)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{"zero", 0, "00:00:00"},
		{"negative clamps to zero", -time.Minute, "00:00:00"},
		{"seconds only", 42 * time.Second, "00:00:42"},
		{"minutes and seconds", 3*time.Minute + 5*time.Second, "00:03:05"},
		{"exactly one hour", time.Hour, "01:00:00"},
		{"mixed", time.Hour + 23*time.Minute + 45*time.Second, "01:23:45"},
		{"hours past two digits", 123*time.Hour + 4*time.Minute, "123:04:00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, formatDuration(tc.d))
		})
	}
}

func TestFilterByTier(t *testing.T) {
	servers := []*models.Server{
		{ID: "free-1", Tier: models.TierFree},
		{ID: "paid-1", Tier: models.TierPaid},
		{ID: "free-2", Tier: models.TierFree},
	}

	free := filterByTier(servers, models.TierFree)
	ids := func(in []*models.Server) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, []string{"free-1", "free-2"}, ids(free))

	paid := filterByTier(servers, models.TierPaid)
	assert.Equal(t, []string{"free-1", "paid-1", "free-2"}, ids(paid))

	// The input slice must not be mutated by the filter
	assert.Equal(t, []string{"free-1", "paid-1", "free-2"}, ids(servers))
}

func TestTierSummary(t *testing.T) {
	ts := tierSummary(&models.Entitlement{Tier: models.TierFree})
	assert.Equal(t, models.TierFree, ts.Tier)
	assert.Empty(t, ts.ExpiresAt)

	expiry := time.Date(2026, 9, 23, 12, 0, 0, 0, time.UTC)
	ts = tierSummary(&models.Entitlement{Tier: models.TierPaid, ExpiresAt: &expiry})
	assert.Equal(t, models.TierPaid, ts.Tier)
	assert.Equal(t, "2026-09-23T12:00:00Z", ts.ExpiresAt)
}

func TestSessionDurationAndDataMath(t *testing.T) {
	start := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Minute)
	session := &models.Session{
		StartedAt:     start,
		EndedAt:       &end,
		BytesSent:     50 * 1024 * 1024,
		BytesReceived: 150 * 1024 * 1024,
	}

	d := session.Duration(end.Add(time.Hour)) // now past end is ignored for closed sessions
	assert.Equal(t, 90*time.Minute, d)

	total := session.BytesSent + session.BytesReceived
	assert.InDelta(t, 200.0, float64(total)/(1024*1024), 1e-9)
	assert.Equal(t, "01:30:00", formatDuration(d))
	assert.InDelta(t, float64(total)*8/5400/1e6, avgSpeedMbps(total, d), 1e-9)
}
