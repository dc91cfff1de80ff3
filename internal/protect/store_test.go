package protect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCountWindow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	n, err := s.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, "k", time.Minute))
	}

	n, err = s.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Keys are independent
	n, err = s.Count(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStoreWindowEviction(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "k", time.Minute))
	require.NoError(t, s.Record(ctx, "k", time.Minute))

	// A zero-length window makes every recorded event stale
	n, err := s.Count(ctx, "k", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryStoreBans(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ban, err := s.GetBan(ctx, "203.0.113.5")
	require.NoError(t, err)
	assert.Nil(t, ban)

	require.NoError(t, s.SetBan(ctx, "203.0.113.5", BanReasonManual, time.Hour))

	ban, err = s.GetBan(ctx, "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, BanReasonManual, ban.Reason)
	assert.Greater(t, ban.Remaining(time.Now()), 59*time.Minute)
	assert.Equal(t, time.Duration(0), ban.Remaining(time.Now().Add(2*time.Hour)))
}

// errorStore always fails, standing in for a down Redis.
type errorStore struct{}

func (errorStore) Count(context.Context, string, time.Duration) (int, error) {
	return 0, assert.AnError
}
func (errorStore) Record(context.Context, string, time.Duration) error { return assert.AnError }
func (errorStore) SetBan(context.Context, string, string, time.Duration) error {
	return assert.AnError
}
func (errorStore) GetBan(context.Context, string) (*BanRecord, error) { return nil, assert.AnError }

func TestFailoverStoreFallsBack(t *testing.T) {
	fallback := NewMemoryStore()
	s := NewFailoverStore(errorStore{}, fallback)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "k", time.Minute))
	n, err := s.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.SetBan(ctx, "203.0.113.5", BanReasonDDoS, time.Hour))
	ban, err := s.GetBan(ctx, "203.0.113.5")
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, BanReasonDDoS, ban.Reason)
}

func TestFailoverStorePrefersPrimary(t *testing.T) {
	primary := NewMemoryStore()
	fallback := NewMemoryStore()
	s := NewFailoverStore(primary, fallback)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "k", time.Minute))

	n, err := primary.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = fallback.Count(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
