package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "missing")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))

	// Kind survives wrapping with %w
	wrapped := fmt.Errorf("outer: %w", New(KindRateLimited, "slow down"))
	assert.Equal(t, KindRateLimited, KindOf(wrapped))
}

func TestIs(t *testing.T) {
	err := New(KindPremiumRequired, "upgrade first")
	assert.True(t, Is(err, KindPremiumRequired))
	assert.False(t, Is(err, KindNotFound))
	assert.True(t, Is(errors.New("plain"), KindInternal))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindDependencyDown, "kv store unavailable", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "DEPENDENCY_DOWN")
	assert.Contains(t, err.Error(), "kv store unavailable")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWithDetail(t *testing.T) {
	err := New(KindAlreadyConnected, "a session is already connected").
		WithDetail("session_id", "abc").
		WithDetail("server", "fr1")

	require.Len(t, err.Details, 2)
	assert.Equal(t, "abc", err.Details["session_id"])
	assert.Equal(t, "fr1", err.Details["server"])
}

func TestAsError(t *testing.T) {
	orig := Newf(KindNoCapacity, "server %s is at capacity", "fr1")
	assert.Same(t, orig, AsError(orig))

	plain := errors.New("boom")
	ae := AsError(plain)
	assert.Equal(t, KindInternal, ae.Kind)
	assert.True(t, errors.Is(ae, plain))
}
