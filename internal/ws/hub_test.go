package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveThroughput(t *testing.T) {
	c := &Client{}
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	// First observation has no baseline to diff against
	got := c.deriveThroughput(&Snapshot{BytesSent: 500_000, BytesReceived: 500_000}, base)
	assert.Equal(t, 0.0, got)

	// 125 KB in one second is one megabit per second
	got = c.deriveThroughput(&Snapshot{BytesSent: 625_000, BytesReceived: 500_000}, base.Add(time.Second))
	assert.InDelta(t, 1.0, got, 1e-9)

	// No traffic since the last tick
	got = c.deriveThroughput(&Snapshot{BytesSent: 625_000, BytesReceived: 500_000}, base.Add(2*time.Second))
	assert.Equal(t, 0.0, got)
}

func TestDeriveThroughputCounterReset(t *testing.T) {
	c := &Client{}
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	c.deriveThroughput(&Snapshot{BytesSent: 1_000_000}, base)
	c.deriveThroughput(&Snapshot{BytesSent: 2_000_000}, base.Add(time.Second))

	// Counters went backwards (new session reusing the channel); report zero
	// instead of a negative rate
	got := c.deriveThroughput(&Snapshot{BytesSent: 100}, base.Add(2*time.Second))
	assert.Equal(t, 0.0, got)

	// Next tick diffs from the reset baseline
	got = c.deriveThroughput(&Snapshot{BytesSent: 125_100}, base.Add(3*time.Second))
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestDeriveThroughputHalfSecondInterval(t *testing.T) {
	c := &Client{}
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

	c.deriveThroughput(&Snapshot{BytesSent: 1000}, base)
	got := c.deriveThroughput(&Snapshot{BytesSent: 63_500}, base.Add(500*time.Millisecond))
	assert.InDelta(t, 1.0, got, 1e-9)
}
