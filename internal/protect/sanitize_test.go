package protect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain value untouched", "203.0.113.5", "203.0.113.5"},
		{"strips newlines", "a\nb\rc", "abc"},
		{"strips control chars", "a\x00b\x1fc\x7fd", "abcd"},
		{"empty", "", ""},
		{"long value capped", strings.Repeat("x", 200), strings.Repeat("x", 64)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeForLog(tc.input))
		})
	}
}

func TestValidIP(t *testing.T) {
	assert.True(t, ValidIP("203.0.113.5"))
	assert.True(t, ValidIP("2001:db8::1"))
	assert.False(t, ValidIP("203.0.113.5:8080"))
	assert.False(t, ValidIP("not-an-ip"))
	assert.False(t, ValidIP(""))
}

func TestWhitelistContains(t *testing.T) {
	w := NewWhitelist([]string{
		"10.0.0.1",
		"192.168.0.0/16",
		" 172.16.0.1 ", // entries are trimmed
		"",             // blanks skipped
		"bogus",        // malformed entries skipped
		"300.0.0.0/8",  // malformed CIDR skipped
	})

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"10.0.0.2", false},
		{"192.168.4.20", true},
		{"192.169.0.1", false},
		{"172.16.0.1", true},
		{"bogus", false},
		{"", false},
	}

	for _, tc := range tests {
		t.Run(tc.ip, func(t *testing.T) {
			assert.Equal(t, tc.want, w.Contains(tc.ip))
		})
	}
}

func TestPolicyFor(t *testing.T) {
	login := PolicyFor(ClassAuthLogin)
	assert.Equal(t, 5, login.Limit)
	assert.Equal(t, 7, login.Cap())

	// Unknown classes fall back to the general policy
	assert.Equal(t, PolicyFor(ClassGeneral), PolicyFor(EndpointClass("made_up")))
}
