package tunnel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

func TestAllocateAddress(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		server  string
		leased  []string
		want    string
		wantErr bool
	}{
		{
			name:   "first free address skips the server",
			prefix: "10.8.0.0/24",
			server: "10.8.0.1",
			want:   "10.8.0.2",
		},
		{
			name:   "skips leased addresses",
			prefix: "10.8.0.0/24",
			server: "10.8.0.1",
			leased: []string{"10.8.0.2", "10.8.0.3"},
			want:   "10.8.0.4",
		},
		{
			name:   "leased addresses may carry a mask suffix",
			prefix: "10.8.0.0/24",
			server: "10.8.0.1",
			leased: []string{"10.8.0.2/32"},
			want:   "10.8.0.3",
		},
		{
			name:   "fills gaps left by departed sessions",
			prefix: "10.8.0.0/24",
			server: "10.8.0.1",
			leased: []string{"10.8.0.3"},
			want:   "10.8.0.2",
		},
		{
			name:    "pool exhausted in a /30",
			prefix:  "10.8.0.0/30",
			server:  "10.8.0.1",
			leased:  []string{"10.8.0.2"},
			wantErr: true,
		},
		{
			name:    "invalid prefix",
			prefix:  "not-a-prefix",
			server:  "10.8.0.1",
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := AllocateAddress(tc.prefix, tc.server, tc.leased)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAllocateAddressExhaustionError(t *testing.T) {
	// /30 holds .0 (network) .1 (server) .2 .3 (broadcast): one usable slot
	addr, err := AllocateAddress("10.8.0.0/30", "10.8.0.1", nil)
	require.NoError(t, err)
	assert.Equal(t, "10.8.0.2", addr)

	_, err = AllocateAddress("10.8.0.0/30", "10.8.0.1", []string{addr})
	assert.ErrorIs(t, err, ErrAddressExhausted)
}

func TestRenderConfig(t *testing.T) {
	server := &models.Server{
		PublicKey: "server-pub-key",
		Endpoint:  "fr1.vpn.example.com",
		Port:      51820,
	}

	got := RenderConfig(server, "10.8.0.2", RenderOptions{
		DNSServers: []string{"1.1.1.1", "1.0.0.1"},
		Keepalive:  25,
	})

	want := `[Interface]
PrivateKey = <client_private_key>
Address = 10.8.0.2/32
DNS = 1.1.1.1, 1.0.0.1

[Peer]
PublicKey = server-pub-key
Endpoint = fr1.vpn.example.com:51820
AllowedIPs = 0.0.0.0/0
PersistentKeepalive = 25
`
	assert.Equal(t, want, got)
}

func TestRenderConfigDefaultsAndOverrides(t *testing.T) {
	server := &models.Server{
		PublicKey:  "pk",
		Endpoint:   "10.0.0.1",
		Port:       51820,
		AllowedIPs: []string{"10.0.0.0/8", "192.168.0.0/16"},
	}

	got := RenderConfig(server, "10.8.0.5", RenderOptions{})
	assert.Contains(t, got, "AllowedIPs = 10.0.0.0/8, 192.168.0.0/16\n")
	assert.Contains(t, got, "PersistentKeepalive = 25\n")
	assert.Contains(t, got, "DNS = 1.1.1.1, 1.0.0.1\n")
	assert.NotContains(t, got, "private_key =")
}
