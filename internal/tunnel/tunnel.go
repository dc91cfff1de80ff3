package tunnel

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/wenwu/saas-platform/vpn-core/internal/models"
)

// ErrAddressExhausted is returned when a server's assignable pool has no
// free host address left.
var ErrAddressExhausted = fmt.Errorf("tunnel address pool exhausted")

// AllocateAddress picks the lowest free host address from the server's
// in-tunnel prefix, skipping the network address, the server's own address
// and every address already leased by an open session on that server.
func AllocateAddress(tunnelPrefix, serverAddress string, leased []string) (string, error) {
	prefix, err := netip.ParsePrefix(tunnelPrefix)
	if err != nil {
		return "", fmt.Errorf("parse tunnel prefix %q: %w", tunnelPrefix, err)
	}
	prefix = prefix.Masked()

	taken := make(map[string]bool, len(leased)+1)
	taken[serverAddress] = true
	for _, addr := range leased {
		// leased addresses may be stored with a /32 suffix
		taken[strings.SplitN(addr, "/", 2)[0]] = true
	}

	network := prefix.Addr()
	broadcast := lastAddr(prefix)

	for addr := network.Next(); addr.IsValid() && prefix.Contains(addr); addr = addr.Next() {
		// skip the broadcast address on IPv4 pools
		if addr.Is4() && addr == broadcast {
			break
		}
		if !taken[addr.String()] {
			return addr.String(), nil
		}
	}

	return "", ErrAddressExhausted
}

// lastAddr computes the highest address in the prefix
func lastAddr(prefix netip.Prefix) netip.Addr {
	addr := prefix.Addr()
	if !addr.Is4() {
		return netip.Addr{}
	}
	a4 := addr.As4()
	hostBits := 32 - prefix.Bits()
	v := uint32(a4[0])<<24 | uint32(a4[1])<<16 | uint32(a4[2])<<8 | uint32(a4[3])
	v |= (1 << hostBits) - 1
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}

// RenderOptions carries the configurable parts of the client blob.
type RenderOptions struct {
	DNSServers []string
	Keepalive  int
}

// RenderConfig produces the WireGuard configuration blob returned to the
// client on connect. The client supplied only its public key; the private
// key placeholder is substituted locally by the client and never transits
// the control plane.
func RenderConfig(server *models.Server, clientAddress string, opts RenderOptions) string {
	allowed := server.AllowedIPs
	if len(allowed) == 0 {
		allowed = []string{"0.0.0.0/0"}
	}
	dns := opts.DNSServers
	if len(dns) == 0 {
		dns = []string{"1.1.1.1", "1.0.0.1"}
	}
	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = 25
	}

	var b strings.Builder
	b.WriteString("[Interface]\n")
	b.WriteString("PrivateKey = <client_private_key>\n")
	fmt.Fprintf(&b, "Address = %s/32\n", clientAddress)
	fmt.Fprintf(&b, "DNS = %s\n", strings.Join(dns, ", "))
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", server.PublicKey)
	fmt.Fprintf(&b, "Endpoint = %s:%d\n", server.Endpoint, server.Port)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(allowed, ", "))
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", keepalive)
	return b.String()
}
