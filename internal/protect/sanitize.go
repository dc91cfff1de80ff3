package protect

import (
	"net/netip"
	"strings"
)

const maxLogValueLen = 64

// SanitizeForLog strips control characters and caps the length of values
// derived from request input before they reach the logs.
func SanitizeForLog(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '\n' || r == '\r' || r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
		if b.Len() >= maxLogValueLen {
			break
		}
	}
	return b.String()
}

// ValidIP reports whether s parses as an IP address.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

// Whitelist matches client IPs against a set of single IPs and CIDRs.
// Malformed entries are skipped at construction.
type Whitelist struct {
	addrs    map[netip.Addr]bool
	prefixes []netip.Prefix
}

func NewWhitelist(entries []string) *Whitelist {
	w := &Whitelist{addrs: make(map[netip.Addr]bool)}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if prefix, err := netip.ParsePrefix(entry); err == nil {
				w.prefixes = append(w.prefixes, prefix.Masked())
			}
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			w.addrs[addr] = true
		}
	}
	return w
}

// Contains reports whether ip is whitelisted. Unparseable IPs never match.
func (w *Whitelist) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	if w.addrs[addr] {
		return true
	}
	for _, prefix := range w.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
