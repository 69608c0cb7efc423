package http

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"

	"github.com/BradenHooton/lineage-auth/internal/models"
)

// MaxBodyBytes caps JSON request bodies
const MaxBodyBytes = 1 << 20

// maxUserAgentLen bounds the User-Agent stored with sessions and refresh tokens
const maxUserAgentLen = 512

// IPConfig lists the proxies whose forwarding headers are believed.
// Entries are CIDR ranges or single addresses; unparsable entries are ignored.
type IPConfig struct {
	TrustedProxies []string

	once     sync.Once
	prefixes []netip.Prefix
}

func (c *IPConfig) trusted(addr netip.Addr) bool {
	if c == nil || !addr.IsValid() {
		return false
	}
	c.once.Do(func() {
		for _, entry := range c.TrustedProxies {
			entry = strings.TrimSpace(entry)
			if p, err := netip.ParsePrefix(entry); err == nil {
				c.prefixes = append(c.prefixes, p.Masked())
			} else if a, err := netip.ParseAddr(entry); err == nil {
				c.prefixes = append(c.prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
			}
		}
	})
	for _, p := range c.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ExtractClientIP returns the address of the client that originated r.
//
// Forwarding headers are consulted only when the direct peer is a trusted
// proxy. X-Forwarded-For is walked from the nearest hop outwards and the
// first hop that is not itself a trusted proxy wins, so a client cannot
// prepend a forged address. X-Real-IP is the fallback, then the peer itself.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	peer, ok := peerAddr(r.RemoteAddr)
	if !ok {
		if r.RemoteAddr == "" {
			return "unknown"
		}
		return r.RemoteAddr
	}
	if !config.trusted(peer) {
		return peer.String()
	}

	if hops := forwardedHops(r.Header.Values("X-Forwarded-For")); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			if !config.trusted(hops[i]) {
				return hops[i].String()
			}
		}
		// Every hop is a proxy we run; the outermost is the best we have
		return hops[0].String()
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}
	return peer.String()
}

func peerAddr(remote string) (netip.Addr, bool) {
	host := remote
	if h, _, err := net.SplitHostPort(remote); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// forwardedHops parses every X-Forwarded-For header line in order, dropping
// entries that are not addresses
func forwardedHops(lines []string) []netip.Addr {
	var hops []netip.Addr
	for _, line := range lines {
		for _, part := range strings.Split(line, ",") {
			if addr, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil {
				hops = append(hops, addr.Unmap())
			}
		}
	}
	return hops
}

// ExtractClientInfo returns the client IP and a bounded User-Agent for the request
func ExtractClientInfo(r *http.Request, config *IPConfig) models.ClientInfo {
	ua := r.Header.Get("User-Agent")
	if len(ua) > maxUserAgentLen {
		ua = ua[:maxUserAgentLen]
	}
	return models.ClientInfo{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: ua,
	}
}

// DecodeJSON decodes a size-limited JSON body into dst, rejecting unknown fields
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
