package security

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// Hostnames never valid as an outbound target regardless of what they
// resolve to.
var blockedHosts = map[string]struct{}{
	"localhost":                {},
	"metadata.google.internal": {},
	"metadata.google":          {},
}

// ValidateEndpointURL rejects URLs the server must not fetch: non-HTTP
// schemes, known internal hostnames, and hosts that are (or resolve to)
// loopback, private, link-local, or unspecified addresses. Guards the
// configured insights endpoint against SSRF.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("URL must have a host")
	}
	if _, ok := blockedHosts[strings.ToLower(host)]; ok {
		return fmt.Errorf("URL host %q is not allowed", host)
	}

	// An IP literal is checked directly; anything else goes through DNS
	// and every resolved address must pass.
	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}

	resolved, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("cannot resolve URL host: %s", host)
	}
	for _, s := range resolved {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			continue
		}
		if err := checkAddr(addr); err != nil {
			return fmt.Errorf("URL host %q resolves to blocked address: %v", host, err)
		}
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case addr.IsPrivate():
		return fmt.Errorf("private addresses are not allowed")
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return fmt.Errorf("link-local addresses are not allowed")
	case addr.IsUnspecified():
		return fmt.Errorf("unspecified addresses are not allowed")
	}
	return nil
}
