package security

import (
	"fmt"
	"net"
	"strings"
)

var blockedHostnames = map[string]bool{
	"localhost":          true,
	"127.0.0.1":          true,
	"::1":                true,
	"0.0.0.0":            true,
	"::":                 true,
	"::ffff:127.0.0.1":   true,
	"[::1]":              true,
	"[::ffff:127.0.0.1]": true,
}

// checkHost blocks literal local hostnames, then resolves the name and
// vets every address it maps to. A failed lookup passes; the request
// itself will fail on the same resolution.
func (g *Guard) checkHost(hostname string) error {
	if hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	normalized := strings.ToLower(strings.TrimSpace(hostname))
	if !g.allowLocal && blockedHostnames[normalized] {
		return fmt.Errorf("host %q is blocked: local address", hostname)
	}

	if ip := net.ParseIP(normalized); ip != nil {
		return g.checkIP(ip)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return nil
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// checkIP rejects address space an outbound workflow request has no
// business reaching: loopback, RFC1918/ULA, link-local (cloud metadata
// lives there), multicast and unspecified.
func (g *Guard) checkIP(ip net.IP) error {
	if g.allowLocal {
		if ip.IsMulticast() {
			return fmt.Errorf("ip %s is blocked: multicast address", ip)
		}
		return nil
	}
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("ip %s is blocked: loopback address", ip)
	case ip.IsPrivate():
		return fmt.Errorf("ip %s is blocked: private network", ip)
	case ip.IsLinkLocalUnicast():
		return fmt.Errorf("ip %s is blocked: link-local address", ip)
	case ip.IsMulticast():
		return fmt.Errorf("ip %s is blocked: multicast address", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("ip %s is blocked: unspecified address", ip)
	}
	return nil
}
