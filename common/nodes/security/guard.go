// Package security vets outbound request targets for the http node
// handler. The guard blocks non-HTTP schemes, loopback and private
// address space, and path patterns that smell like file access.
package security

import (
	"fmt"
	"net/url"
	"strings"
)

// Guard validates URLs before the http handler touches the network.
type Guard struct {
	// AllowLocal permits loopback and private targets. Tests and
	// single-box deployments set it; production leaves it off.
	allowLocal bool
}

type Opts struct {
	AllowLocal bool
}

func NewGuard(opts Opts) *Guard {
	return &Guard{allowLocal: opts.AllowLocal}
}

// CheckURL runs every check against a raw URL. The first violation
// wins.
func (g *Guard) CheckURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if err := g.checkScheme(u.Scheme); err != nil {
		return err
	}
	if err := g.checkHost(u.Hostname()); err != nil {
		return err
	}
	if err := g.checkPath(u.Path); err != nil {
		return err
	}
	for key, values := range u.Query() {
		for _, value := range values {
			if err := g.checkPath(value); err != nil {
				return fmt.Errorf("query parameter %q: %w", key, err)
			}
		}
	}
	return nil
}

func (g *Guard) checkScheme(scheme string) error {
	s := strings.ToLower(strings.TrimSpace(scheme))
	if s == "" {
		return fmt.Errorf("url scheme is required")
	}
	if s != "http" && s != "https" {
		return fmt.Errorf("scheme %q is not allowed, only http and https", scheme)
	}
	return nil
}
