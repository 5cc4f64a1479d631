package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// DomainOf extracts the case-normalized host component of a URL. The host is
// the politeness key: two URLs share a cooldown iff DomainOf agrees.
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return host, nil
}
