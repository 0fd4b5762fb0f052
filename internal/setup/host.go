package setup

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	portalDomain = ".aptustotal.se"
	portalPath   = "/AptusPortal"
)

// ValidateHost checks that raw is an Aptus portal root,
// https://<domain>.aptustotal.se/AptusPortal/, and returns it normalised:
// lower-case host and a trailing slash.
func ValidateHost(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidHost, err)
	}

	if !strings.EqualFold(u.Scheme, "https") || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", ErrInvalidHost
	}
	if u.Port() != "" {
		return "", ErrInvalidHost
	}

	host := strings.ToLower(u.Hostname())
	domain, ok := strings.CutSuffix(host, portalDomain)
	if !ok || !validLabels(domain) {
		return "", ErrInvalidHost
	}

	if strings.TrimSuffix(u.Path, "/") != portalPath {
		return "", ErrInvalidHost
	}

	return "https://" + host + portalPath + "/", nil
}

// validLabels reports whether s is one or more dot-separated DNS labels.
func validLabels(s string) bool {
	if s == "" {
		return false
	}
	for label := range strings.SplitSeq(s, ".") {
		if label == "" || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
				return false
			}
		}
	}
	return true
}
