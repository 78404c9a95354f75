package validate

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrDisallowedDomain = errors.New("URL domain not allowed")
	ErrUnexpectedPath   = errors.New("URL must not carry a query or fragment")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string // e.g., []string{"https", "http"}
	AllowedDomains []string // If non-empty, only these domains (and subdomains) are allowed
	RequireBare    bool     // Reject query strings and fragments
	MaxLength      int      // Maximum URL length (0 = no limit)
}

// ServiceURLConstraints apply to base URLs of services the engine calls:
// the upstream platform API and the object storage endpoint.
var ServiceURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	RequireBare:    true,
	MaxLength:      2048,
}

// URL validates a URL against the given constraints.
// Returns the validated URL string and an error if validation fails.
func URL(urlStr string, constraints URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" {
		return "", ErrEmpty
	}

	if constraints.MaxLength > 0 && len(urlStr) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 && !slices.Contains(constraints.AllowedSchemes, parsedURL.Scheme) {
		return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, parsedURL.Scheme, constraints.AllowedSchemes)
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	if len(constraints.AllowedDomains) > 0 {
		allowed := slices.ContainsFunc(constraints.AllowedDomains, func(domain string) bool {
			return hostname == domain || strings.HasSuffix(hostname, "."+domain)
		})
		if !allowed {
			return "", fmt.Errorf("%w: %q not in allowlist", ErrDisallowedDomain, hostname)
		}
	}

	if constraints.RequireBare && (parsedURL.RawQuery != "" || parsedURL.Fragment != "") {
		return "", ErrUnexpectedPath
	}

	return urlStr, nil
}

// ServiceURL validates a service base URL.
func ServiceURL(urlStr string) (string, error) {
	return URL(urlStr, ServiceURLConstraints)
}
