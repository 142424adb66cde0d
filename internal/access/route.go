package access

import (
	"path"
	"strings"
)

// Classification is the access tier of a request path.
type Classification int

const (
	// Protected paths require any session.
	Protected Classification = iota
	// Public paths are reachable without a session.
	Public
	// AdminOnly paths require the admin role.
	AdminOnly
)

func (c Classification) String() string {
	switch c {
	case Public:
		return "public"
	case AdminOnly:
		return "admin_only"
	default:
		return "protected"
	}
}

// Default route layout of the storefront.
var (
	DefaultPublicPaths      = []string{"/", "/sign-in", "/sign-up", "/forgot-password"}
	DefaultAdminPrefix      = "/admin"
	DefaultExcludedPrefixes = []string{"/static/", "/assets/", "/_next/", "/favicon.ico", "/health", "/metrics"}
)

// Classifier maps request paths to a Classification.
type Classifier struct {
	public      map[string]struct{}
	adminPrefix string
	excluded    []string
}

// NewClassifier builds a classifier. Public paths match exactly; adminPrefix matches
// any path that starts with it; excluded prefixes bypass the gateway entirely.
func NewClassifier(publicPaths []string, adminPrefix string, excluded []string) *Classifier {
	public := make(map[string]struct{}, len(publicPaths))
	for _, p := range publicPaths {
		public[cleanPath(p)] = struct{}{}
	}
	return &Classifier{
		public:      public,
		adminPrefix: adminPrefix,
		excluded:    append([]string(nil), excluded...),
	}
}

// DefaultClassifier returns the classifier for the standard storefront layout.
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultPublicPaths, DefaultAdminPrefix, DefaultExcludedPrefixes)
}

// Classify returns the tier for p. It is total: every input maps to a tier.
func (c *Classifier) Classify(p string) Classification {
	p = cleanPath(p)
	if _, ok := c.public[p]; ok {
		return Public
	}
	if c.adminPrefix != "" && strings.HasPrefix(p, c.adminPrefix) {
		return AdminOnly
	}
	return Protected
}

// Excluded reports whether p is a static or internal resource the gateway must not intercept.
// The path is cleaned first so "/static/../admin" is not treated as an asset. Entries match
// whole segments only: "/health" excludes "/health" and "/health/live" but not "/healthcare".
func (c *Classifier) Excluded(p string) bool {
	p = cleanPath(p)
	for _, prefix := range c.excluded {
		base := strings.TrimSuffix(prefix, "/")
		if base == "" {
			continue
		}
		if p == base || strings.HasPrefix(p, base+"/") {
			return true
		}
	}
	return false
}

// cleanPath resolves dot segments and duplicate slashes so "/x/../admin" is classified as "/admin".
func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
