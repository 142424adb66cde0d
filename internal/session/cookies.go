package session

import (
	"net/http"
	"time"

	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/identity"
)

// CookieJar reads and writes the session cookie pair.
//
// The access-token cookie is readable by page scripts; the refresh-token cookie is HttpOnly.
// Both are always written or cleared together.
type CookieJar struct {
	cfg config.CookieConfig
}

// NewCookieJar returns a jar for the configured cookie names.
func NewCookieJar(cfg config.CookieConfig) *CookieJar {
	if cfg.AccessName == "" {
		cfg.AccessName = "access-token"
	}
	if cfg.RefreshName == "" {
		cfg.RefreshName = "refresh-token"
	}
	return &CookieJar{cfg: cfg}
}

// AccessName is the name of the cookie holding the access token.
func (j *CookieJar) AccessName() string {
	return j.cfg.AccessName
}

// Read returns the session presented on r. Missing cookies yield empty strings.
func (j *CookieJar) Read(r *http.Request) identity.Session {
	var s identity.Session
	if c, err := r.Cookie(j.cfg.AccessName); err == nil {
		s.AccessToken = c.Value
	}
	if c, err := r.Cookie(j.cfg.RefreshName); err == nil {
		s.RefreshToken = c.Value
	}
	return s
}

// AccessToken returns the raw access-token cookie value, or "" when absent.
func (j *CookieJar) AccessToken(r *http.Request) string {
	c, err := r.Cookie(j.cfg.AccessName)
	if err != nil {
		return ""
	}
	return c.Value
}

// Apply writes the cookie changes carried by outcome. Both cookies are built before
// either header is written.
func (j *CookieJar) Apply(w http.ResponseWriter, r *http.Request, outcome *Outcome) {
	if outcome == nil {
		return
	}

	var pair [2]*http.Cookie
	switch {
	case outcome.Establish != nil:
		pair = j.establish(r, *outcome.Establish)
	case outcome.Clear:
		pair = j.clear(r)
	default:
		return
	}

	http.SetCookie(w, pair[0])
	http.SetCookie(w, pair[1])
}

// establish gives both cookies the same lifetime so the browser never holds one without
// the other. An access token past its exp is treated as absent by the gateway, which then
// clears the pair.
func (j *CookieJar) establish(r *http.Request, tokens identity.TokenPair) [2]*http.Cookie {
	access := j.base(r, j.cfg.AccessName, tokens.AccessToken)
	refresh := j.base(r, j.cfg.RefreshName, tokens.RefreshToken)
	refresh.HttpOnly = true

	if j.cfg.MaxAge > 0 {
		maxAge := int(j.cfg.MaxAge / time.Second)
		access.MaxAge = maxAge
		refresh.MaxAge = maxAge
	}

	return [2]*http.Cookie{access, refresh}
}

// Present reports whether r carries either session cookie.
func (j *CookieJar) Present(r *http.Request) bool {
	return !j.Read(r).Empty()
}

func (j *CookieJar) clear(r *http.Request) [2]*http.Cookie {
	access := j.base(r, j.cfg.AccessName, "")
	access.Expires = time.Unix(0, 0)
	access.MaxAge = -1

	refresh := j.base(r, j.cfg.RefreshName, "")
	refresh.HttpOnly = true
	refresh.Expires = time.Unix(0, 0)
	refresh.MaxAge = -1

	return [2]*http.Cookie{access, refresh}
}

func (j *CookieJar) base(r *http.Request, name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   j.cfg.Domain,
		Secure:   j.cfg.Secure || (r != nil && r.TLS != nil),
		SameSite: http.SameSiteLaxMode,
	}
}
