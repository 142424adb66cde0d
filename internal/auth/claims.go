package auth

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Well-known role tags carried in the roles claim.
const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// DefaultRolesClaim is the claim field holding the caller's role tags.
const DefaultRolesClaim = "roles"

// Claims is the identity decoded from a session token.
type Claims struct {
	UserID        string
	Email         string
	EmailVerified bool
	Roles         []string
	IssuedAt      time.Time
	ExpiresAt     time.Time
}

// HasRole reports whether role is among the claimed roles.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	return slices.Contains(c.Roles, role)
}

// Expired reports whether the token carried an expiry that lies before now.
// Tokens without an exp claim never expire here.
func (c *Claims) Expired(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt)
}

// standardClaims mirrors the fields every supported IdP puts in an access token.
// Either user_id or sub identifies the subject; user_id wins when both are present.
type standardClaims struct {
	UserID        string `mapstructure:"user_id"`
	Subject       string `mapstructure:"sub"`
	Email         string `mapstructure:"email"`
	EmailVerified bool   `mapstructure:"email_verified"`
	IssuedAt      int64  `mapstructure:"iat"`
	ExpiresAt     int64  `mapstructure:"exp"`
}

// ClaimMapper converts a raw claims map into Claims.
type ClaimMapper struct {
	// RolesClaim is the claim holding roles. Dotted paths such as "app_metadata.roles"
	// walk nested objects.
	RolesClaim string
}

// Map decodes raw into Claims. Numeric dates, string booleans and a single role given as
// a plain string are accepted.
func (m ClaimMapper) Map(raw map[string]any) (*Claims, error) {
	var std standardClaims
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &std,
	})
	if err != nil {
		return nil, fmt.Errorf("build claims decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	userID := std.UserID
	if userID == "" {
		userID = std.Subject
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user_id claim", ErrTokenMalformed)
	}

	roles, err := extractRoles(raw, m.rolesClaim())
	if err != nil {
		return nil, err
	}

	claims := &Claims{
		UserID:        userID,
		Email:         std.Email,
		EmailVerified: std.EmailVerified,
		Roles:         roles,
	}
	if std.IssuedAt > 0 {
		claims.IssuedAt = time.Unix(std.IssuedAt, 0).UTC()
	}
	if std.ExpiresAt > 0 {
		claims.ExpiresAt = time.Unix(std.ExpiresAt, 0).UTC()
	}
	return claims, nil
}

func (m ClaimMapper) rolesClaim() string {
	if m.RolesClaim == "" {
		return DefaultRolesClaim
	}
	return m.RolesClaim
}

// extractRoles resolves a dotted claim path and decodes its value as a role list.
// A missing claim yields an empty role set.
func extractRoles(raw map[string]any, claimPath string) ([]string, error) {
	var value any = raw
	for _, segment := range strings.Split(claimPath, ".") {
		obj, ok := value.(map[string]any)
		if !ok {
			return []string{}, nil
		}
		value, ok = obj[segment]
		if !ok {
			return []string{}, nil
		}
	}
	if value == nil {
		return []string{}, nil
	}

	var roles []string
	if err := mapstructure.WeakDecode(value, &roles); err != nil {
		return nil, fmt.Errorf("%w: roles claim %q: %v", ErrTokenMalformed, claimPath, err)
	}

	result := make([]string, 0, len(roles))
	for _, role := range roles {
		role = strings.TrimSpace(role)
		if role != "" && !slices.Contains(result, role) {
			result = append(result, role)
		}
	}
	return result, nil
}
