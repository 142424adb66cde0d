package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "STOREFRONT"

// Token verification modes.
const (
	VerificationUnverified = "unverified"
	VerificationOIDC       = "oidc"
)

// Rate limit backends.
const (
	RateLimitMemory = "memory"
	RateLimitRedis  = "redis"
)

// Config holds the gateway configuration
type Config struct {
	// Server bind address (host:port)
	ServerAddr string `mapstructure:"server_addr"`

	// Public base URL of the gateway
	ServerURL string `mapstructure:"server_url"`

	// Database connection string (DSN) for the customer registry
	DatabaseURL string `mapstructure:"database_url"`

	// Enable debug logging
	Debug bool `mapstructure:"debug"`

	Routes        RoutesConfig        `mapstructure:"routes"`
	Cookies       CookieConfig        `mapstructure:"cookies"`
	Tokens        TokenConfig         `mapstructure:"tokens"`
	IdP           IdentityProvider    `mapstructure:"idp"`
	RateLimit     RateLimitConfig     `mapstructure:"ratelimit"`
	Upstream      UpstreamConfig      `mapstructure:"upstream"`
	CORS          CORSConfig          `mapstructure:"cors"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// RoutesConfig describes how request paths are classified and where the gateway redirects.
type RoutesConfig struct {
	PublicPaths      []string `mapstructure:"public_paths"`
	AdminPrefix      string   `mapstructure:"admin_prefix"`
	ExcludedPrefixes []string `mapstructure:"excluded_prefixes"`

	SignIn     string `mapstructure:"sign_in"`
	Home       string `mapstructure:"home"`
	Forbidden  string `mapstructure:"forbidden"`
	Landing    string `mapstructure:"landing"`
	Onboarding string `mapstructure:"onboarding"`
}

// CookieConfig controls the session cookie pair.
type CookieConfig struct {
	AccessName  string `mapstructure:"access_name"`
	RefreshName string `mapstructure:"refresh_name"`
	Domain      string `mapstructure:"domain"`
	Secure      bool   `mapstructure:"secure"`

	// MaxAge is the lifetime of both cookies. Zero makes them browser-session cookies.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// TokenConfig controls how access tokens are decoded.
//
// In "unverified" mode the payload is parsed without checking the signature; the identity
// provider's own SDK is trusted to have validated it. In "oidc" mode the token is verified
// against the issuer's published key set before any claim is trusted.
type TokenConfig struct {
	Verification  string        `mapstructure:"verification"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	RolesClaim    string        `mapstructure:"roles_claim"`
	EnforceExpiry bool          `mapstructure:"enforce_expiry"`
	CacheSize     int           `mapstructure:"cache_size"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
}

// IdentityProvider holds the client registration with the external IdP.
type IdentityProvider struct {
	Issuer          string        `mapstructure:"issuer"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	Scopes          []string      `mapstructure:"scopes"`
	RegistrationURL string        `mapstructure:"registration_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether an identity provider is configured.
func (c IdentityProvider) Enabled() bool {
	return c.Issuer != ""
}

// RateLimitConfig controls sign-in throttling.
type RateLimitConfig struct {
	Backend     string        `mapstructure:"backend"`
	RedisURL    string        `mapstructure:"redis_url"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

// UpstreamConfig points at the storefront application that receives allowed requests.
type UpstreamConfig struct {
	URL string `mapstructure:"url"`
}

// CORSConfig lists origins allowed to call the gateway with credentials.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ObservabilityConfig holds OpenTelemetry settings.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
}

// SetDefaults registers default values on v. Every key must have a default so that
// AutomaticEnv can resolve it during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("database_url", "file:gatewayd.db?cache=shared")
	v.SetDefault("debug", false)

	v.SetDefault("routes.public_paths", []string{"/", "/sign-in", "/sign-up", "/forgot-password"})
	v.SetDefault("routes.admin_prefix", "/admin")
	v.SetDefault("routes.excluded_prefixes", []string{"/static/", "/assets/", "/_next/", "/favicon.ico", "/health", "/metrics"})
	v.SetDefault("routes.sign_in", "/sign-in")
	v.SetDefault("routes.home", "/home")
	v.SetDefault("routes.forbidden", "/forbidden")
	v.SetDefault("routes.landing", "/")
	v.SetDefault("routes.onboarding", "/onboarding")

	v.SetDefault("cookies.access_name", "access-token")
	v.SetDefault("cookies.refresh_name", "refresh-token")
	v.SetDefault("cookies.domain", "")
	v.SetDefault("cookies.secure", false)
	v.SetDefault("cookies.max_age", 720*time.Hour)

	v.SetDefault("tokens.verification", VerificationUnverified)
	v.SetDefault("tokens.issuer", "")
	v.SetDefault("tokens.audience", "")
	v.SetDefault("tokens.roles_claim", "roles")
	v.SetDefault("tokens.enforce_expiry", true)
	v.SetDefault("tokens.cache_size", 4096)
	v.SetDefault("tokens.cache_ttl", 5*time.Minute)

	v.SetDefault("idp.issuer", "")
	v.SetDefault("idp.client_id", "")
	v.SetDefault("idp.client_secret", "")
	v.SetDefault("idp.scopes", []string{"openid", "profile", "email", "offline_access"})
	v.SetDefault("idp.registration_url", "")
	v.SetDefault("idp.timeout", 10*time.Second)

	v.SetDefault("ratelimit.backend", RateLimitMemory)
	v.SetDefault("ratelimit.redis_url", "")
	v.SetDefault("ratelimit.max_attempts", 5)
	v.SetDefault("ratelimit.window", 15*time.Minute)

	v.SetDefault("upstream.url", "")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "gatewayd")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
}

// Load reads configuration from the global viper instance (config file, bound flags,
// STOREFRONT_ environment variables) with fallback defaults.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}

	if c.Cookies.AccessName == "" || c.Cookies.RefreshName == "" {
		return fmt.Errorf("cookie names must not be empty")
	}
	if c.Cookies.AccessName == c.Cookies.RefreshName {
		return fmt.Errorf("access and refresh cookies must have distinct names (both %q)", c.Cookies.AccessName)
	}

	if !strings.HasPrefix(c.Routes.AdminPrefix, "/") {
		return fmt.Errorf("routes.admin_prefix must start with '/' (got %q)", c.Routes.AdminPrefix)
	}
	for name, target := range map[string]string{
		"sign_in":    c.Routes.SignIn,
		"home":       c.Routes.Home,
		"forbidden":  c.Routes.Forbidden,
		"landing":    c.Routes.Landing,
		"onboarding": c.Routes.Onboarding,
	} {
		if !strings.HasPrefix(target, "/") {
			return fmt.Errorf("routes.%s must be an absolute path (got %q)", name, target)
		}
	}

	switch c.Tokens.Verification {
	case VerificationUnverified:
	case VerificationOIDC:
		if c.Tokens.Issuer == "" {
			return fmt.Errorf("tokens.issuer is required when tokens.verification=%s", VerificationOIDC)
		}
		if c.Tokens.Audience == "" {
			return fmt.Errorf("tokens.audience is required when tokens.verification=%s", VerificationOIDC)
		}
	default:
		return fmt.Errorf("unknown tokens.verification %q (want %s or %s)",
			c.Tokens.Verification, VerificationUnverified, VerificationOIDC)
	}

	switch c.RateLimit.Backend {
	case RateLimitMemory:
	case RateLimitRedis:
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("ratelimit.redis_url is required when ratelimit.backend=%s", RateLimitRedis)
		}
	default:
		return fmt.Errorf("unknown ratelimit.backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.MaxAttempts <= 0 {
		return fmt.Errorf("ratelimit.max_attempts must be positive")
	}

	if c.IdP.Enabled() && c.IdP.ClientID == "" {
		return fmt.Errorf("idp.client_id is required when idp.issuer is set")
	}

	return nil
}
