package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/storefront-labs/gateway/internal/access"
	"github.com/storefront-labs/gateway/internal/auth"
	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/session"
	"github.com/storefront-labs/gateway/internal/telemetry"
)

// Token failure reasons reported to GatewayMetrics.
const (
	failureMalformed  = "malformed"
	failureUnverified = "unverified"
	failureExpired    = "expired"
	failureError      = "error"
)

// RedirectTargets are the destinations of the non-Allow verdicts.
type RedirectTargets struct {
	SignIn    string
	Home      string
	Forbidden string
}

// RedirectTargetsFrom reads the redirect targets from route configuration.
func RedirectTargetsFrom(cfg config.RoutesConfig) RedirectTargets {
	t := RedirectTargets{SignIn: cfg.SignIn, Home: cfg.Home, Forbidden: cfg.Forbidden}
	if t.SignIn == "" {
		t.SignIn = "/sign-in"
	}
	if t.Home == "" {
		t.Home = "/home"
	}
	if t.Forbidden == "" {
		t.Forbidden = "/forbidden"
	}
	return t
}

// Location returns the redirect target for v, or "" for Allow.
func (t RedirectTargets) Location(v access.Verdict) string {
	switch v {
	case access.RedirectToSignIn:
		return t.SignIn
	case access.RedirectToHome:
		return t.Home
	case access.RedirectToForbidden:
		return t.Forbidden
	default:
		return ""
	}
}

// GatewayDependencies wires the gateway to its collaborators.
type GatewayDependencies struct {
	Classifier *access.Classifier
	Decoder    auth.Decoder
	Cookies    *session.CookieJar
	Targets    RedirectTargets
	Metrics    *telemetry.GatewayMetrics

	// EnforceExpiry treats tokens whose exp lies in the past as absent.
	EnforceExpiry bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewGatewayMiddleware returns the request-time authorization gate.
//
// Flow per request:
//  1. Excluded prefixes pass through untouched. CORS preflights never get here: the cors
//     handler ahead of the gateway answers them
//  2. The path is classified and the access-token cookie decoded
//  3. The verdict is computed; Allow stores an access.Request on the context and calls next,
//     every other verdict answers 302 to its target
//  4. A redirect to sign-in that carries a stale cookie pair (refresh cookie alone, or an
//     expired or unverified access token) also clears both cookies
//
// The gateway never fails a request. Malformed tokens count as present with no claims;
// unverified and expired tokens count as absent.
func NewGatewayMiddleware(deps GatewayDependencies) func(http.Handler) http.Handler {
	classifier := deps.Classifier
	if classifier == nil {
		classifier = access.DefaultClassifier()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if deps.Cookies == nil {
		deps.Cookies = session.NewCookieJar(config.CookieConfig{})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if classifier.Excluded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := now()
			ctx := r.Context()
			logger := zerolog.Ctx(ctx)

			route := classifier.Classify(r.URL.Path)
			state := resolveRequest(r, deps, start, logger)
			hasToken, claims := state.HasToken, state.Claims
			verdict := access.Decide(hasToken, claims, route)

			deps.Metrics.RecordDecision(ctx, route.String(), verdict.String(),
				float64(now().Sub(start).Microseconds())/1000)

			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				c = c.Str("route_class", route.String()).Str("verdict", verdict.String())
				if claims != nil {
					c = c.Str("user_id", claims.UserID)
				}
				return c
			})

			if verdict != access.Allow {
				if verdict == access.RedirectToSignIn && staleSession(r, deps.Cookies, state) {
					deps.Cookies.Apply(w, r, &session.Outcome{Clear: true})
				}
				http.Redirect(w, r, deps.Targets.Location(verdict), http.StatusFound)
				return
			}

			req := access.Request{HasToken: hasToken, Claims: claims, Route: route, Verdict: verdict}
			next.ServeHTTP(w, r.WithContext(access.WithRequest(ctx, req)))
		})
	}
}

// TokenState is the outcome of reading a session token under the degrade rules.
type TokenState struct {
	HasToken bool
	Claims   *auth.Claims
	// Failure names why the token was degraded, or "" when it decoded cleanly.
	Failure string
	Err     error
}

// ResolveToken decodes token and applies the degrade rules: a malformed token is present
// with no claims; an unverified, undecodable or (with enforceExpiry) expired token is absent.
func ResolveToken(ctx context.Context, decoder auth.Decoder, token string, enforceExpiry bool, now time.Time) TokenState {
	if token == "" {
		return TokenState{}
	}
	if decoder == nil {
		return TokenState{HasToken: true}
	}

	claims, err := decoder.Decode(ctx, token)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrTokenMalformed):
		return TokenState{HasToken: true, Failure: failureMalformed, Err: err}
	case errors.Is(err, auth.ErrTokenUnverified):
		return TokenState{Failure: failureUnverified, Err: err}
	default:
		return TokenState{Failure: failureError, Err: err}
	}

	if claims == nil {
		return TokenState{}
	}
	if enforceExpiry && claims.Expired(now) {
		return TokenState{Failure: failureExpired}
	}
	return TokenState{HasToken: true, Claims: claims}
}

// staleSession reports whether r carries session cookies that can no longer sign the caller
// in. Decoder outages do not count: the pair may still be valid once the key set is back.
func staleSession(r *http.Request, cookies *session.CookieJar, state TokenState) bool {
	if !cookies.Present(r) {
		return false
	}
	return state.Failure != failureError
}

// resolveRequest reads the access-token cookie of r and reports decode failures.
func resolveRequest(r *http.Request, deps GatewayDependencies, now time.Time, logger *zerolog.Logger) TokenState {
	ctx := r.Context()
	state := ResolveToken(ctx, deps.Decoder, deps.Cookies.AccessToken(r), deps.EnforceExpiry, now)
	if state.Failure == "" {
		return state
	}

	deps.Metrics.RecordDecodeFailure(ctx, state.Failure)
	switch state.Failure {
	case failureMalformed:
		logger.Debug().Err(state.Err).Msg("malformed session token")
	case failureUnverified:
		logger.Warn().Err(state.Err).Msg("session token failed verification")
	case failureError:
		logger.Error().Err(state.Err).Msg("session token could not be checked")
	}
	return state
}
