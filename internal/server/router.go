package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/logging"
	"github.com/storefront-labs/gateway/internal/session"
)

// RouterOptions controls the construction of the gateway HTTP router.
// The zero value is valid: without Sessions the lifecycle endpoints are not mounted and
// without Upstream unmatched paths answer 404.
type RouterOptions struct {
	Logger         *zerolog.Logger
	Gateway        func(http.Handler) http.Handler
	Sessions       *session.Manager
	Cookies        *session.CookieJar
	Upstream       http.Handler
	MetricsHandler http.Handler
	CORSOptions    *cors.Options
	Middleware     []func(http.Handler) http.Handler
	HealthHandler  http.HandlerFunc
	ExtraRoutes    func(chi.Router)
}

// DefaultCORSOptions returns the storefront CORS policy for the given origins.
func DefaultCORSOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with the shared middleware, the authorization gateway,
// the session lifecycle endpoints and the upstream fallthrough.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.Logger != nil {
		for _, mw := range logging.HTTPMiddleware(*opts.Logger) {
			r.Use(mw)
		}
	}
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions(nil)
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	for _, mw := range opts.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}
	if opts.Gateway != nil {
		r.Use(opts.Gateway)
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	cookies := opts.Cookies
	if cookies == nil {
		cookies = session.NewCookieJar(config.CookieConfig{})
	}
	if opts.Sessions != nil {
		r.Post("/sign-in", HandleSignIn(opts.Sessions, cookies))
		r.Post("/sign-up", HandleSignUp(opts.Sessions, cookies))
		r.Post("/sign-out", HandleSignOut(opts.Sessions, cookies))
		r.Post("/account/delete", HandleDeleteAccount(opts.Sessions, cookies))
	}
	r.Get("/api/session", HandleSession())
	r.Get("/forbidden", HandleForbidden())

	if opts.ExtraRoutes != nil {
		opts.ExtraRoutes(r)
	}

	if opts.Upstream != nil {
		r.NotFound(opts.Upstream.ServeHTTP)
		r.MethodNotAllowed(opts.Upstream.ServeHTTP)
	}

	return r
}

// NewH2CHandler wraps the router with an h2c server for HTTP/2 over cleartext.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}
