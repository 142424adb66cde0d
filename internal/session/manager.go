package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/storefront-labs/gateway/internal/auth"
	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/db/models"
	"github.com/storefront-labs/gateway/internal/identity"
	"github.com/storefront-labs/gateway/internal/repository"
	"github.com/storefront-labs/gateway/internal/telemetry"
)

const tracerName = "gatewayd/session"

// Operation outcomes reported to SessionMetrics.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeRejected  = "rejected"
	outcomeThrottled = "throttled"
)

var (
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password are required")
	// ErrNotSignedIn is returned by DeleteAccount when the request carries no claims.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrActivationFailed is returned when the IdP account was created but the customer
	// record could not be linked to it. The reservation stays pending.
	ErrActivationFailed = errors.New("customer activation failed")
)

// Targets are the redirect destinations of the lifecycle flows.
type Targets struct {
	Home       string
	Landing    string
	Onboarding string
}

// TargetsFrom reads the redirect targets from route configuration.
func TargetsFrom(cfg config.RoutesConfig) Targets {
	t := Targets{Home: cfg.Home, Landing: cfg.Landing, Onboarding: cfg.Onboarding}
	if t.Home == "" {
		t.Home = "/home"
	}
	if t.Landing == "" {
		t.Landing = "/"
	}
	if t.Onboarding == "" {
		t.Onboarding = "/onboarding"
	}
	return t
}

// Outcome is the cookie change and redirect produced by a lifecycle flow. Exactly one
// of Establish or Clear is set when cookies change; neither is set on a failed sign-in.
type Outcome struct {
	Establish *identity.TokenPair
	Clear     bool
	Redirect  string
}

// SignUpRequest carries the sign-up form.
type SignUpRequest struct {
	Email    string
	Password string
	Profile  map[string]any
}

// profileFields is the subset of the profile persisted on the customer record.
type profileFields struct {
	FirstName      string `mapstructure:"first_name"`
	LastName       string `mapstructure:"last_name"`
	Phone          string `mapstructure:"phone"`
	MarketingOptIn bool   `mapstructure:"marketing_opt_in"`
}

// Manager runs the sign-in, sign-up, sign-out and account deletion flows.
// Each flow makes at most one IdP call for its main step and never retries.
type Manager struct {
	provider  identity.Provider
	targets   Targets
	customers repository.CustomerRepository
	decoder   auth.Decoder
	limiter   AttemptLimiter
	profiles  *ProfileValidator
	metrics   *telemetry.SessionMetrics
	logger    zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCustomers enables the two-phase sign-up against repo. decoder extracts the IdP
// subject from the access token issued at sign-up.
func WithCustomers(repo repository.CustomerRepository, decoder auth.Decoder) Option {
	return func(m *Manager) {
		m.customers = repo
		m.decoder = decoder
	}
}

// WithLimiter enables sign-in throttling.
func WithLimiter(l AttemptLimiter) Option {
	return func(m *Manager) { m.limiter = l }
}

// WithProfileValidator validates sign-up profile fields before any IdP call.
func WithProfileValidator(v *ProfileValidator) Option {
	return func(m *Manager) { m.profiles = v }
}

// WithMetrics records lifecycle attempts and their durations.
func WithMetrics(metrics *telemetry.SessionMetrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithLogger sets the logger for account events and degraded paths such as limiter outages.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager returns a Manager backed by provider.
func NewManager(provider identity.Provider, targets Targets, opts ...Option) *Manager {
	m := &Manager{
		provider: provider,
		targets:  targets,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SignIn authenticates email and password. On failure no cookies change.
func (m *Manager) SignIn(ctx context.Context, email, password string) (outcome *Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.SignIn")
	defer span.End()
	start := time.Now()
	result := outcomeSuccess
	defer func() {
		telemetry.RecordError(span, err)
		m.metrics.RecordOperation(ctx, "sign_in", result, msSince(start))
	}()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		result = outcomeRejected
		return nil, ErrMissingCredentials
	}

	ip := ClientIPFromContext(ctx)
	if m.limiter != nil {
		if err := m.limiter.Check(ctx, email, ip); err != nil {
			if errors.Is(err, ErrTooManyAttempts) {
				result = outcomeThrottled
				m.metrics.RecordThrottled(ctx)
				return nil, err
			}
			// Limiter backend outages do not block sign-in.
			m.logger.Warn().Err(err).Msg("sign-in limiter check failed")
		}
	}

	pair, err := m.provider.Authenticate(ctx, email, password)
	if err != nil {
		result = outcomeFailure
		if errors.Is(err, identity.ErrInvalidCredentials) && m.limiter != nil {
			if lerr := m.limiter.RecordFailure(ctx, email, ip); lerr != nil {
				m.logger.Warn().Err(lerr).Msg("failed to record sign-in failure")
			}
		}
		return nil, fmt.Errorf("sign in: %w", err)
	}

	if m.limiter != nil {
		if lerr := m.limiter.Reset(ctx, email, ip); lerr != nil {
			m.logger.Warn().Err(lerr).Msg("failed to reset sign-in attempts")
		}
	}

	return &Outcome{Establish: &pair, Redirect: m.targets.Home}, nil
}

// SignUp creates an IdP account. When a customer repository is configured, a pending
// customer is reserved first and activated with the IdP subject afterwards; a failed
// account creation deletes the reservation.
func (m *Manager) SignUp(ctx context.Context, req SignUpRequest) (outcome *Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.SignUp")
	defer span.End()
	start := time.Now()
	result := outcomeSuccess
	defer func() {
		telemetry.RecordError(span, err)
		m.metrics.RecordOperation(ctx, "sign_up", result, msSince(start))
	}()

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		result = outcomeRejected
		return nil, ErrMissingCredentials
	}
	if m.profiles != nil {
		if err := m.profiles.Validate(req.Profile); err != nil {
			result = outcomeRejected
			return nil, err
		}
	}

	var reserved *models.Customer
	if m.customers != nil {
		reserved, err = m.reserve(ctx, req)
		if err != nil {
			result = outcomeRejected
			return nil, err
		}
		span.SetAttributes(attribute.String(telemetry.AttrCustomerID, reserved.ID))
	}

	pair, err := m.provider.CreateAccount(ctx, identity.Registration{
		Email:    req.Email,
		Password: req.Password,
		Profile:  req.Profile,
	})
	if err != nil {
		result = outcomeFailure
		if reserved != nil {
			m.rollback(ctx, reserved.ID)
		}
		return nil, fmt.Errorf("sign up: %w", err)
	}

	if reserved != nil {
		if err := m.activate(ctx, reserved.ID, pair.AccessToken); err != nil {
			result = outcomeFailure
			m.logger.Error().Err(err).Str("customer_id", reserved.ID).Msg("customer left pending after sign-up")
			if ierr := m.provider.Invalidate(ctx, identity.Session{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}); ierr != nil {
				m.logger.Warn().Err(ierr).Str("customer_id", reserved.ID).Msg("failed to invalidate session of unlinked account")
			}
			return nil, err
		}
		telemetry.AddEvent(span, "customer.activated")
	}

	return &Outcome{Establish: &pair, Redirect: m.targets.Onboarding}, nil
}

func (m *Manager) reserve(ctx context.Context, req SignUpRequest) (*models.Customer, error) {
	var fields profileFields
	if err := mapstructure.WeakDecode(req.Profile, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	customer := &models.Customer{
		Email:          req.Email,
		FirstName:      fields.FirstName,
		LastName:       fields.LastName,
		Phone:          fields.Phone,
		MarketingOptIn: fields.MarketingOptIn,
	}
	if err := m.customers.Reserve(ctx, customer); err != nil {
		if errors.Is(err, repository.ErrCustomerExists) {
			return nil, identity.ErrAccountExists
		}
		return nil, fmt.Errorf("reserve customer: %w", err)
	}
	return customer, nil
}

func (m *Manager) rollback(ctx context.Context, id string) {
	// The request context may already be cancelled; the reservation must still go.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.customers.Delete(cctx, id); err != nil {
		m.logger.Error().Err(err).Str("customer_id", id).Msg("failed to roll back customer reservation")
	}
}

func (m *Manager) activate(ctx context.Context, id, accessToken string) error {
	if m.decoder == nil {
		return fmt.Errorf("%w: no token decoder configured", ErrActivationFailed)
	}
	claims, err := m.decoder.Decode(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("%w: decode issued token: %v", ErrActivationFailed, err)
	}
	if claims == nil {
		return fmt.Errorf("%w: IdP returned no access token", ErrActivationFailed)
	}
	if err := m.customers.Activate(ctx, id, claims.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrActivationFailed, err)
	}
	return nil
}

// SignOut invalidates the session at the IdP. Both cookies are cleared whatever the
// IdP answers; its error is still returned.
func (m *Manager) SignOut(ctx context.Context, session identity.Session) (outcome *Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.SignOut")
	defer span.End()
	start := time.Now()
	result := outcomeSuccess
	defer func() {
		telemetry.RecordError(span, err)
		m.metrics.RecordOperation(ctx, "sign_out", result, msSince(start))
	}()

	outcome = &Outcome{Clear: true, Redirect: m.targets.Landing}
	if session.Empty() {
		return outcome, nil
	}

	if err := m.provider.Invalidate(ctx, session); err != nil {
		result = outcomeFailure
		return outcome, fmt.Errorf("sign out: %w", err)
	}
	return outcome, nil
}

// DeleteAccount removes the customer record of claims and invalidates the session.
// Both cookies are always cleared.
func (m *Manager) DeleteAccount(ctx context.Context, claims *auth.Claims, session identity.Session) (outcome *Outcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "session.DeleteAccount")
	defer span.End()
	start := time.Now()
	result := outcomeSuccess
	defer func() {
		telemetry.RecordError(span, err)
		m.metrics.RecordOperation(ctx, "delete_account", result, msSince(start))
	}()

	outcome = &Outcome{Clear: true, Redirect: m.targets.Landing}
	if claims == nil || claims.UserID == "" {
		result = outcomeRejected
		return outcome, ErrNotSignedIn
	}

	var errs []error
	if m.customers != nil {
		// Accounts created before the registry existed have no row.
		if derr := m.customers.DeleteByProviderUserID(ctx, claims.UserID); derr != nil && !errors.Is(derr, repository.ErrCustomerNotFound) {
			errs = append(errs, fmt.Errorf("delete customer: %w", derr))
		}
	}
	if !session.Empty() {
		if ierr := m.provider.Invalidate(ctx, session); ierr != nil {
			errs = append(errs, fmt.Errorf("invalidate session: %w", ierr))
		}
	}

	// The IdP account outlives the customer row; signing in again yields a session with
	// no registry record.
	m.logger.Info().Str("provider_user_id", claims.UserID).Msg("customer deleted, identity provider account retained")

	if len(errs) > 0 {
		result = outcomeFailure
		return outcome, errors.Join(errs...)
	}
	return outcome, nil
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
