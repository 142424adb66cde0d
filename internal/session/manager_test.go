package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/migrate"

	"github.com/storefront-labs/gateway/internal/auth"
	"github.com/storefront-labs/gateway/internal/config"
	"github.com/storefront-labs/gateway/internal/db/bunx"
	"github.com/storefront-labs/gateway/internal/db/models"
	"github.com/storefront-labs/gateway/internal/identity"
	"github.com/storefront-labs/gateway/internal/migrations"
	"github.com/storefront-labs/gateway/internal/repository"
)

var testTargets = Targets{Home: "/home", Landing: "/", Onboarding: "/onboarding"}

// fakeProvider records calls and returns canned results.
type fakeProvider struct {
	authPair      identity.TokenPair
	authErr       error
	createPair    identity.TokenPair
	createErr     error
	invalidateErr error

	authCalls   int
	createCalls int
	invalidated []identity.Session
}

func (f *fakeProvider) Authenticate(context.Context, string, string) (identity.TokenPair, error) {
	f.authCalls++
	return f.authPair, f.authErr
}

func (f *fakeProvider) CreateAccount(context.Context, identity.Registration) (identity.TokenPair, error) {
	f.createCalls++
	return f.createPair, f.createErr
}

func (f *fakeProvider) Invalidate(_ context.Context, s identity.Session) error {
	f.invalidated = append(f.invalidated, s)
	return f.invalidateErr
}

func subjectToken(t *testing.T, sub string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"roles": []string{auth.RoleCustomer},
	}).SignedString([]byte("idp-secret"))
	require.NoError(t, err)
	return token
}

func newTestCustomers(t *testing.T) *repository.BunCustomerRepository {
	t.Helper()
	ctx := context.Background()

	db, err := bunx.NewDB(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bunx.Close(db) })

	migrator := migrate.NewMigrator(db, migrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err = migrator.Migrate(ctx)
	require.NoError(t, err)

	return repository.NewBunCustomerRepository(db)
}

var validProfile = map[string]any{"first_name": "Ada", "last_name": "Lovelace", "marketing_opt_in": true}

func TestTargetsFrom(t *testing.T) {
	assert.Equal(t, testTargets, TargetsFrom(configRoutes("", "", "")))
	assert.Equal(t, Targets{Home: "/h", Landing: "/l", Onboarding: "/o"}, TargetsFrom(configRoutes("/h", "/l", "/o")))
}

func TestManager_SignIn(t *testing.T) {
	p := &fakeProvider{authPair: identity.TokenPair{AccessToken: "acc", RefreshToken: "ref"}}
	m := NewManager(p, testTargets)

	outcome, err := m.SignIn(context.Background(), " shopper@example.com ", "pw")
	require.NoError(t, err)
	require.NotNil(t, outcome.Establish)
	assert.Equal(t, "acc", outcome.Establish.AccessToken)
	assert.Equal(t, "ref", outcome.Establish.RefreshToken)
	assert.False(t, outcome.Clear)
	assert.Equal(t, "/home", outcome.Redirect)
}

func TestManager_SignInFailureTouchesNoCookies(t *testing.T) {
	p := &fakeProvider{authErr: identity.ErrInvalidCredentials}
	m := NewManager(p, testTargets)

	outcome, err := m.SignIn(context.Background(), "shopper@example.com", "wrong")
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.Nil(t, outcome)

	outcome, err = m.SignIn(context.Background(), "", "pw")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Nil(t, outcome)
	assert.Equal(t, 1, p.authCalls)
}

func TestManager_SignInThrottled(t *testing.T) {
	limiter, err := NewMemoryLimiter(2, time.Hour, 100)
	require.NoError(t, err)
	p := &fakeProvider{authErr: identity.ErrInvalidCredentials}
	m := NewManager(p, testTargets, WithLimiter(limiter))
	ctx := WithClientIP(context.Background(), "10.0.0.9")

	for i := 0; i < 2; i++ {
		_, err := m.SignIn(ctx, "shopper@example.com", "wrong")
		require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	}

	_, err = m.SignIn(ctx, "shopper@example.com", "right")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 2, p.authCalls, "throttled sign-in must not reach the IdP")
}

func TestManager_SignInSuccessResetsLimiter(t *testing.T) {
	limiter, err := NewMemoryLimiter(2, time.Hour, 100)
	require.NoError(t, err)
	p := &fakeProvider{authErr: identity.ErrInvalidCredentials}
	m := NewManager(p, testTargets, WithLimiter(limiter))
	ctx := context.Background()

	_, err = m.SignIn(ctx, "shopper@example.com", "wrong")
	require.Error(t, err)

	p.authErr = nil
	p.authPair = identity.TokenPair{AccessToken: "acc"}
	_, err = m.SignIn(ctx, "shopper@example.com", "right")
	require.NoError(t, err)

	p.authErr = identity.ErrInvalidCredentials
	for i := 0; i < 2; i++ {
		_, err = m.SignIn(ctx, "shopper@example.com", "wrong")
		require.ErrorIs(t, err, identity.ErrInvalidCredentials)
	}
}

func TestManager_SignInProviderOutageNotCounted(t *testing.T) {
	limiter, err := NewMemoryLimiter(1, time.Hour, 100)
	require.NoError(t, err)
	p := &fakeProvider{authErr: &identity.ProviderError{Op: "authenticate", StatusCode: 503}}
	m := NewManager(p, testTargets, WithLimiter(limiter))

	for i := 0; i < 3; i++ {
		_, err := m.SignIn(context.Background(), "shopper@example.com", "pw")
		var pe *identity.ProviderError
		require.True(t, errors.As(err, &pe))
	}
	assert.Equal(t, 3, p.authCalls)
}

func TestManager_SignUpWithoutRegistry(t *testing.T) {
	p := &fakeProvider{createPair: identity.TokenPair{AccessToken: "acc", RefreshToken: "ref"}}
	m := NewManager(p, testTargets)

	outcome, err := m.SignUp(context.Background(), SignUpRequest{Email: "new@example.com", Password: "pw"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Establish)
	assert.Equal(t, "/onboarding", outcome.Redirect)

	p.createErr = identity.ErrAccountExists
	outcome, err = m.SignUp(context.Background(), SignUpRequest{Email: "new@example.com", Password: "pw"})
	assert.ErrorIs(t, err, identity.ErrAccountExists)
	assert.Nil(t, outcome)
}

func TestManager_SignUpRejectsInvalidProfile(t *testing.T) {
	validator, err := NewProfileValidator()
	require.NoError(t, err)
	p := &fakeProvider{}
	m := NewManager(p, testTargets, WithProfileValidator(validator))

	_, err = m.SignUp(context.Background(), SignUpRequest{
		Email:    "new@example.com",
		Password: "pw",
		Profile:  map[string]any{"first_name": "Ada"},
	})
	assert.ErrorIs(t, err, ErrInvalidProfile)
	assert.Zero(t, p.createCalls)
}

func TestManager_SignUpTwoPhase(t *testing.T) {
	customers := newTestCustomers(t)
	p := &fakeProvider{createPair: identity.TokenPair{AccessToken: subjectToken(t, "idp|42"), RefreshToken: "ref"}}
	m := NewManager(p, testTargets, WithCustomers(customers, auth.NewUnverifiedDecoder(auth.ClaimMapper{})))
	ctx := context.Background()

	outcome, err := m.SignUp(ctx, SignUpRequest{Email: "New@Example.com", Password: "pw", Profile: validProfile})
	require.NoError(t, err)
	require.NotNil(t, outcome.Establish)

	c, err := customers.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.CustomerActive, c.Status)
	require.NotNil(t, c.ProviderUserID)
	assert.Equal(t, "idp|42", *c.ProviderUserID)
	assert.Equal(t, "Ada", c.FirstName)
	assert.True(t, c.MarketingOptIn)

	// A second sign-up with the same email fails before reaching the IdP.
	_, err = m.SignUp(ctx, SignUpRequest{Email: "new@example.com", Password: "pw", Profile: validProfile})
	assert.ErrorIs(t, err, identity.ErrAccountExists)
	assert.Equal(t, 1, p.createCalls)
}

func TestManager_SignUpRollsBackReservation(t *testing.T) {
	customers := newTestCustomers(t)
	p := &fakeProvider{createErr: &identity.ProviderError{Op: "create_account", StatusCode: 500}}
	m := NewManager(p, testTargets, WithCustomers(customers, auth.NewUnverifiedDecoder(auth.ClaimMapper{})))
	ctx := context.Background()

	outcome, err := m.SignUp(ctx, SignUpRequest{Email: "new@example.com", Password: "pw", Profile: validProfile})
	require.Error(t, err)
	assert.Nil(t, outcome)

	_, err = customers.GetByEmail(ctx, "new@example.com")
	assert.ErrorIs(t, err, repository.ErrCustomerNotFound)
}

func TestManager_SignUpActivationFailure(t *testing.T) {
	customers := newTestCustomers(t)
	p := &fakeProvider{createPair: identity.TokenPair{AccessToken: "not-a-jwt", RefreshToken: "ref"}}
	m := NewManager(p, testTargets, WithCustomers(customers, auth.NewUnverifiedDecoder(auth.ClaimMapper{})))
	ctx := context.Background()

	outcome, err := m.SignUp(ctx, SignUpRequest{Email: "new@example.com", Password: "pw", Profile: validProfile})
	assert.ErrorIs(t, err, ErrActivationFailed)
	assert.Nil(t, outcome, "no cookies for an unlinked account")

	c, err := customers.GetByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.CustomerPending, c.Status)

	require.Len(t, p.invalidated, 1)
	assert.Equal(t, identity.Session{AccessToken: "not-a-jwt", RefreshToken: "ref"}, p.invalidated[0])

	pending, err := customers.ListPending(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestManager_SignOutAlwaysClears(t *testing.T) {
	p := &fakeProvider{}
	m := NewManager(p, testTargets)
	session := identity.Session{AccessToken: "acc", RefreshToken: "ref"}

	outcome, err := m.SignOut(context.Background(), session)
	require.NoError(t, err)
	assert.True(t, outcome.Clear)
	assert.Nil(t, outcome.Establish)
	assert.Equal(t, "/", outcome.Redirect)

	p.invalidateErr = &identity.ProviderError{Op: "invalidate", StatusCode: 503}
	outcome, err = m.SignOut(context.Background(), session)
	var pe *identity.ProviderError
	assert.True(t, errors.As(err, &pe))
	require.NotNil(t, outcome)
	assert.True(t, outcome.Clear, "cookies are cleared even when the IdP call fails")

	outcome, err = m.SignOut(context.Background(), identity.Session{})
	require.NoError(t, err)
	assert.True(t, outcome.Clear)
	assert.Len(t, p.invalidated, 2, "empty session skips the IdP")
}

func TestManager_DeleteAccount(t *testing.T) {
	customers := newTestCustomers(t)
	p := &fakeProvider{createPair: identity.TokenPair{AccessToken: subjectToken(t, "idp|7"), RefreshToken: "ref"}}
	m := NewManager(p, testTargets, WithCustomers(customers, auth.NewUnverifiedDecoder(auth.ClaimMapper{})))
	ctx := context.Background()

	_, err := m.SignUp(ctx, SignUpRequest{Email: "gone@example.com", Password: "pw", Profile: validProfile})
	require.NoError(t, err)

	session := identity.Session{AccessToken: "acc", RefreshToken: "ref"}
	outcome, err := m.DeleteAccount(ctx, &auth.Claims{UserID: "idp|7"}, session)
	require.NoError(t, err)
	assert.True(t, outcome.Clear)
	assert.Equal(t, "/", outcome.Redirect)

	_, err = customers.GetByEmail(ctx, "gone@example.com")
	assert.ErrorIs(t, err, repository.ErrCustomerNotFound)
	assert.Contains(t, p.invalidated, session)

	// No registry row is not an error.
	_, err = m.DeleteAccount(ctx, &auth.Claims{UserID: "idp|unknown"}, session)
	assert.NoError(t, err)
}

func TestManager_DeleteAccountFailuresStillClear(t *testing.T) {
	p := &fakeProvider{invalidateErr: errors.New("idp down")}
	m := NewManager(p, testTargets)

	outcome, err := m.DeleteAccount(context.Background(), nil, identity.Session{})
	assert.ErrorIs(t, err, ErrNotSignedIn)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Clear)

	outcome, err = m.DeleteAccount(context.Background(), &auth.Claims{UserID: "u1"}, identity.Session{RefreshToken: "r"})
	assert.Error(t, err)
	require.NotNil(t, outcome)
	assert.True(t, outcome.Clear)
}

func TestManager_DeleteAccountLogsRetainedSubject(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&fakeProvider{}, testTargets, WithLogger(zerolog.New(&buf)))

	_, err := m.DeleteAccount(context.Background(), &auth.Claims{UserID: "idp|42"}, identity.Session{RefreshToken: "r"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"provider_user_id":"idp|42"`)
	assert.Contains(t, buf.String(), "identity provider account retained")
}

func TestClientIPContext(t *testing.T) {
	assert.Empty(t, ClientIPFromContext(context.Background()))
	assert.Equal(t, "10.1.2.3", ClientIPFromContext(WithClientIP(context.Background(), "10.1.2.3")))
}

func configRoutes(home, landing, onboarding string) config.RoutesConfig {
	return config.RoutesConfig{Home: home, Landing: landing, Onboarding: onboarding}
}
