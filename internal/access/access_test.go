package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront-labs/gateway/internal/auth"
)

func claimsWith(roles ...string) *auth.Claims {
	return &auth.Claims{UserID: "user-1", Roles: roles}
}

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		path string
		want Classification
	}{
		{"/", Public},
		{"/sign-in", Public},
		{"/sign-up", Public},
		{"/forgot-password", Public},
		{"/sign-in/", Public},
		{"", Public},
		{"/admin", AdminOnly},
		{"/admin/business", AdminOnly},
		{"/administrator", AdminOnly},
		{"/my-orders", Protected},
		{"/home", Protected},
		{"/sign-in/extra", Protected},
		{"/events/42/tickets", Protected},
		{"/x/../admin/users", AdminOnly},
		{"//admin", AdminOnly},
		{"/./sign-in", Public},
		{"admin", AdminOnly},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.path))
		})
	}
}

func TestExcluded(t *testing.T) {
	c := DefaultClassifier()

	assert.True(t, c.Excluded("/static/app.js"))
	assert.True(t, c.Excluded("/_next/data/build.json"))
	assert.True(t, c.Excluded("/favicon.ico"))
	assert.True(t, c.Excluded("/health"))
	assert.True(t, c.Excluded("/metrics"))
	assert.False(t, c.Excluded("/admin"))
	assert.False(t, c.Excluded("/static/../admin/business"))
	assert.False(t, c.Excluded("/my-orders"))
}

func TestExcluded_SegmentBoundaries(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/", true},
		{"/health/live", true},
		{"/metrics", true},
		{"/static", true},
		{"/favicon.ico", true},
		{"/healthcare/records", false},
		{"/health-plans", false},
		{"/metrics-dashboard", false},
		{"/staticky", false},
		{"/favicon.ico.html", false},
		{"/_nextgen", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Excluded(tt.path))
		})
	}

	assert.False(t, NewClassifier(nil, "/admin", []string{"/"}).Excluded("/admin"),
		"a bare root entry must not exclude everything")
}

func TestDecide_TruthTable(t *testing.T) {
	tests := []struct {
		name     string
		hasToken bool
		claims   *auth.Claims
		route    Classification
		want     Verdict
	}{
		{"anonymous public", false, nil, Public, Allow},
		{"anonymous protected", false, nil, Protected, RedirectToSignIn},
		{"anonymous admin", false, nil, AdminOnly, RedirectToSignIn},
		{"signed in public", true, claimsWith(auth.RoleCustomer), Public, RedirectToHome},
		{"admin on public", true, claimsWith(auth.RoleAdmin), Public, RedirectToHome},
		{"customer on admin", true, claimsWith(auth.RoleCustomer), AdminOnly, RedirectToForbidden},
		{"admin on admin", true, claimsWith(auth.RoleAdmin), AdminOnly, Allow},
		{"customer on protected", true, claimsWith(auth.RoleCustomer), Protected, Allow},
		{"no roles on protected", true, claimsWith(), Protected, Allow},
		{"malformed token on public", true, nil, Public, RedirectToHome},
		{"malformed token on protected", true, nil, Protected, Allow},
		{"malformed token on admin", true, nil, AdminOnly, RedirectToForbidden},
		{"claims ignored without token", false, claimsWith(auth.RoleAdmin), AdminOnly, RedirectToSignIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.hasToken, tt.claims, tt.route)
			assert.Equal(t, tt.want, got, "got %s want %s", got, tt.want)
			assert.Equal(t, got, Decide(tt.hasToken, tt.claims, tt.route), "decide must be deterministic")
		})
	}
}

func TestDecide_Scenarios(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		path   string
		claims *auth.Claims
		want   Verdict
	}{
		{"/sign-in", nil, Allow},
		{"/sign-in", claimsWith("customer"), RedirectToHome},
		{"/admin/business", nil, RedirectToSignIn},
		{"/admin/business", claimsWith("customer"), RedirectToForbidden},
		{"/admin/business", claimsWith("admin", "customer"), Allow},
		{"/my-orders", claimsWith("customer"), Allow},
	}

	for _, tt := range tests {
		hasToken := tt.claims != nil
		got := Decide(hasToken, tt.claims, c.Classify(tt.path))
		assert.Equal(t, tt.want, got, "path=%s roles=%v", tt.path, tt.claims)
	}
}

func TestDecide_Properties(t *testing.T) {
	c := DefaultClassifier()
	admin := claimsWith(auth.RoleAdmin)
	customer := claimsWith(auth.RoleCustomer)

	for _, p := range DefaultPublicPaths {
		assert.Equal(t, Allow, Decide(false, nil, c.Classify(p)), p)
		assert.Equal(t, RedirectToHome, Decide(true, admin, c.Classify(p)), p)
	}

	for _, p := range []string{"/admin", "/admin/", "/admin/users/7", "/admin/events"} {
		assert.Equal(t, RedirectToForbidden, Decide(true, customer, c.Classify(p)), p)
		assert.Equal(t, Allow, Decide(true, admin, c.Classify(p)), p)
		assert.NotEqual(t, Allow, Decide(false, nil, c.Classify(p)), p)
	}

	for _, p := range []string{"/home", "/my-orders", "/messages", "/events/1"} {
		assert.Equal(t, RedirectToSignIn, Decide(false, nil, c.Classify(p)), p)
		assert.Equal(t, Allow, Decide(true, customer, c.Classify(p)), p)
		assert.Equal(t, Allow, Decide(true, admin, c.Classify(p)), p)
	}
}

func TestCapabilitiesFor(t *testing.T) {
	assert.False(t, CapabilitiesFor(nil).Admin)
	assert.False(t, CapabilitiesFor(claimsWith(auth.RoleCustomer)).Admin)
	assert.True(t, CapabilitiesFor(claimsWith(auth.RoleCustomer, auth.RoleAdmin)).Admin)
}

func TestRequestContext(t *testing.T) {
	_, ok := RequestFromContext(context.Background())
	assert.False(t, ok)

	want := Request{HasToken: true, Claims: claimsWith(auth.RoleAdmin), Route: AdminOnly, Verdict: Allow}
	ctx := WithRequest(context.Background(), want)

	got, ok := RequestFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, got.SignedIn())
	assert.True(t, got.Capabilities().Admin)

	assert.False(t, Request{HasToken: true}.SignedIn())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "admin_only", AdminOnly.String())
	assert.Equal(t, "public", Public.String())
	assert.Equal(t, "protected", Protected.String())
	assert.Equal(t, "redirect_to_forbidden", RedirectToForbidden.String())
	assert.Equal(t, "allow", Allow.String())
}
