package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestUnverifiedDecoder_AbsentToken(t *testing.T) {
	d := NewUnverifiedDecoder(ClaimMapper{})

	for _, token := range []string{"", "   "} {
		claims, err := d.Decode(context.Background(), token)
		assert.NoError(t, err)
		assert.Nil(t, claims)
	}
}

func TestUnverifiedDecoder_Malformed(t *testing.T) {
	d := NewUnverifiedDecoder(ClaimMapper{})

	tests := []struct {
		name  string
		token string
	}{
		{name: "not a jwt", token: "garbage"},
		{name: "bad base64 payload", token: "eyJhbGciOiJIUzI1NiJ9.!!!.sig"},
		{name: "missing subject", token: signToken(t, jwt.MapClaims{"email": "a@example.com"})},
		{name: "roles is an object", token: signToken(t, jwt.MapClaims{"sub": "u1", "roles": map[string]any{"a": 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := d.Decode(context.Background(), tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTokenMalformed), "got %v", err)
			assert.Nil(t, claims)
		})
	}
}

func TestUnverifiedDecoder_Decode(t *testing.T) {
	d := NewUnverifiedDecoder(ClaimMapper{})
	iat := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exp := iat.Add(time.Hour)

	token := signToken(t, jwt.MapClaims{
		"user_id":        "user-123",
		"sub":            "ignored-subject",
		"email":          "shopper@example.com",
		"email_verified": true,
		"roles":          []string{"admin", "customer", "admin"},
		"iat":            iat.Unix(),
		"exp":            exp.Unix(),
	})

	claims, err := d.Decode(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, claims)

	assert.Equal(t, "user-123", claims.UserID)
	assert.Equal(t, "shopper@example.com", claims.Email)
	assert.True(t, claims.EmailVerified)
	assert.Equal(t, []string{"admin", "customer"}, claims.Roles)
	assert.True(t, claims.IssuedAt.Equal(iat))
	assert.True(t, claims.ExpiresAt.Equal(exp))
}

func TestClaimMapper_Variants(t *testing.T) {
	tests := []struct {
		name      string
		mapper    ClaimMapper
		raw       map[string]any
		wantID    string
		wantRoles []string
	}{
		{
			name:      "subject fallback",
			raw:       map[string]any{"sub": "abc"},
			wantID:    "abc",
			wantRoles: []string{},
		},
		{
			name:      "single role string",
			raw:       map[string]any{"sub": "abc", "roles": "customer"},
			wantID:    "abc",
			wantRoles: []string{"customer"},
		},
		{
			name:      "custom claim name",
			mapper:    ClaimMapper{RolesClaim: "groups"},
			raw:       map[string]any{"sub": "abc", "roles": []any{"ignored"}, "groups": []any{"admin"}},
			wantID:    "abc",
			wantRoles: []string{"admin"},
		},
		{
			name:   "nested claim path",
			mapper: ClaimMapper{RolesClaim: "app_metadata.roles"},
			raw: map[string]any{
				"sub":          "abc",
				"app_metadata": map[string]any{"roles": []any{"admin", " customer "}},
			},
			wantID:    "abc",
			wantRoles: []string{"admin", "customer"},
		},
		{
			name:      "nested path not an object",
			mapper:    ClaimMapper{RolesClaim: "app_metadata.roles"},
			raw:       map[string]any{"sub": "abc", "app_metadata": "flat"},
			wantID:    "abc",
			wantRoles: []string{},
		},
		{
			name:      "string booleans and float dates",
			raw:       map[string]any{"user_id": "u", "email_verified": "true", "exp": float64(1900000000)},
			wantID:    "u",
			wantRoles: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := tt.mapper.Map(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, claims.UserID)
			assert.Equal(t, tt.wantRoles, claims.Roles)
		})
	}
}

func TestClaims_HasRoleAndExpired(t *testing.T) {
	var nilClaims *Claims
	assert.False(t, nilClaims.HasRole(RoleAdmin))
	assert.False(t, nilClaims.Expired(time.Now()))

	now := time.Now()
	c := &Claims{UserID: "u", Roles: []string{RoleCustomer}}
	assert.True(t, c.HasRole(RoleCustomer))
	assert.False(t, c.HasRole(RoleAdmin))
	assert.False(t, c.Expired(now), "no exp claim means no expiry")

	c.ExpiresAt = now.Add(-time.Second)
	assert.True(t, c.Expired(now))
	c.ExpiresAt = now.Add(time.Minute)
	assert.False(t, c.Expired(now))
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("a"), HashToken("a"))
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
	assert.Len(t, HashToken("anything"), 64)
}

type stubParser struct {
	claims map[string]any
	err    error
}

func (s stubParser) ParseToken(context.Context, string) (map[string]any, error) {
	return s.claims, s.err
}

func TestVerifyingDecoder(t *testing.T) {
	_, err := NewVerifyingDecoder("", "storefront", ClaimMapper{})
	assert.Error(t, err)
	_, err = NewVerifyingDecoder("https://idp.example.com", "", ClaimMapper{})
	assert.Error(t, err)

	rejecting := &VerifyingDecoder{handler: stubParser{err: errors.New("signature mismatch")}}
	claims, err := rejecting.Decode(context.Background(), "header.payload.sig")
	assert.ErrorIs(t, err, ErrTokenUnverified)
	assert.Nil(t, claims)

	claims, err = rejecting.Decode(context.Background(), "")
	assert.NoError(t, err)
	assert.Nil(t, claims)

	accepting := &VerifyingDecoder{handler: stubParser{claims: map[string]any{"sub": "u1", "roles": []any{"admin"}}}}
	claims, err = accepting.Decode(context.Background(), "header.payload.sig")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.True(t, claims.HasRole(RoleAdmin))
}

type countingDecoder struct {
	calls  int
	claims *Claims
	err    error
}

func (c *countingDecoder) Decode(_ context.Context, token string) (*Claims, error) {
	c.calls++
	if token == "" {
		return nil, nil
	}
	return c.claims, c.err
}

func TestCachingDecoder(t *testing.T) {
	ctx := context.Background()

	t.Run("caches successful decodes", func(t *testing.T) {
		inner := &countingDecoder{claims: &Claims{UserID: "u1"}}
		d := NewCachingDecoder(inner, 8, time.Minute)

		for range 3 {
			claims, err := d.Decode(ctx, "token-a")
			require.NoError(t, err)
			assert.Equal(t, "u1", claims.UserID)
		}
		assert.Equal(t, 1, inner.calls)
		assert.Equal(t, 1, d.Len())
	})

	t.Run("does not cache failures", func(t *testing.T) {
		inner := &countingDecoder{err: ErrTokenMalformed}
		d := NewCachingDecoder(inner, 8, time.Minute)

		_, err := d.Decode(ctx, "bad")
		assert.ErrorIs(t, err, ErrTokenMalformed)
		_, err = d.Decode(ctx, "bad")
		assert.ErrorIs(t, err, ErrTokenMalformed)
		assert.Equal(t, 2, inner.calls)
		assert.Equal(t, 0, d.Len())
	})

	t.Run("absent token bypasses cache", func(t *testing.T) {
		inner := &countingDecoder{}
		d := NewCachingDecoder(inner, 8, time.Minute)

		claims, err := d.Decode(ctx, "")
		assert.NoError(t, err)
		assert.Nil(t, claims)
		assert.Equal(t, 0, inner.calls)
	})

	t.Run("entries never outlive token expiry", func(t *testing.T) {
		now := time.Now()
		inner := &countingDecoder{claims: &Claims{UserID: "u1", ExpiresAt: now.Add(time.Second)}}
		d := NewCachingDecoder(inner, 8, time.Hour)
		d.now = func() time.Time { return now }

		_, err := d.Decode(ctx, "token-b")
		require.NoError(t, err)
		assert.Equal(t, 1, d.Len())

		d.now = func() time.Time { return now.Add(2 * time.Second) }
		_, err = d.Decode(ctx, "token-b")
		require.NoError(t, err)
		assert.Equal(t, 2, inner.calls)
		assert.Equal(t, 0, d.Len(), "expired token must not be re-cached")
	})
}
