package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/storefront-labs/gateway/internal/config"
)

const maxResponseBytes = 1 << 20

// OIDCProvider talks to an OpenID Connect provider discovered from its issuer URL.
//
// Sign-in uses the resource-owner password grant, sign-out revokes the presented token
// (RFC 7009) and sign-up posts to the provider's registration endpoint.
type OIDCProvider struct {
	rp              rp.RelyingParty
	httpClient      *http.Client
	registrationURL string
	registrar       *clientcredentials.Config
	now             func() time.Time
}

// NewOIDCProvider performs discovery against cfg.Issuer.
func NewOIDCProvider(ctx context.Context, cfg config.IdentityProvider) (*OIDCProvider, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("idp issuer is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	relyingParty, err := rp.NewRelyingPartyOIDC(
		ctx,
		cfg.Issuer,
		cfg.ClientID,
		cfg.ClientSecret,
		"", // redirectURI - not used for the password grant
		cfg.Scopes,
		rp.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider at %s: %w", cfg.Issuer, err)
	}

	p := &OIDCProvider{
		rp:              relyingParty,
		httpClient:      httpClient,
		registrationURL: cfg.RegistrationURL,
		now:             time.Now,
	}

	// Registration calls are authorized with the gateway's own client credentials.
	if cfg.ClientSecret != "" {
		p.registrar = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     relyingParty.OAuthConfig().Endpoint.TokenURL,
		}
	}

	return p, nil
}

// Authenticate exchanges an email and password for a token pair.
func (p *OIDCProvider) Authenticate(ctx context.Context, email, password string) (TokenPair, error) {
	token, err := p.rp.OAuthConfig().PasswordCredentialsToken(p.clientContext(ctx), email, password)
	if err != nil {
		return TokenPair{}, mapTokenError("authenticate", err)
	}
	return pairFromToken(token), nil
}

// Invalidate revokes the refresh token, falling back to the access token when the
// client only holds the latter. A session with no tokens is a no-op.
func (p *OIDCProvider) Invalidate(ctx context.Context, session Session) error {
	token, hint := session.RefreshToken, "refresh_token"
	if token == "" {
		token, hint = session.AccessToken, "access_token"
	}
	if token == "" {
		return nil
	}

	if err := rp.RevokeToken(p.clientContext(ctx), p.rp, token, hint); err != nil {
		return &ProviderError{Op: "invalidate", Err: err}
	}
	return nil
}

type registrationReply struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// CreateAccount registers a new account and returns the session issued for it.
func (p *OIDCProvider) CreateAccount(ctx context.Context, reg Registration) (TokenPair, error) {
	if p.registrationURL == "" {
		return TokenPair{}, &ProviderError{Op: "create_account", Description: "registration endpoint not configured"}
	}

	body, err := json.Marshal(reg)
	if err != nil {
		return TokenPair{}, fmt.Errorf("encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.registrationURL, bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.registrationClient(ctx).Do(req)
	if err != nil {
		return TokenPair{}, &ProviderError{Op: "create_account", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return TokenPair{}, &ProviderError{Op: "create_account", StatusCode: resp.StatusCode, Err: err}
	}

	var reply registrationReply
	decodeErr := json.Unmarshal(payload, &reply)

	if resp.StatusCode == http.StatusConflict || reply.Error == "user_exists" {
		return TokenPair{}, ErrAccountExists
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TokenPair{}, &ProviderError{
			Op:          "create_account",
			StatusCode:  resp.StatusCode,
			Code:        reply.Error,
			Description: reply.ErrorDescription,
		}
	}
	if decodeErr != nil {
		return TokenPair{}, &ProviderError{Op: "create_account", StatusCode: resp.StatusCode, Err: decodeErr}
	}
	if reply.AccessToken == "" {
		return TokenPair{}, &ProviderError{
			Op:          "create_account",
			StatusCode:  resp.StatusCode,
			Description: "registration response missing access_token",
		}
	}

	pair := TokenPair{AccessToken: reply.AccessToken, RefreshToken: reply.RefreshToken}
	if reply.ExpiresIn > 0 {
		pair.ExpiresAt = p.now().Add(time.Duration(reply.ExpiresIn) * time.Second)
	}
	return pair, nil
}

func (p *OIDCProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *OIDCProvider) registrationClient(ctx context.Context) *http.Client {
	if p.registrar == nil {
		return p.httpClient
	}
	return p.registrar.Client(p.clientContext(ctx))
}

func pairFromToken(token *oauth2.Token) TokenPair {
	return TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
}

func mapTokenError(op string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return ErrInvalidCredentials
		}
		pe := &ProviderError{
			Op:          op,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
		if retrieveErr.Response != nil {
			pe.StatusCode = retrieveErr.Response.StatusCode
		}
		return pe
	}
	return &ProviderError{Op: op, Err: err}
}
