package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xenitab/go-oidc-middleware/oidctoken"
	"github.com/xenitab/go-oidc-middleware/options"
)

type tokenParser interface {
	ParseToken(ctx context.Context, tokenString string) (map[string]any, error)
}

// VerifyingDecoder validates tokens against the issuer's published key set before
// mapping any claim.
type VerifyingDecoder struct {
	handler tokenParser
	mapper  ClaimMapper
}

// NewVerifyingDecoder builds a decoder for tokens minted by issuer for audience.
// The JWKS is fetched on first use so the gateway can start before the IdP is reachable.
func NewVerifyingDecoder(issuer, audience string, mapper ClaimMapper) (*VerifyingDecoder, error) {
	if issuer == "" {
		return nil, errors.New("oidc issuer is required")
	}
	if audience == "" {
		return nil, errors.New("oidc audience is required")
	}

	handler, err := oidctoken.New[map[string]any](nil,
		options.WithIssuer(issuer),
		options.WithRequiredAudience(audience),
		options.WithLazyLoadJwks(true),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise oidc token handler: %w", err)
	}

	return &VerifyingDecoder{handler: handler, mapper: mapper}, nil
}

// Decode implements Decoder. Tokens that fail validation return ErrTokenUnverified.
func (d *VerifyingDecoder) Decode(ctx context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	raw, err := d.handler.ParseToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenUnverified, err)
	}

	return d.mapper.Map(raw)
}
