package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed indicates the token could not be parsed into claims.
	ErrTokenMalformed = errors.New("malformed session token")
	// ErrTokenUnverified indicates the token parsed but failed signature, issuer or audience checks.
	ErrTokenUnverified = errors.New("session token failed verification")
)

// Decoder turns a raw access token into Claims.
//
// An empty token is not an error: Decode returns (nil, nil) so callers can tell an
// anonymous request apart from a corrupt cookie.
type Decoder interface {
	Decode(ctx context.Context, token string) (*Claims, error)
}

// UnverifiedDecoder parses the JWT payload without checking its signature.
// It is only safe when an upstream component has already validated the token.
type UnverifiedDecoder struct {
	parser *jwt.Parser
	mapper ClaimMapper
}

// NewUnverifiedDecoder returns a decoder that trusts the token payload as-is.
func NewUnverifiedDecoder(mapper ClaimMapper) *UnverifiedDecoder {
	return &UnverifiedDecoder{
		parser: jwt.NewParser(),
		mapper: mapper,
	}
}

// Decode implements Decoder.
func (d *UnverifiedDecoder) Decode(_ context.Context, token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	raw := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(token, raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	return d.mapper.Map(raw)
}

// HashToken creates a SHA256 hash of a token string.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
