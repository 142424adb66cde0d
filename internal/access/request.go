package access

import (
	"context"

	"github.com/storefront-labs/gateway/internal/auth"
)

// Request is the authorization state of one inbound request, computed once by the
// gateway and passed down the handler chain on the context.
type Request struct {
	HasToken bool
	Claims   *auth.Claims
	Route    Classification
	Verdict  Verdict
}

// Capabilities returns the capability flags for the request's claims.
func (r Request) Capabilities() Capabilities {
	return CapabilitiesFor(r.Claims)
}

// SignedIn reports whether the request carries decodable claims.
func (r Request) SignedIn() bool {
	return r.HasToken && r.Claims != nil
}

type requestContextKey struct{}

// WithRequest stores the authorization state on ctx.
func WithRequest(ctx context.Context, req Request) context.Context {
	return context.WithValue(ctx, requestContextKey{}, req)
}

// RequestFromContext returns the authorization state stored by the gateway.
func RequestFromContext(ctx context.Context) (Request, bool) {
	req, ok := ctx.Value(requestContextKey{}).(Request)
	return req, ok
}
