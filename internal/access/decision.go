package access

import "github.com/storefront-labs/gateway/internal/auth"

// Verdict is the gateway's single outcome for a request.
type Verdict int

const (
	Allow Verdict = iota
	RedirectToSignIn
	RedirectToHome
	RedirectToForbidden
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case RedirectToSignIn:
		return "redirect_to_sign_in"
	case RedirectToHome:
		return "redirect_to_home"
	case RedirectToForbidden:
		return "redirect_to_forbidden"
	default:
		return "unknown"
	}
}

// Decide renders the verdict for a request.
//
// Token presence is checked before role. A present token whose claims could not be
// decoded (claims == nil) counts as signed in with an empty role set.
func Decide(hasToken bool, claims *auth.Claims, route Classification) Verdict {
	if !hasToken {
		if route == Public {
			return Allow
		}
		return RedirectToSignIn
	}

	switch route {
	case Public:
		return RedirectToHome
	case AdminOnly:
		if claims.HasRole(auth.RoleAdmin) {
			return Allow
		}
		return RedirectToForbidden
	default:
		return Allow
	}
}

// Capabilities are the role-derived flags exposed to code outside the decision engine.
type Capabilities struct {
	Admin bool `json:"admin"`
}

// CapabilitiesFor derives capability flags from claims. Nil claims have none.
func CapabilitiesFor(claims *auth.Claims) Capabilities {
	return Capabilities{Admin: claims.HasRole(auth.RoleAdmin)}
}
