package server

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"

	"github.com/storefront-labs/gateway/internal/access"
	"github.com/storefront-labs/gateway/internal/session"
)

const maxFormBytes = 64 << 10

// profileFormFields are the sign-up form inputs forwarded as profile fields.
var profileFormFields = []string{"first_name", "last_name", "phone"}

// SignUpRequest is the JSON body accepted by POST /sign-up.
type SignUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Profile  map[string]any `json:"profile,omitempty"`
}

// SessionResponse describes the caller's session as seen by the gateway.
type SessionResponse struct {
	SignedIn     bool                `json:"signed_in"`
	UserID       string              `json:"user_id,omitempty"`
	Email        string              `json:"email,omitempty"`
	Roles        []string            `json:"roles"`
	Capabilities access.Capabilities `json:"capabilities"`
	Route        string              `json:"route"`
}

// HandleSignIn authenticates an email/password form and sets the session cookies.
// Accepts application/json or form-encoded bodies.
func HandleSignIn(sessions *session.Manager, cookies *session.CookieJar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeForm(w, r)
		if err != nil {
			writeError(w, r, err, "")
			return
		}

		outcome, err := sessions.SignIn(withClientIP(r), req.Email, req.Password)
		if err != nil {
			writeError(w, r, err, "")
			return
		}
		cookies.Apply(w, r, outcome)
		http.Redirect(w, r, outcome.Redirect, http.StatusSeeOther)
	}
}

// HandleSignUp creates an account and sets the session cookies.
func HandleSignUp(sessions *session.Manager, cookies *session.CookieJar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decodeForm(w, r)
		if err != nil {
			writeError(w, r, err, "")
			return
		}

		outcome, err := sessions.SignUp(withClientIP(r), session.SignUpRequest{
			Email:    req.Email,
			Password: req.Password,
			Profile:  req.Profile,
		})
		if err != nil {
			writeError(w, r, err, "")
			return
		}
		cookies.Apply(w, r, outcome)
		http.Redirect(w, r, outcome.Redirect, http.StatusSeeOther)
	}
}

// HandleSignOut invalidates the session and clears the cookies, even when the IdP fails.
func HandleSignOut(sessions *session.Manager, cookies *session.CookieJar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		outcome, err := sessions.SignOut(r.Context(), cookies.Read(r))
		cookies.Apply(w, r, outcome)
		if err != nil {
			writeError(w, r, err, outcome.Redirect)
			return
		}
		http.Redirect(w, r, outcome.Redirect, http.StatusSeeOther)
	}
}

// HandleDeleteAccount removes the caller's account and clears the cookies.
func HandleDeleteAccount(sessions *session.Manager, cookies *session.CookieJar) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, _ := access.RequestFromContext(r.Context())

		outcome, err := sessions.DeleteAccount(r.Context(), req.Claims, cookies.Read(r))
		cookies.Apply(w, r, outcome)
		if err != nil {
			writeError(w, r, err, outcome.Redirect)
			return
		}
		http.Redirect(w, r, outcome.Redirect, http.StatusSeeOther)
	}
}

// HandleSession returns the claims and capabilities of the current request.
func HandleSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, _ := access.RequestFromContext(r.Context())

		resp := SessionResponse{
			SignedIn:     req.SignedIn(),
			Roles:        []string{},
			Capabilities: req.Capabilities(),
			Route:        req.Route.String(),
		}
		if req.Claims != nil {
			resp.UserID = req.Claims.UserID
			resp.Email = req.Claims.Email
			resp.Roles = append(resp.Roles, req.Claims.Roles...)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleForbidden renders the page signed-in customers land on after an admin redirect.
func HandleForbidden() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("You do not have access to this page."))
	}
}

// decodeForm reads email, password and any profile fields from a JSON or form body.
func decodeForm(w http.ResponseWriter, r *http.Request) (SignUpRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var req SignUpRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Email = r.PostForm.Get("email")
	req.Password = r.PostForm.Get("password")

	profile := map[string]any{}
	for _, field := range profileFormFields {
		if v := r.PostForm.Get(field); v != "" {
			profile[field] = v
		}
	}
	if v := r.PostForm.Get("marketing_opt_in"); v != "" {
		optIn := v == "on"
		if !optIn {
			optIn, _ = strconv.ParseBool(v)
		}
		profile["marketing_opt_in"] = optIn
	}
	if len(profile) > 0 {
		req.Profile = profile
	}
	return req, nil
}

func withClientIP(r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return session.WithClientIP(r.Context(), ip)
}
