package server

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/storefront-labs/gateway/internal/access"
)

// Identity headers forwarded to the storefront application. Client-supplied values are
// always stripped.
const (
	HeaderUserID = "X-Storefront-User-Id"
	HeaderRoles  = "X-Storefront-Roles"
	HeaderAdmin  = "X-Storefront-Admin"
)

// NewUpstreamProxy returns a reverse proxy to the storefront application that forwards
// the identity of allowed requests.
func NewUpstreamProxy(rawURL string) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream url must be absolute")
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host

			pr.Out.Header.Del(HeaderUserID)
			pr.Out.Header.Del(HeaderRoles)
			pr.Out.Header.Del(HeaderAdmin)

			req, ok := access.RequestFromContext(pr.In.Context())
			if !ok {
				return
			}
			pr.Out.Header.Set(HeaderAdmin, strconv.FormatBool(req.Capabilities().Admin))
			if req.Claims != nil {
				pr.Out.Header.Set(HeaderUserID, req.Claims.UserID)
				pr.Out.Header.Set(HeaderRoles, strings.Join(req.Claims.Roles, ","))
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			hlog.FromRequest(r).Error().Err(err).Msg("upstream request failed")
			w.WriteHeader(http.StatusBadGateway)
		},
	}, nil
}
