package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/auctoritas/auctoritas"
)

// DefaultTenantHeader carries the tenant id on API requests.
const DefaultTenantHeader = "X-Tenant-ID"

// RequestOptions configures RequestContext.
type RequestOptions struct {
	// TenantHeader defaults to DefaultTenantHeader.
	TenantHeader string
	// TrustForwardedFor takes the client IP from the first X-Forwarded-For
	// entry. Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// RequestContext attaches the tenant, client IP and user agent of each
// request to its context so engine operations can read them.
func RequestContext(opts RequestOptions) func(http.Handler) http.Handler {
	header := opts.TenantHeader
	if header == "" {
		header = DefaultTenantHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if tenantID := strings.TrimSpace(r.Header.Get(header)); tenantID != "" {
				ctx = auctoritas.WithTenantID(ctx, tenantID)
			}
			if ip := clientIP(r, opts.TrustForwardedFor); ip != "" {
				ctx = auctoritas.WithClientIP(ctx, ip)
			}
			if ua := r.UserAgent(); ua != "" {
				ctx = auctoritas.WithUserAgent(ctx, ua)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip.String()
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}
