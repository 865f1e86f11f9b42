package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/catalog-import/internal/core"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx for the
// service's log entries.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ip := r.RemoteAddr // already resolved by middleware.TrustedRealIP
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return core.ContextWithRequestMeta(ctx, core.RequestMeta{
		IP:        ip,
		UserAgent: r.UserAgent(),
	})
}
