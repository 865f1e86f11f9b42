package core

import "context"

type contextKey string

const ctxKeyRequestMeta contextKey = "request_meta"

// RequestMeta identifies the client that started an operation. It is
// attached to the log entries for accepted imports and deleted products.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// ContextWithRequestMeta adds client details to ctx.
func ContextWithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, ctxKeyRequestMeta, m)
}

// RequestMetaFromContext returns the client details in ctx, if any.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(ctxKeyRequestMeta).(RequestMeta)
	return m
}

// logArgs returns slog key/value pairs for the fields that are set.
func (m RequestMeta) logArgs() []any {
	var args []any
	if m.IP != "" {
		args = append(args, "client_ip", m.IP)
	}
	if m.UserAgent != "" {
		args = append(args, "user_agent", m.UserAgent)
	}
	return args
}
