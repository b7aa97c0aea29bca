package audit

import "context"

type ctxKey string

const ctxRequestMetaKey ctxKey = "audit_request_meta"

// RequestMeta is the request context copied onto audit entries.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// WithRequestMeta returns a context carrying the caller's ip and user agent.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, ctxRequestMetaKey, meta)
}

// RequestMetaFromCtx returns the request metadata, or the zero value.
func RequestMetaFromCtx(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(ctxRequestMetaKey).(RequestMeta)
	return m
}
