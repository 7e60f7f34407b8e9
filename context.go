package credkit

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's source address to ctx. Throttles count
// per-IP as well as per-identifier when it is present; without it only the
// identifier budget applies.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// ClientIP returns the address set by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
