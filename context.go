package gatekeeper

import "context"

type clientIPContextKey struct{}
type resultContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It feeds sign-in
// throttling and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

// WithResult stores an allowed evaluation result on ctx. HTTP middleware
// uses it to hand the combined user to handlers.
func WithResult(ctx context.Context, r Result) context.Context {
	return context.WithValue(ctx, resultContextKey{}, r)
}

// ResultFromContext returns the result stored by [WithResult].
func ResultFromContext(ctx context.Context) (Result, bool) {
	if ctx == nil {
		return Result{}, false
	}
	r, ok := ctx.Value(resultContextKey{}).(Result)
	return r, ok
}

// UserFromContext returns the combined user of an allowed navigation.
func UserFromContext(ctx context.Context) (CombinedUser, bool) {
	r, ok := ResultFromContext(ctx)
	if !ok || r.User == nil {
		return CombinedUser{}, false
	}
	return *r.User, true
}
