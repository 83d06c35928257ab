package authgate

import "context"

type principalContextKey struct{}

// WithPrincipal attaches p to ctx. Adapters call it after an allowed
// [Engine.Check] so handlers can read the caller with [PrincipalFromContext].
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal stored by [WithPrincipal].
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}

	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}
