package auth

import "context"

type ctxKey int

const identityKey ctxKey = iota

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Role   string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the caller identity and whether one was set.
func FromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(identityKey).(Identity)
	if !ok || v.UserID == "" {
		return Identity{}, false
	}
	return v, true
}

// UserID is a shorthand for handlers that only need the caller id.
func UserID(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}
