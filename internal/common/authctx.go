package common

import "context"

type ctxKey string

const identityKey ctxKey = "auth/identity"

// Identity describes the authenticated employee behind a request.
type Identity struct {
	ObjectID string
	Name     string
	Email    string
}

// WithIdentity stores the authenticated identity on the provided context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity from the context if present.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// UserID returns the caller's directory object id.
func UserID(ctx context.Context) (string, bool) {
	id, ok := IdentityFrom(ctx)
	if !ok || id.ObjectID == "" {
		return "", false
	}
	return id.ObjectID, true
}
