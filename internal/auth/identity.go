package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity is returned when a write is attempted without a signed-in user.
var ErrNoIdentity = errors.New("no signed-in user")

// Identity is the acting user for the current request.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok && identity.UserID != ""
}

// CurrentUserID resolves the acting user from ctx. Clients call it per write
// so attribution always follows the request, never a cached session.
func CurrentUserID(ctx context.Context) (string, error) {
	identity, ok := IdentityFrom(ctx)
	if !ok {
		return "", ErrNoIdentity
	}
	return identity.UserID, nil
}
