// Package credentials resolves the access tokens users granted to provider apps.
package credentials

import (
	"context"
	"errors"

	"github.com/unifyos/unify/pkg/models"
)

var (
	// ErrNotConnected is returned when the user has no active token for an app.
	ErrNotConnected = errors.New("app not connected")

	// ErrUnknownAccount is returned when an external account maps to no user.
	ErrUnknownAccount = errors.New("unknown external account")
)

// Store returns the decrypted token a user holds for an app.
//
// Token marks the token as used; Connected only reports whether one exists.
type Store interface {
	Token(ctx context.Context, userID, app string) (*models.Token, error)
	Connected(ctx context.Context, userID, app string) (bool, error)
}

// IdentityResolver maps a provider-side account (for example a Slack team id)
// to the user who connected it.
type IdentityResolver interface {
	ResolveUser(ctx context.Context, app, externalAccountID string) (string, error)
}

// IsNotConnected reports whether err means the app is not connected.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
