// Package identity talks to the external identity service that owns user
// accounts. The core only creates and looks up identities; it never deletes.
package identity

import (
	"context"
	"errors"
)

// ErrAlreadyExists is returned by Create when an identity for the email is
// already registered. Callers fall back to a lookup and reuse that identity.
var ErrAlreadyExists = errors.New("identity already exists")

// Identity is the authentication principal tied to an email address.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Service is the consumed identity interface. FindByEmail returns (nil, nil)
// when no identity is registered for the email.
type Service interface {
	Create(ctx context.Context, email string, metadata map[string]any, tempPassword string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
}
