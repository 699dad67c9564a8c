// Package identity describes the user records owned by the surrounding
// application. The core only reads them.
package identity

import (
	"context"
	"strings"
)

// User is an account referenced by id everywhere in the core.
type User struct {
	ID        string `json:"id" yaml:"id"`
	FirstName string `json:"first_name" yaml:"first_name"`
	LastName  string `json:"last_name" yaml:"last_name"`
	Email     string `json:"email" yaml:"email"`
	Avatar    string `json:"avatar,omitempty" yaml:"avatar"`
}

// Name is the display name shown in member lists and mention results.
func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Directory resolves users. Lookups of unknown users return
// apperr.ErrNotFound.
type Directory interface {
	FindByID(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
