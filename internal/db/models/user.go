// Package models - user.go defines the User model for accounts that sign in with
// a password or through OIDC.
package models

import "time"

// User represents a user in the system
type User struct {
	ID           string    `json:"id"`
	Login        string    `json:"login"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash *string   `json:"-"`                  // bcrypt; nil for OIDC-only accounts
	OIDCSub      *string   `json:"oidc_sub,omitempty"` // OIDC subject identifier (unique per provider)
	Admin        bool      `json:"admin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Scopes returns the authorization scopes granted to the user.
// Admins hold the "admin" scope, which implies every other scope.
func (u *User) Scopes() []string {
	if u.Admin {
		return []string{"admin"}
	}
	return []string{}
}

// HasPassword reports whether the account can sign in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}
