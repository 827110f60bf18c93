package models

import "testing"

// ---------------------------------------------------------------------------
// User.Scopes
// ---------------------------------------------------------------------------

func TestUserScopes(t *testing.T) {
	t.Run("admin holds admin scope", func(t *testing.T) {
		u := &User{Admin: true}
		scopes := u.Scopes()
		if len(scopes) != 1 || scopes[0] != "admin" {
			t.Errorf("Scopes() = %v, want [admin]", scopes)
		}
	})

	t.Run("regular user has no scopes", func(t *testing.T) {
		u := &User{}
		if scopes := u.Scopes(); scopes == nil || len(scopes) != 0 {
			t.Errorf("Scopes() = %#v, want empty non-nil slice", scopes)
		}
	})
}

// ---------------------------------------------------------------------------
// User.HasPassword
// ---------------------------------------------------------------------------

func TestUserHasPassword(t *testing.T) {
	empty := ""
	hash := "$2a$10$abcdefghijklmnopqrstuv"

	tests := []struct {
		name string
		hash *string
		want bool
	}{
		{"nil hash", nil, false},
		{"empty hash", &empty, false},
		{"bcrypt hash", &hash, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{PasswordHash: tt.hash}
			if got := u.HasPassword(); got != tt.want {
				t.Errorf("HasPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}
