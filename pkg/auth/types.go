package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/roomdesk/pkg/contextkeys"
)

// User is an identity record. Role assignment lives in the rbac package.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Ability is a token scope
type Ability string

// AbilityAll grants every ability. Login tokens carry only this.
const AbilityAll Ability = "*"

// AccessToken is an issued bearer token. The plaintext is never stored.
type AccessToken struct {
	ID          int64      `json:"id,omitempty"`
	UserID      int64      `json:"user_id"`
	Name        string     `json:"name"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Abilities   []Ability  `json:"abilities"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Expired reports whether the token has an expiry at or before now
func (t *AccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Can checks if the token grants ability
func (t *AccessToken) Can(ability Ability) bool {
	for _, a := range t.Abilities {
		if a == AbilityAll || a == ability {
			return true
		}
	}
	return false
}

// AuthContext holds the authenticated user and the token used for this request
type AuthContext struct {
	User  *User
	Token *AccessToken
}

// UserID returns the authenticated user's id, or 0
func (ac *AuthContext) UserID() int64 {
	if ac == nil || ac.User == nil {
		return 0
	}
	return ac.User.ID
}

// FromContext extracts the auth context installed by the auth middleware
func FromContext(ctx context.Context) *AuthContext {
	authCtx, _ := ctx.Value(contextkeys.AuthKey).(*AuthContext)
	return authCtx
}
