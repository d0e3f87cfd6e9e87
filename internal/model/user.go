// Package model defines domain entities for the application.
package model

import "time"

// DefaultKeyTTL is how long an issued API key stays valid.
const DefaultKeyTTL = 365 * 24 * time.Hour

// User is the owner of exactly one API key.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	HashedAPIKey string    `json:"-"` // Never serialize
	CreatedAt    time.Time `json:"created_at"`
	KeyExpiresAt time.Time `json:"key_expires_at"`
	IsValid      bool      `json:"is_valid"`
}

// IsExpired reports whether the key has reached its expiry at now.
func (u *User) IsExpired(now time.Time) bool {
	return !now.Before(u.KeyExpiresAt)
}

// IsUsable reports whether the key may authenticate at now.
func (u *User) IsUsable(now time.Time) bool {
	return u.IsValid && !u.IsExpired(now)
}

// ToResponse converts a User to its public representation.
func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:           u.ID,
		Email:        u.Email,
		CreatedAt:    u.CreatedAt,
		KeyExpiresAt: u.KeyExpiresAt,
		IsValid:      u.IsValid,
	}
}

// RegisterRequest is the body of POST /users.
type RegisterRequest struct {
	Email        string `json:"email" validate:"required,email,max=254"`
	BootstrapKey string `json:"bootstrap_key"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"created_at"`
	KeyExpiresAt time.Time `json:"key_expires_at"`
	IsValid      bool      `json:"is_valid"`
}

// KeyIssuedMessage accompanies every response that carries a plaintext key.
const KeyIssuedMessage = "Store this API key securely - it won't be shown again"

// UserCreatedResponse includes the plaintext key (shown only once).
type UserCreatedResponse struct {
	Email        string    `json:"email"`
	APIKey       string    `json:"api_key"` // Plaintext - display once only!
	KeyExpiresAt time.Time `json:"key_expires_at"`
	Message      string    `json:"message"`
}
