package domain

import (
	"context"
	"time"
)

// RefreshCredential is one long-lived session-renewal grant. Only a one-way
// hash of the secret is stored; the raw value travels in the refresh cookie
// and cannot be recovered once issued. Credentials are created and deleted,
// never updated in place.
type RefreshCredential struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type RefreshService interface {
	// Issue creates a credential for the user and returns the raw cookie
	// value. The raw value is never retrievable again.
	Issue(ctx context.Context, userID string) (string, error)

	// Redeem validates a raw cookie value against the stored hash and
	// consumes the credential. Any failure, including losing the race
	// against a concurrent redeem of the same credential, reports
	// EUNAUTHORIZED. On success it returns the owning user's id.
	Redeem(ctx context.Context, raw string) (string, error)

	// RevokeUser deletes every credential owned by the user.
	RevokeUser(ctx context.Context, userID string) error
}
