package domain

import (
	"context"
	"time"
)

// User roles. Every user is a regular USER unless promoted by hand.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID      string `json:"id" gorm:"primaryKey"`
	Name    string `json:"name"`
	Email   string `json:"email" gorm:"uniqueIndex"`
	Picture string `json:"picture"`
	Role    string `json:"role" gorm:"default:USER"`

	// Reference into the payment processor, set once the user becomes a
	// paying customer. Empty for free accounts.
	CustomerID string `json:"customer_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OAuthAccounts []OAuthAccount `json:"-" gorm:"foreignKey:UserID"`
}

type UserService interface {
	ByID(ctx context.Context, id string) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)

	// Create makes a brand-new user. A taken email is an ECONFLICT.
	Create(ctx context.Context, user *User) error

	// Upsert merges the user in by normalized email: profile fields are
	// updated on a match, a record is created otherwise.
	Upsert(ctx context.Context, user *User) error

	Update(ctx context.Context, user *User) error

	// Delete removes the user and every owned record in one transaction.
	Delete(ctx context.Context, id string) error
}
