package domain

import (
	"context"
	"time"
)

// Supported identity providers.
const (
	ProviderGoogle = "google"
	ProviderApple  = "apple"
)

// OAuthAccount links one external provider identity to one local user.
// The (Provider, ProviderUserID) pair is globally unique.
type OAuthAccount struct {
	ID             string `json:"id" gorm:"primaryKey"`
	UserID         string `json:"user_id" gorm:"index"`
	Provider       string `json:"provider" gorm:"uniqueIndex:idx_provider_subject,priority:1"`
	ProviderUserID string `json:"provider_user_id" gorm:"uniqueIndex:idx_provider_subject,priority:2"`

	// Provider tokens are only persisted for providers whose APIs we call
	// again later. They never appear in JSON responses.
	AccessToken  string     `json:"-"`
	RefreshToken string     `json:"-"`
	ExpiresAt    *time.Time `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type OAuthAccountService interface {
	ByProviderUserID(ctx context.Context, provider, providerUserID string) (*OAuthAccount, error)

	// Upsert creates the link or refreshes the stored provider tokens if
	// the (provider, subject) pair is already known.
	Upsert(ctx context.Context, account *OAuthAccount) error
}
