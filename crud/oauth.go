package crud

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dentibot/domain"
	"dentibot/errs"
)

// OAuthAccountService manages the links between external provider
// identities and local users. It implements domain.OAuthAccountService.
type OAuthAccountService struct {
	oauthValidator
}

type oauthValidator struct {
	oauthGorm
}

type oauthGorm struct {
	db *gorm.DB
}

// NewOAuthAccountService returns an instance of OAuthAccountService.
func NewOAuthAccountService(db *gorm.DB) *OAuthAccountService {
	return &OAuthAccountService{
		oauthValidator{
			oauthGorm{
				db: db,
			},
		},
	}
}

var _ domain.OAuthAccountService = &OAuthAccountService{}

// Upsert creates the provider link or refreshes its stored tokens if the
// (provider, subject) pair already exists.
func (ov *oauthValidator) Upsert(ctx context.Context, account *domain.OAuthAccount) error {
	err := runOAuthValFns(account,
		ov.userIDRequired,
		ov.providerValid,
		ov.providerUserIDRequired,
		ov.idSetIfUnset)
	if err != nil {
		return err
	}

	existing, err := ov.oauthGorm.ByProviderUserID(ctx, account.Provider, account.ProviderUserID)
	if err != nil {
		if errs.ErrorCode(err) == errs.ENOTFOUND {
			return ov.oauthGorm.Create(ctx, account)
		}
		return err
	}

	// Keep the original link; only the provider tokens rotate.
	existing.AccessToken = account.AccessToken
	existing.RefreshToken = account.RefreshToken
	existing.ExpiresAt = account.ExpiresAt
	if err := ov.oauthGorm.Update(ctx, existing); err != nil {
		return err
	}
	*account = *existing
	return nil
}

// runOAuthValFns runs any number of functions of type oauthValFn on the
// passed in OAuthAccount object, stopping at the first error.
func runOAuthValFns(account *domain.OAuthAccount, fns ...oauthValFn) error {
	for _, fn := range fns {
		if err := fn(account); err != nil {
			return err
		}
	}
	return nil
}

// A oauthValFn is any function that takes in a pointer to a
// domain.OAuthAccount object and returns an error.
type oauthValFn = func(account *domain.OAuthAccount) error

func (ov *oauthValidator) userIDRequired(account *domain.OAuthAccount) error {
	if account.UserID == "" {
		return errs.Errorf(errs.EINVALID, "A user ID is required.")
	}
	return nil
}

func (ov *oauthValidator) providerValid(account *domain.OAuthAccount) error {
	switch account.Provider {
	case domain.ProviderGoogle, domain.ProviderApple:
		return nil
	}
	return errs.Errorf(errs.EINVALID, "Unknown identity provider.")
}

func (ov *oauthValidator) providerUserIDRequired(account *domain.OAuthAccount) error {
	if account.ProviderUserID == "" {
		return errs.Errorf(errs.EINVALID, "A provider user ID is required.")
	}
	return nil
}

func (ov *oauthValidator) idSetIfUnset(account *domain.OAuthAccount) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	return nil
}

func (og *oauthGorm) ByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.OAuthAccount, error) {
	var account domain.OAuthAccount
	err := og.db.WithContext(ctx).
		Where("provider = ?", provider).
		Where("provider_user_id = ?", providerUserID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.Errorf(errs.ENOTFOUND, "The provider account does not exist.")
		}
		return nil, err
	}
	return &account, nil
}

func (og *oauthGorm) Create(ctx context.Context, account *domain.OAuthAccount) error {
	return og.db.WithContext(ctx).Create(account).Error
}

func (og *oauthGorm) Update(ctx context.Context, account *domain.OAuthAccount) error {
	return og.db.WithContext(ctx).Save(account).Error
}
