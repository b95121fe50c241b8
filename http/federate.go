package http

import (
	"context"

	"dentibot/domain"
	"dentibot/errs"
	"dentibot/oauth"
)

// federate converts a verified external identity into the local User +
// OAuthAccount pair. Both providers and both flows converge here. The
// email is the merge key, so two providers presenting the same address end
// up linked to a single user; that is account consolidation, not an error.
// Nothing is written before the identity has been verified upstream.
func federate(ctx context.Context, us domain.UserService, os domain.OAuthAccountService, identity *oauth.Identity) (*domain.User, error) {
	if identity.SubjectID == "" || identity.Email == "" {
		return nil, errs.Errorf(errs.EUNAUTHORIZED, "The identity provider did not supply an account.")
	}

	user := domain.User{
		Name:    identity.Name,
		Email:   identity.Email,
		Picture: identity.Picture,
	}
	if err := us.Upsert(ctx, &user); err != nil {
		return nil, err
	}

	account := domain.OAuthAccount{
		UserID:         user.ID,
		Provider:       identity.Provider,
		ProviderUserID: identity.SubjectID,
		AccessToken:    identity.AccessToken,
		RefreshToken:   identity.RefreshToken,
		ExpiresAt:      identity.ExpiresAt,
	}
	if err := os.Upsert(ctx, &account); err != nil {
		return nil, err
	}

	return &user, nil
}
