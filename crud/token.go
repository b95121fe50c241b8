package crud

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"dentibot/domain"
	"dentibot/errs"
)

// RefreshSecretBytes is the entropy of a refresh secret.
const RefreshSecretBytes = 32

// RefreshService issues and redeems refresh credentials. The cookie value
// is "<credential id>.<secret>": the id is a non-secret lookup key, only
// the secret is compared against the stored bcrypt hash. Credentials are
// single-use; redeeming one deletes it. It implements domain.RefreshService.
type RefreshService struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewRefreshService returns an instance of RefreshService.
func NewRefreshService(db *gorm.DB, ttl time.Duration) *RefreshService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RefreshService{
		db:  db,
		ttl: ttl,
	}
}

var _ domain.RefreshService = &RefreshService{}

// Issue creates a credential for the user and returns the raw cookie value.
// Expired leftovers of the same user are purged on the way.
func (rs *RefreshService) Issue(ctx context.Context, userID string) (string, error) {
	secret, err := randomString(RefreshSecretBytes)
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	credential := domain.RefreshCredential{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: string(hash),
		ExpiresAt: time.Now().Add(rs.ttl),
	}
	if err := rs.db.WithContext(ctx).Create(&credential).Error; err != nil {
		return "", err
	}

	// Opportunistic cleanup; a failure here never fails the issuance.
	rs.db.WithContext(ctx).
		Where("user_id = ? AND expires_at < ?", userID, time.Now()).
		Delete(&domain.RefreshCredential{})

	return credential.ID + "." + secret, nil
}

// Redeem validates a raw cookie value and consumes the credential.
// The delete by primary key is the serialization point for two requests
// racing with the same credential: the loser's delete affects zero rows
// and comes back EUNAUTHORIZED, forcing a fresh login.
func (rs *RefreshService) Redeem(ctx context.Context, raw string) (string, error) {
	id, secret, ok := splitRaw(raw)
	if !ok {
		return "", errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
	}

	var credential domain.RefreshCredential
	err := rs.db.WithContext(ctx).
		Where("id = ? AND expires_at > ?", id, time.Now()).
		First(&credential).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
		}
		return "", err
	}

	if bcrypt.CompareHashAndPassword([]byte(credential.TokenHash), []byte(secret)) != nil {
		return "", errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
	}

	result := rs.db.WithContext(ctx).Delete(&domain.RefreshCredential{}, "id = ?", credential.ID)
	if result.Error != nil {
		return "", result.Error
	}
	if result.RowsAffected == 0 {
		return "", errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
	}
	return credential.UserID, nil
}

// RevokeUser deletes every credential owned by the user.
func (rs *RefreshService) RevokeUser(ctx context.Context, userID string) error {
	return rs.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.RefreshCredential{}).Error
}

// splitRaw separates the lookup id from the secret in a cookie value.
func splitRaw(raw string) (id, secret string, ok bool) {
	id, secret, found := strings.Cut(raw, ".")
	if !found || id == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}

// randomBytes generates n random bytes using crypto/rand, so the result
// is usable for credentials.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// randomString generates a byte slice of size n and returns its base64
// URL encoded form.
func randomString(n int) (string, error) {
	b, err := randomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
