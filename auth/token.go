package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dentibot/domain"
	"dentibot/errs"
)

// Claims is the payload of an access credential. Verification is pure
// signature math, so whatever is in here is trusted until the token expires.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the claims.
func (c *Claims) UserID() string {
	return c.Subject
}

// Codec signs and verifies access credentials. It holds the only copy of
// the signing secret; nothing else in the app signs tokens.
type Codec struct {
	secret    []byte
	accessTTL time.Duration
}

// NewCodec returns a codec. The secret is mandatory, the caller is expected
// to have refused to start without one.
func NewCodec(secret string, accessTTL time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("auth: signing secret required")
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	return &Codec{
		secret:    []byte(secret),
		accessTTL: accessTTL,
	}, nil
}

// AccessTTL reports the configured access-credential lifetime.
func (c *Codec) AccessTTL() time.Duration {
	return c.accessTTL
}

// IssueAccess signs a short-lived token carrying the user's id and role.
func (c *Codec) IssueAccess(user *domain.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// VerifyAccess checks signature and expiry and returns the claims. Every
// failure collapses into the same EUNAUTHORIZED so that callers cannot
// distinguish a tampered token from an expired one.
func (c *Codec) VerifyAccess(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
	}
	return claims, nil
}
