package oauth

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dentibot/domain"
)

const (
	appleAuthURL  = "https://appleid.apple.com/auth/authorize"
	appleTokenURL = "https://appleid.apple.com/auth/token"
	appleJWKSURL  = "https://appleid.apple.com/auth/keys"
	appleIssuer   = "https://appleid.apple.com"
)

// AppleProvider handles Sign in with Apple. Apple's code exchange is
// authenticated with a short-lived ES256 client-secret JWT instead of a
// static secret, and user identity always comes out of the verified ID
// token. Apple never needs its tokens persisted; nothing calls its APIs
// after login.
type AppleProvider struct {
	ClientID    string
	TeamID      string
	KeyID       string
	PrivateKey  string
	RedirectURL string

	keys *keySet
}

// NewAppleProvider creates an Apple provider. PrivateKey is the PEM of the
// ES256 signing key downloaded from the developer portal.
func NewAppleProvider(clientID, teamID, keyID, privateKey, redirectURL string) *AppleProvider {
	return &AppleProvider{
		ClientID:    clientID,
		TeamID:      teamID,
		KeyID:       keyID,
		PrivateKey:  privateKey,
		RedirectURL: redirectURL,
		keys:        newKeySet(appleJWKSURL),
	}
}

// AuthURL returns the authorization URL. Apple posts the callback as a
// form (response_mode form_post) because the scope includes name/email.
func (a *AppleProvider) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", a.ClientID)
	params.Add("redirect_uri", a.RedirectURL)
	params.Add("response_type", "code")
	params.Add("scope", "name email")
	params.Add("state", state)
	params.Add("response_mode", "form_post")
	return appleAuthURL + "?" + params.Encode()
}

// clientSecret signs the ES256 assertion Apple requires in place of a
// static client secret.
func (a *AppleProvider) clientSecret() (string, error) {
	block, _ := pem.Decode([]byte(a.PrivateKey))
	if block == nil {
		return "", fmt.Errorf("oauth: failed to parse apple private key PEM")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("oauth: failed to parse apple private key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("oauth: apple private key is not ECDSA")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss": a.TeamID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
		"aud": appleIssuer,
		"sub": a.ClientID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = a.KeyID
	return token.SignedString(ecdsaKey)
}

// Exchange trades an authorization code for Apple's token response and
// returns the Identity extracted from the verified ID token.
func (a *AppleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	secret, err := a.clientSecret()
	if err != nil {
		return nil, err
	}

	data := url.Values{}
	data.Set("code", code)
	data.Set("client_id", a.ClientID)
	data.Set("client_secret", secret)
	data.Set("redirect_uri", a.RedirectURL)
	data.Set("grant_type", "authorization_code")

	req, err := http.NewRequestWithContext(ctx, "POST", appleTokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("oauth: apple code exchange failed: %s", string(body))
	}

	var tokenResp struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, err
	}
	return a.VerifyIDToken(ctx, tokenResp.IDToken)
}

// appleIDClaims are the claims carried by an Apple ID token.
type appleIDClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// VerifyIDToken verifies an ID token against Apple's published keys,
// checking signature, audience and issuer. Apple puts no name in the
// token; callers merge the first-login form field in themselves.
func (a *AppleProvider) VerifyIDToken(ctx context.Context, idToken string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(idToken, &appleIDClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("oauth: unexpected signing method %v", t.Header["alg"])
		}
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("oauth: missing kid in token header")
		}
		return a.keys.key(ctx, kid)
	}, jwt.WithAudience(a.ClientID), jwt.WithIssuer(appleIssuer))
	if err != nil {
		return nil, fmt.Errorf("oauth: apple id token rejected: %w", err)
	}

	claims, ok := token.Claims.(*appleIDClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("oauth: invalid apple id token claims")
	}

	return &Identity{
		Provider:  domain.ProviderApple,
		SubjectID: claims.Subject,
		Email:     claims.Email,
	}, nil
}
