package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"dentibot/domain"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	googleJWKSURL     = "https://www.googleapis.com/oauth2/v3/certs"
	googleIssuer      = "https://accounts.google.com"
)

// GoogleProvider handles both Google flows: the server-driven redirect
// flow via the oauth2 config, and verification of ID tokens minted by the
// client-side Google SDK.
type GoogleProvider struct {
	conf *oauth2.Config
	keys *keySet
}

// NewGoogleProvider creates a Google provider from client credentials.
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		keys: newKeySet(googleJWKSURL),
	}
}

// AuthURL returns the authorization URL opening the consent screen.
// offline access is requested so Google hands back a refresh token.
func (g *GoogleProvider) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for provider tokens and fetches
// the profile from the userinfo endpoint. Everything in the returned
// Identity comes from Google, not from the client.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	token, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth: google code exchange failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", googleUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("oauth: google userinfo failed: %s", string(body))
	}

	var info struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}

	identity := &Identity{
		Provider:     domain.ProviderGoogle,
		SubjectID:    info.ID,
		Email:        info.Email,
		Name:         info.Name,
		Picture:      info.Picture,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		identity.ExpiresAt = &expiry
	}
	return identity, nil
}

// googleIDClaims are the claims carried by a Google ID token.
type googleIDClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// VerifyIDToken independently verifies a client-supplied ID token against
// Google's published keys, checking signature, audience and issuer, and
// builds the Identity from the verified claims only.
func (g *GoogleProvider) VerifyIDToken(ctx context.Context, idToken string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(idToken, &googleIDClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("oauth: unexpected signing method %v", t.Header["alg"])
		}
		kid, ok := t.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("oauth: missing kid in token header")
		}
		return g.keys.key(ctx, kid)
	}, jwt.WithAudience(g.conf.ClientID))
	if err != nil {
		return nil, fmt.Errorf("oauth: google id token rejected: %w", err)
	}

	claims, ok := token.Claims.(*googleIDClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("oauth: invalid google id token claims")
	}
	// Google mints tokens under both issuer spellings.
	if claims.Issuer != googleIssuer && claims.Issuer != "accounts.google.com" {
		return nil, fmt.Errorf("oauth: unexpected google issuer %q", claims.Issuer)
	}

	return &Identity{
		Provider:  domain.ProviderGoogle,
		SubjectID: claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		Picture:   claims.Picture,
	}, nil
}
