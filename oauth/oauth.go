// Package oauth normalizes the two supported identity providers into one
// verified Identity. Google supports both the server-driven redirect flow
// and the client-side token-verification flow; Apple supports the form_post
// redirect flow and token verification. Profile fields always come from
// provider-verified sources, never from the client.
package oauth

import "time"

// Identity is a verified external identity, the single shape both
// providers and both flows converge on.
type Identity struct {
	Provider  string
	SubjectID string
	Email     string
	Name      string
	Picture   string

	// Provider tokens, set only for flows that yield them and only for
	// providers whose APIs are called again later.
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}
