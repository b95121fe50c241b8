package auth

import (
	"net/http"
	"time"
)

// Cookie names for the two credential classes.
const (
	CookieAccess  = "access"
	CookieRefresh = "refresh"
)

// CookiePolicy is the single source of truth for credential cookie
// attributes. Set and Clear derive attributes through the same function,
// so a clear always matches the cookie it is deleting. Browsers silently
// keep cookies whose clear does not match the set attributes exactly.
type CookiePolicy struct {
	// Prod switches on Secure and cross-site SameSite.
	Prod bool

	// Domain scopes cookies to a shared parent domain. Only applied in
	// production, and only when configured.
	Domain string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Set attaches a credential cookie of the given class to the response.
func (p CookiePolicy) Set(w http.ResponseWriter, class, value string) {
	cookie := p.cookie(class)
	cookie.Value = value
	cookie.MaxAge = int(p.ttl(class) / time.Second)
	http.SetCookie(w, cookie)
}

// Clear deletes a credential cookie. Identical derivation as Set, differing
// only in value and lifetime.
func (p CookiePolicy) Clear(w http.ResponseWriter, class string) {
	cookie := p.cookie(class)
	cookie.Value = ""
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
}

// cookie derives the shared attribute set for a cookie class.
func (p CookiePolicy) cookie(class string) *http.Cookie {
	cookie := &http.Cookie{
		Name:     class,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Prod,
		SameSite: http.SameSiteLaxMode,
	}
	if p.Prod {
		// The SPA is served from a different origin in production, so the
		// cookies have to survive cross-site requests.
		cookie.SameSite = http.SameSiteNoneMode
		cookie.Domain = p.Domain
	}
	return cookie
}

func (p CookiePolicy) ttl(class string) time.Duration {
	if class == CookieRefresh {
		if p.RefreshTTL > 0 {
			return p.RefreshTTL
		}
		return 30 * 24 * time.Hour
	}
	if p.AccessTTL > 0 {
		return p.AccessTTL
	}
	return 15 * time.Minute
}
