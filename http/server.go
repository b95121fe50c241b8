package http

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"

	"dentibot/auth"
	"dentibot/domain"
	"dentibot/oauth"
)

// An IdentityProvider is an external OAuth provider normalized to the two
// flows this app supports: the server-driven redirect flow (AuthURL +
// Exchange) and verification of a client-obtained ID token.
type IdentityProvider interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth.Identity, error)
	VerifyIDToken(ctx context.Context, idToken string) (*oauth.Identity, error)
}

// ServerConfig carries everything the server needs. Providers and services
// are injected as interfaces so their lifecycle is owned by main.go.
type ServerConfig struct {
	Prod      bool
	ClientURL string

	// CSRFKey authenticates the double-submit cookie. 32 bytes.
	CSRFKey string

	// CSRFExemptRefresh skips the CSRF check on /auth/refresh. Possession
	// of the httpOnly refresh cookie already gates that endpoint; whether
	// that is considered enough is a deployment policy.
	CSRFExemptRefresh bool

	Codec   *auth.Codec
	Cookies auth.CookiePolicy

	Google IdentityProvider
	Apple  IdentityProvider

	Users    domain.UserService
	OAuths   domain.OAuthAccountService
	Refresh  domain.RefreshService
	Payments domain.PaymentGateway
}

// Server provides the http functionality of the app: routing, request
// handling and middleware. It performs authentication and authorization
// before handing things over to the crud services.
type Server struct {
	router *mux.Router

	prod    bool
	codec   *auth.Codec
	cookies auth.CookiePolicy

	google IdentityProvider
	apple  IdentityProvider

	us       domain.UserService
	os       domain.OAuthAccountService
	rs       domain.RefreshService
	payments domain.PaymentGateway

	csrfExemptRefresh bool
	limiter           *limiter
}

// NewServer returns a new instance of the server with all routes
// registered and the request middleware chain set up.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		prod:              cfg.Prod,
		codec:             cfg.Codec,
		cookies:           cfg.Cookies,
		google:            cfg.Google,
		apple:             cfg.Apple,
		us:                cfg.Users,
		os:                cfg.OAuths,
		rs:                cfg.Refresh,
		payments:          cfg.Payments,
		csrfExemptRefresh: cfg.CSRFExemptRefresh,
		limiter:           newLimiter(),
	}

	s.registerAuthRoutes(s.router)
	s.registerOAuthRoutes(s.router)
	s.registerUserRoutes(s.router)

	// The CSRF middleware protects every state-changing route with a
	// double-submit cookie. The skip middleware has to run first so the
	// refresh exemption is marked before the check happens.
	opts := []csrf.Option{
		csrf.Secure(cfg.Prod),
		csrf.Path("/"),
		csrf.CookieName("csrf"),
	}
	if cfg.Prod {
		opts = append(opts, csrf.SameSite(csrf.SameSiteNoneMode))
		if origin := originHost(cfg.ClientURL); origin != "" {
			opts = append(opts, csrf.TrustedOrigins([]string{origin}))
		}
	}
	// The limiter runs ahead of everything else so that rejected attempts,
	// CSRF-less ones included, still count against the client's window.
	csrfMw := csrf.Protect([]byte(cfg.CSRFKey), opts...)
	s.router.Use(s.rateLimit, s.skipCSRF, csrfMw, setContentTypeJSON, s.checkUser)
	return s
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// skipCSRF marks requests that are exempt from the CSRF check. Apple's
// callback is a cross-site form post straight from appleid.apple.com and
// can never carry a double-submit token; the state cookie is the
// anti-forgery control on that endpoint. The refresh exemption is policy.
func (s *Server) skipCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/apple/callback":
			r = csrf.UnsafeSkipCheck(r)
		case s.csrfExemptRefresh && r.URL.Path == "/auth/refresh":
			r = csrf.UnsafeSkipCheck(r)
		}
		next.ServeHTTP(w, r)
	})
}

// The setContentTypeJSON middleware sets the content type to "application/json".
func setContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// originHost reduces a client URL to the origin form the CSRF middleware
// expects.
func originHost(clientURL string) string {
	if clientURL == "" {
		return ""
	}
	u, err := url.Parse(clientURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// Run starts to listen and serve on the specified port.
func (s *Server) Run(port int) {
	log.Printf("listening on :%d", port)
	log.Fatal(http.ListenAndServe(":"+strconv.Itoa(port), s.router))
}
