package http

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"dentibot/auth"
	"dentibot/errs"
)

// checkUser verifies the access-credential cookie on every request and, if
// it holds up, puts the decoded claims into the request context. A missing
// or bad cookie is not an error here; routes that need identity go through
// requireAuth. No database lookup happens: the claims are trusted until
// the next refresh cycle.
func (s *Server) checkUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(auth.CookieAccess)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := s.codec.VerifyAccess(cookie.Value)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		r = r.WithContext(auth.SetClaims(r.Context(), claims))
		next.ServeHTTP(w, r)
	})
}

// requireAuth rejects requests that carry no verified identity. The reason
// the credential failed is deliberately not distinguished.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if auth.GetClaims(r.Context()) == nil {
			errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials."))
			return
		}
		next.ServeHTTP(w, r)
	}
}

// Fixed-window limits for the auth routes. Generous for humans, tight
// enough to blunt credential stuffing.
const (
	rateLimitWindow   = time.Minute
	rateLimitRequests = 30
)

type rateWindow struct {
	start time.Time
	count int
}

// limiter applies a fixed window per client.
type limiter struct {
	mu      sync.Mutex
	clients map[string]*rateWindow
}

func newLimiter() *limiter {
	return &limiter{
		clients: map[string]*rateWindow{},
	}
}

// allow counts a request against the client's current window.
func (l *limiter) allow(client string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	win, ok := l.clients[client]
	if !ok || now.Sub(win.start) >= rateLimitWindow {
		win = &rateWindow{start: now}
		l.clients[client] = win
	}
	win.count++
	return win.count <= rateLimitRequests
}

// rateLimit shields the auth routes against brute force and credential
// stuffing. Traffic shaping only; nothing downstream depends on it for
// correctness.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/auth/") {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.allow(clientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Too many requests."}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
