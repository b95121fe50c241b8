package http

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"

	"dentibot/auth"
	"dentibot/domain"
	"dentibot/errs"
)

func (s *Server) registerAuthRoutes(r *mux.Router) {
	r.HandleFunc("/auth/csrf-token", s.handleCSRFToken).Methods("GET")
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods("POST")
	r.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")
	r.HandleFunc("/auth/delete", s.requireAuth(s.handleDelete)).Methods("DELETE")
}

// handleCSRFToken hands the client the masked CSRF token bound to its
// session cookie. Read-only by design; the token travels back in the
// X-CSRF-Token header on state-changing requests.
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"csrfToken": csrf.Token(r),
	}
	if err := json.NewEncoder(w).Encode(&response); err != nil {
		errs.LogError(r, err)
	}
}

// handleRefresh rotates the caller's credentials: the presented refresh
// credential is consumed and a fresh access+refresh pair is issued. Every
// failure is terminal for the request; the client is expected to log in
// again.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.CookieRefresh)
	if err != nil {
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials."))
		return
	}

	userID, err := s.rs.Redeem(r.Context(), cookie.Value)
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	user, err := s.us.ByID(r.Context(), userID)
	if err != nil {
		// The grant outlived its account; nothing to renew.
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials."))
		return
	}

	if err := s.signIn(w, r, user); err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	if err := json.NewEncoder(w).Encode(user); err != nil {
		errs.LogError(r, err)
	}
}

// handleLogout always succeeds: cookies are cleared unconditionally, and
// server-side refresh state is additionally revoked when the caller
// presented a valid identity. Logout is never a source of user-visible
// failure.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.cookies.Clear(w, auth.CookieAccess)
	s.cookies.Clear(w, auth.CookieRefresh)

	if claims := auth.GetClaims(r.Context()); claims != nil {
		if err := s.rs.RevokeUser(r.Context(), claims.UserID()); err != nil {
			errs.LogError(r, err)
		}
	}

	response := map[string]string{"message": "successfully logged out"}
	if err := json.NewEncoder(w).Encode(&response); err != nil {
		errs.LogError(r, err)
	}
}

// handleDelete erases the caller's account: payment subscriptions are
// cancelled best-effort first, then every owned record goes in one
// transaction, then the cookies.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())

	user, err := s.us.ByID(r.Context(), claims.UserID())
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	s.cancelSubscriptions(r, user)

	if err := s.us.Delete(r.Context(), user.ID); err != nil {
		errs.ReturnError(w, r, err)
		return
	}

	s.cookies.Clear(w, auth.CookieAccess)
	s.cookies.Clear(w, auth.CookieRefresh)

	response := map[string]string{"message": "account deleted"}
	if err := json.NewEncoder(w).Encode(&response); err != nil {
		errs.LogError(r, err)
	}
}

// cancelSubscriptions cancels the user's payment subscriptions. The
// subscriptions are mutually independent, so the cancels run concurrently.
// Failures are logged and the erasure continues; a dangling subscription
// is an upstream cleanup problem, not a reason to keep the account.
func (s *Server) cancelSubscriptions(r *http.Request, user *domain.User) {
	if s.payments == nil || user.CustomerID == "" {
		return
	}

	subscriptions, err := s.payments.ListSubscriptions(r.Context(), user.CustomerID)
	if err != nil {
		log.Printf("[http] listing subscriptions for customer %s failed: %s", user.CustomerID, err)
		return
	}

	var wg sync.WaitGroup
	for _, id := range subscriptions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.payments.CancelSubscription(r.Context(), id); err != nil {
				log.Printf("[http] cancelling subscription %s failed: %s", id, err)
			}
		}(id)
	}
	wg.Wait()
}

// signIn issues a fresh access+refresh pair for the user and attaches both
// cookies to the response. The raw tokens never appear in a response body.
func (s *Server) signIn(w http.ResponseWriter, r *http.Request, user *domain.User) error {
	access, err := s.codec.IssueAccess(user)
	if err != nil {
		return err
	}
	refresh, err := s.rs.Issue(r.Context(), user.ID)
	if err != nil {
		return err
	}
	s.cookies.Set(w, auth.CookieAccess, access)
	s.cookies.Set(w, auth.CookieRefresh, refresh)
	return nil
}
