package http

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dentibot/errs"
	"dentibot/oauth"
)

const stateCookie = "oauth_state"

func (s *Server) registerOAuthRoutes(r *mux.Router) {
	r.HandleFunc("/auth/google", s.handleGoogleBegin).Methods("GET")
	r.HandleFunc("/auth/google/callback", s.handleGoogleCallback).Methods("GET")
	r.HandleFunc("/auth/google", s.handleGoogleToken).Methods("POST")

	r.HandleFunc("/auth/apple", s.handleAppleBegin).Methods("GET")
	r.HandleFunc("/auth/apple/callback", s.handleAppleCallback).Methods("POST")
	r.HandleFunc("/auth/apple", s.handleAppleToken).Methods("POST")
}

// handleGoogleBegin starts the redirect flow: a random state goes into a
// short-lived cookie and the client is sent to the consent screen.
func (s *Server) handleGoogleBegin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	s.setStateCookie(w, state, http.SameSiteLaxMode)
	http.Redirect(w, r, s.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// handleGoogleCallback completes the redirect flow.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !s.checkState(r, r.URL.Query().Get("state")) {
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Invalid state."))
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Missing authorization code."))
		return
	}

	identity, err := s.google.Exchange(r.Context(), code)
	if err != nil {
		errs.LogError(r, err)
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Authentication failed."))
		return
	}
	s.completeLogin(w, r, identity)
}

// handleGoogleToken is the token-verification flow: the client-side Google
// SDK hands the server a signed credential, which is verified against
// Google's keys before anything is written.
func (s *Server) handleGoogleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Credential string `json:"credential"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Credential == "" {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "A credential is required."))
		return
	}

	identity, err := s.google.VerifyIDToken(r.Context(), body.Credential)
	if err != nil {
		errs.LogError(r, err)
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Authentication failed."))
		return
	}
	s.completeLogin(w, r, identity)
}

// handleAppleBegin starts the Apple redirect flow. Apple's callback is a
// cross-site form post, so the state cookie needs SameSite=None.
func (s *Server) handleAppleBegin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		errs.ReturnError(w, r, err)
		return
	}
	s.setStateCookie(w, state, http.SameSiteNoneMode)
	http.Redirect(w, r, s.apple.AuthURL(state), http.StatusTemporaryRedirect)
}

// handleAppleCallback completes the Apple redirect flow (form_post mode).
// Apple sends the user's name only on the very first authorization, as a
// client-composed form field; it is the one profile field accepted from
// the request rather than from verified claims.
func (s *Server) handleAppleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Malformed callback."))
		return
	}
	if !s.checkState(r, r.FormValue("state")) {
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Invalid state."))
		return
	}
	code := r.FormValue("code")
	if code == "" {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "Missing authorization code."))
		return
	}

	identity, err := s.apple.Exchange(r.Context(), code)
	if err != nil {
		errs.LogError(r, err)
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Authentication failed."))
		return
	}
	if name := appleUserName(r.FormValue("user")); name != "" {
		identity.Name = name
	}
	s.completeLogin(w, r, identity)
}

// handleAppleToken verifies a client-obtained Apple ID token.
func (s *Server) handleAppleToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Credential string `json:"credential"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Credential == "" {
		errs.ReturnError(w, r, errs.Errorf(errs.EINVALID, "A credential is required."))
		return
	}

	identity, err := s.apple.VerifyIDToken(r.Context(), body.Credential)
	if err != nil {
		errs.LogError(r, err)
		errs.ReturnError(w, r, errs.Errorf(errs.EUNAUTHORIZED, "Authentication failed."))
		return
	}
	if body.Name != "" {
		identity.Name = body.Name
	}
	s.completeLogin(w, r, identity)
}

// completeLogin runs the shared tail of every login: federate the verified
// identity, issue credentials, respond with the user record.
func (s *Server) completeLogin(w http.ResponseWriter, r *http.Request, identity *oauth.Identity) {
	user, err := federate(r.Context(), s.us, s.os, identity)
	if err != nil {
		errs.ReturnError(w, r, err)
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

func (s *Server) setStateCookie(w http.ResponseWriter, state string, sameSite http.SameSite) {
	// Browsers drop SameSite=None cookies that are not also Secure, so the
	// Apple state cookie carries Secure in every environment.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   s.prod || sameSite == http.SameSiteNoneMode,
		SameSite: sameSite,
	})
}

// checkState compares the state echoed by the provider to the one bound to
// the browser in the state cookie.
func (s *Server) checkState(r *http.Request, state string) bool {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || state == "" {
		return false
	}
	return cookie.Value == state
}

// randomState generates the anti-forgery state for a redirect flow.
func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// appleUserName digs the display name out of Apple's first-login user
// field.
func appleUserName(raw string) string {
	if raw == "" {
		return ""
	}
	var info struct {
		Name struct {
			FirstName string `json:"firstName"`
			LastName  string `json:"lastName"`
		} `json:"name"`
	}
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return ""
	}
	name := info.Name.FirstName
	if info.Name.LastName != "" {
		if name != "" {
			name += " "
		}
		name += info.Name.LastName
	}
	return name
}
