package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"dentibot/auth"
	"dentibot/domain"
	"dentibot/oauth"
)

func TestGoogleBeginRedirects(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(httptest.NewRequest("GET", "/auth/google", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", w.Code)
	}

	state := cookieByName(w.Result().Cookies(), stateCookie)
	if state == nil || state.Value == "" {
		t.Fatal("expected a state cookie to be set")
	}
	if !state.HttpOnly {
		t.Error("state cookie must be httpOnly")
	}

	location := w.Header().Get("Location")
	if !strings.Contains(location, "state="+state.Value) {
		t.Errorf("redirect %q does not carry the state %q", location, state.Value)
	}
}

func TestGoogleCallbackSignsIn(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest("GET", "/auth/google/callback?state=st-1&code=c-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-1"})
	w := h.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	cookies := w.Result().Cookies()
	if c := cookieByName(cookies, auth.CookieAccess); c == nil || c.Value == "" {
		t.Error("expected an access cookie")
	}
	if c := cookieByName(cookies, auth.CookieRefresh); c == nil || c.Value == "" {
		t.Error("expected a refresh cookie")
	}
	if h.users.count() != 1 {
		t.Errorf("expected one user, got %d", h.users.count())
	}
	if h.oauths.count() != 1 {
		t.Errorf("expected one linked provider account, got %d", h.oauths.count())
	}
}

func TestGoogleCallbackRejectsStateMismatch(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest("GET", "/auth/google/callback?state=forged&code=c-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-1"})
	w := h.do(req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on state mismatch, got %d", w.Code)
	}
	if h.google.callCount() != 0 {
		t.Error("the provider must not be contacted on a state mismatch")
	}
	if h.users.count() != 0 {
		t.Error("no user may be created on a state mismatch")
	}
}

func TestGoogleCallbackExchangeFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.google.fail = true

	req := httptest.NewRequest("GET", "/auth/google/callback?state=st-1&code=bad", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-1"})
	w := h.do(req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "sub-1") {
		t.Error("provider details must not leak into the error response")
	}
	if h.users.count() != 0 {
		t.Error("no user may be created when the exchange fails")
	}
}

func TestGoogleTokenLogin(t *testing.T) {
	h := newHarness(t, nil)
	token, cookies := h.csrfToken(t)

	req := httptest.NewRequest("POST", "/auth/google", strings.NewReader(`{"credential":"fake-id-token"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := h.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var user domain.User
	if err := json.Unmarshal(w.Body.Bytes(), &user); err != nil {
		t.Fatalf("decoding user: %v", err)
	}
	if user.Email != "pat@example.com" {
		t.Errorf("unexpected email %q", user.Email)
	}
	if user.Role != domain.RoleUser {
		t.Errorf("expected default role, got %q", user.Role)
	}
	if cookieByName(w.Result().Cookies(), auth.CookieRefresh) == nil {
		t.Error("expected a refresh cookie")
	}
}

// TestFederationMergesByEmail signs the same person in through Google and
// then Apple. The Apple identity carries the email with different casing
// and padding; both provider accounts must end up linked to one user.
func TestFederationMergesByEmail(t *testing.T) {
	h := newHarness(t, nil)
	h.apple.identity.Email = "  PAT@Example.com "

	googleUser, err := federate(context.Background(), h.users, h.oauths, h.google.identity)
	if err != nil {
		t.Fatalf("google federate: %v", err)
	}
	appleUser, err := federate(context.Background(), h.users, h.oauths, h.apple.identity)
	if err != nil {
		t.Fatalf("apple federate: %v", err)
	}

	if googleUser.ID != appleUser.ID {
		t.Errorf("expected one merged user, got %q and %q", googleUser.ID, appleUser.ID)
	}
	if h.users.count() != 1 {
		t.Errorf("expected one user, got %d", h.users.count())
	}
	if h.oauths.count() != 2 {
		t.Errorf("expected two linked provider accounts, got %d", h.oauths.count())
	}

	// Repeating a login must not mint anything new.
	if _, err := federate(context.Background(), h.users, h.oauths, h.google.identity); err != nil {
		t.Fatalf("repeat federate: %v", err)
	}
	if h.users.count() != 1 || h.oauths.count() != 2 {
		t.Error("a repeat login must be idempotent")
	}
}

func TestFederateRejectsIncompleteIdentity(t *testing.T) {
	h := newHarness(t, nil)

	for _, identity := range []*oauth.Identity{
		{Provider: domain.ProviderGoogle, Email: "pat@example.com"},
		{Provider: domain.ProviderGoogle, SubjectID: "sub-1"},
	} {
		if _, err := federate(context.Background(), h.users, h.oauths, identity); err == nil {
			t.Errorf("expected %+v to be rejected", identity)
		}
	}
	if h.users.count() != 0 {
		t.Error("no user may be created from an incomplete identity")
	}
}

// TestAppleCallbackSignsIn drives Apple's form_post callback through the
// full middleware chain. The post comes straight from appleid.apple.com,
// so it carries the state cookie but no CSRF token and must still go
// through.
func TestAppleCallbackSignsIn(t *testing.T) {
	h := newHarness(t, nil)

	form := url.Values{}
	form.Set("state", "st-1")
	form.Set("code", "c-1")
	form.Set("user", `{"name":{"firstName":"Pat","lastName":"Smith"}}`)

	req := httptest.NewRequest("POST", "/auth/apple/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-1"})
	w := h.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if h.apple.callCount() != 1 {
		t.Errorf("expected one provider exchange, got %d", h.apple.callCount())
	}
	if cookieByName(w.Result().Cookies(), auth.CookieRefresh) == nil {
		t.Error("expected a refresh cookie")
	}
	user, err := h.users.ByEmail(context.Background(), "pat@example.com")
	if err != nil {
		t.Fatalf("expected the user to exist: %v", err)
	}
	if user.Name != "Pat Smith" {
		t.Errorf("expected the first-login name to be stored, got %q", user.Name)
	}
}

func TestAppleCallbackRejectsStateMismatch(t *testing.T) {
	h := newHarness(t, nil)

	form := url.Values{}
	form.Set("state", "forged")
	form.Set("code", "c-1")

	req := httptest.NewRequest("POST", "/auth/apple/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "st-1"})
	w := h.do(req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on state mismatch, got %d", w.Code)
	}
	if h.apple.callCount() != 0 {
		t.Error("the provider must not be contacted on a state mismatch")
	}
	if h.users.count() != 0 {
		t.Error("no user may be created on a state mismatch")
	}
}

// TestAppleBeginStateCookie checks the cross-site state cookie: SameSite
// None requires Secure even outside production or browsers drop it.
func TestAppleBeginStateCookie(t *testing.T) {
	h := newHarness(t, nil)

	w := h.do(httptest.NewRequest("GET", "/auth/apple", nil))
	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", w.Code)
	}

	state := cookieByName(w.Result().Cookies(), stateCookie)
	if state == nil {
		t.Fatal("expected a state cookie to be set")
	}
	if state.SameSite != http.SameSiteNoneMode {
		t.Errorf("the apple state cookie must survive a cross-site post, got %v", state.SameSite)
	}
	if !state.Secure {
		t.Error("a SameSite=None cookie must be Secure")
	}
}

func TestAppleTokenLoginWithName(t *testing.T) {
	h := newHarness(t, nil)
	token, cookies := h.csrfToken(t)

	body := `{"credential":"fake-id-token","name":"Pat Smith"}`
	req := httptest.NewRequest("POST", "/auth/apple", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-Token", token)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := h.do(req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	user, err := h.users.ByEmail(context.Background(), "pat@example.com")
	if err != nil {
		t.Fatalf("expected the user to exist: %v", err)
	}
	if user.Name != "Pat Smith" {
		t.Errorf("expected the supplied name to be stored, got %q", user.Name)
	}
}

func TestAppleUserName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"name":{"firstName":"Pat","lastName":"Smith"}}`, "Pat Smith"},
		{`{"name":{"firstName":"Pat"}}`, "Pat"},
		{`{"name":{"lastName":"Smith"}}`, "Smith"},
		{`{}`, ""},
		{``, ""},
		{`not json`, ""},
	}
	for _, tt := range tests {
		if got := appleUserName(tt.raw); got != tt.want {
			t.Errorf("appleUserName(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
