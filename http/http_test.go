package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"dentibot/auth"
	"dentibot/domain"
	"dentibot/errs"
	"dentibot/oauth"
)

// In-memory fakes of the domain services. They honor the same contracts
// the crud services do (normalized-email merge, single-use refresh) so the
// handlers can be exercised without a database.

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User // keyed by id
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*domain.User{}}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (m *memUsers) ByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.users[id]; ok {
		copied := *user
		return &copied, nil
	}
	return nil, errs.Errorf(errs.ENOTFOUND, "The user does not exist.")
}

func (m *memUsers) ByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == normalizeEmail(email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, errs.Errorf(errs.ENOTFOUND, "The user does not exist.")
}

func (m *memUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = normalizeEmail(user.Email)
	if user.Email == "" {
		return errs.Errorf(errs.EINVALID, "An email address is required.")
	}
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return errs.Errorf(errs.ECONFLICT, "This email address is already taken.")
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUsers) Upsert(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.Email = normalizeEmail(user.Email)
	for _, existing := range m.users {
		if existing.Email == user.Email {
			if user.Name != "" {
				existing.Name = user.Name
			}
			if user.Picture != "" {
				existing.Picture = user.Picture
			}
			*user = *existing
			return nil
		}
	}
	user.ID = uuid.NewString()
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUsers) Update(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return errs.Errorf(errs.ENOTFOUND, "The user does not exist.")
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type memOAuths struct {
	mu       sync.Mutex
	accounts map[string]*domain.OAuthAccount // keyed by provider+subject
}

func newMemOAuths() *memOAuths {
	return &memOAuths{accounts: map[string]*domain.OAuthAccount{}}
}

func (m *memOAuths) ByProviderUserID(_ context.Context, provider, providerUserID string) (*domain.OAuthAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[provider+"/"+providerUserID]; ok {
		copied := *account
		return &copied, nil
	}
	return nil, errs.Errorf(errs.ENOTFOUND, "The provider account does not exist.")
}

func (m *memOAuths) Upsert(_ context.Context, account *domain.OAuthAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := account.Provider + "/" + account.ProviderUserID
	if existing, ok := m.accounts[key]; ok {
		existing.AccessToken = account.AccessToken
		existing.RefreshToken = account.RefreshToken
		existing.ExpiresAt = account.ExpiresAt
		*account = *existing
		return nil
	}
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	copied := *account
	m.accounts[key] = &copied
	return nil
}

func (m *memOAuths) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

type memRefresh struct {
	mu      sync.Mutex
	grants  map[string]string // raw value -> user id
	revoked []string
	nextID  int
}

func newMemRefresh() *memRefresh {
	return &memRefresh{grants: map[string]string{}}
}

func (m *memRefresh) Issue(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	raw := uuid.NewString() + ".secret"
	m.grants[raw] = userID
	return raw, nil
}

func (m *memRefresh) Redeem(_ context.Context, raw string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	userID, ok := m.grants[raw]
	if !ok {
		return "", errs.Errorf(errs.EUNAUTHORIZED, "Invalid or expired credentials.")
	}
	delete(m.grants, raw)
	return userID, nil
}

func (m *memRefresh) RevokeUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked = append(m.revoked, userID)
	for raw, owner := range m.grants {
		if owner == userID {
			delete(m.grants, raw)
		}
	}
	return nil
}

func (m *memRefresh) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.grants)
}

// fakeProvider serves a canned identity and records how often it was asked.
type fakeProvider struct {
	mu       sync.Mutex
	identity *oauth.Identity
	fail     bool
	calls    int
}

func (f *fakeProvider) AuthURL(state string) string {
	return "https://provider.example/authorize?state=" + state
}

func (f *fakeProvider) Exchange(_ context.Context, code string) (*oauth.Identity, error) {
	return f.verify()
}

func (f *fakeProvider) VerifyIDToken(_ context.Context, idToken string) (*oauth.Identity, error) {
	return f.verify()
}

func (f *fakeProvider) verify() (*oauth.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errs.Errorf(errs.EUNAUTHORIZED, "Authentication failed.")
	}
	copied := *f.identity
	return &copied, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePayments struct {
	mu        sync.Mutex
	subs      map[string][]string
	cancelled []string
}

func (f *fakePayments) ListSubscriptions(_ context.Context, customerID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[customerID], nil
}

func (f *fakePayments) CancelSubscription(_ context.Context, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, subscriptionID)
	return nil
}

// harness bundles a test server with its fakes.
type harness struct {
	server   *Server
	users    *memUsers
	oauths   *memOAuths
	refresh  *memRefresh
	google   *fakeProvider
	apple    *fakeProvider
	payments *fakePayments
	codec    *auth.Codec
}

func newHarness(t *testing.T, tweak func(*ServerConfig)) *harness {
	t.Helper()

	codec, err := auth.NewCodec("test-signing-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	h := &harness{
		users:   newMemUsers(),
		oauths:  newMemOAuths(),
		refresh: newMemRefresh(),
		google: &fakeProvider{identity: &oauth.Identity{
			Provider:  domain.ProviderGoogle,
			SubjectID: "google-sub-1",
			Email:     "pat@example.com",
			Name:      "Pat Smith",
			Picture:   "https://img.example/pat.png",
		}},
		apple: &fakeProvider{identity: &oauth.Identity{
			Provider:  domain.ProviderApple,
			SubjectID: "apple-sub-1",
			Email:     "pat@example.com",
		}},
		payments: &fakePayments{subs: map[string][]string{}},
		codec:    codec,
	}

	cfg := ServerConfig{
		Prod:     false,
		CSRFKey:  "32-byte-long-auth-key-for-tests!",
		Codec:    codec,
		Cookies:  auth.CookiePolicy{AccessTTL: time.Minute, RefreshTTL: time.Hour},
		Google:   h.google,
		Apple:    h.apple,
		Users:    h.users,
		OAuths:   h.oauths,
		Refresh:  h.refresh,
		Payments: h.payments,
	}
	if tweak != nil {
		tweak(&cfg)
	}
	h.server = NewServer(cfg)
	return h
}

// do routes a request through the full middleware chain.
func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.server.Router().ServeHTTP(w, req)
	return w
}

// csrfToken fetches a CSRF token and the cookie it is bound to.
func (h *harness) csrfToken(t *testing.T) (string, []*http.Cookie) {
	t.Helper()
	w := h.do(httptest.NewRequest("GET", "/auth/csrf-token", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned %d", w.Code)
	}
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding csrf token response: %v", err)
	}
	if body.CSRFToken == "" {
		t.Fatal("expected a non-empty csrf token")
	}
	return body.CSRFToken, w.Result().Cookies()
}

// loginUser plants a user and returns a valid access cookie for it.
func (h *harness) loginUser(t *testing.T, user *domain.User) *http.Cookie {
	t.Helper()
	if err := h.users.Create(context.Background(), user); err != nil {
		t.Fatalf("planting user: %v", err)
	}
	token, err := h.codec.IssueAccess(user)
	if err != nil {
		t.Fatalf("issuing access token: %v", err)
	}
	return &http.Cookie{Name: auth.CookieAccess, Value: token}
}

// cookieByName digs a cookie out of a response.
func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
