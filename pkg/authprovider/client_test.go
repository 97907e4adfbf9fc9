package authprovider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ready2publish/pkg/session"
)

const (
	testAnonKey  = "anon-key"
	testEmail    = "reader@example.com"
	testPassword = "Secret1"
)

type fakeGoTrue struct {
	secret []byte

	mu            sync.Mutex
	ttl           time.Duration
	issued        int
	refreshCalls  int
	userCalls     int
	rejectRefresh bool
	logoutStatus  int
	signUpBody    map[string]any
	signUpQuery   url.Values
}

func newFakeGoTrue(t *testing.T) (*fakeGoTrue, *httptest.Server) {
	t.Helper()
	f := &fakeGoTrue{secret: []byte("test-secret"), ttl: time.Hour, logoutStatus: http.StatusNoContent}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGoTrue) newSession() map[string]any {
	f.mu.Lock()
	f.issued++
	claims := jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(f.ttl).Unix(),
		"jti": f.issued,
	}
	f.mu.Unlock()
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	return map[string]any{
		"access_token":  token,
		"refresh_token": "refresh-" + token[len(token)-6:],
		"expires_in":    3600,
		"user":          f.user(),
	}
}

func (f *fakeGoTrue) user() map[string]any {
	return map[string]any{
		"id":                 "u1",
		"email":              testEmail,
		"email_confirmed_at": "2024-01-02T03:04:05Z",
		"user_metadata":      map[string]any{"full_name": "Reader", "user_type": "buyer"},
	}
}

func (f *fakeGoTrue) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != testAnonKey {
		writeFake(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	switch r.URL.Path {
	case "/auth/v1/token":
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["email"] != testEmail || body["password"] != testPassword {
				writeFake(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
			writeFake(w, http.StatusOK, f.newSession())
		case "refresh_token":
			f.mu.Lock()
			f.refreshCalls++
			reject := f.rejectRefresh
			f.mu.Unlock()
			if reject {
				writeFake(w, http.StatusBadRequest, map[string]any{"error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token: Refresh Token Not Found"})
				return
			}
			writeFake(w, http.StatusOK, f.newSession())
		default:
			writeFake(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant type"})
		}
	case "/auth/v1/signup":
		f.mu.Lock()
		f.signUpBody = body
		f.signUpQuery = r.URL.Query()
		f.mu.Unlock()
		writeFake(w, http.StatusOK, map[string]any{"id": "u-new", "email": body["email"]})
	case "/auth/v1/logout":
		f.mu.Lock()
		status := f.logoutStatus
		f.mu.Unlock()
		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		writeFake(w, status, map[string]any{"msg": "session not found"})
	case "/auth/v1/user":
		f.mu.Lock()
		f.userCalls++
		f.mu.Unlock()
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeFake(w, http.StatusUnauthorized, map[string]any{"msg": "missing token"})
			return
		}
		writeFake(w, http.StatusOK, f.user())
	case "/auth/v1/verify":
		if body["token_hash"] != "hash-1" || body["type"] != "email" {
			writeFake(w, http.StatusForbidden, map[string]any{"msg": "Token has expired or is invalid"})
			return
		}
		writeFake(w, http.StatusOK, f.newSession())
	default:
		http.NotFound(w, r)
	}
}

func writeFake(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *recorder) handle(ev session.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []session.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newPersister(t *testing.T, mr *miniredis.Miniredis, device string) *RedisPersister {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	p, err := NewRedisPersister(client, "test:auth", device, time.Hour)
	require.NoError(t, err)
	return p
}

func newTestClient(t *testing.T, baseURL string, persister SessionPersister) *Client {
	t.Helper()
	cfg := Config{BaseURL: baseURL, AnonKey: testAnonKey, EmailRedirectURL: "https://shop.example/confirm"}
	if persister != nil {
		cfg.Persister = persister
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(Config{AnonKey: testAnonKey})
	require.Error(t, err)
	_, err = NewClient(Config{BaseURL: "http://auth"})
	require.Error(t, err)
}

func TestSignInEmitsBeforeReturning(t *testing.T) {
	_, srv := newFakeGoTrue(t)
	mr := miniredis.RunT(t)
	persister := newPersister(t, mr, "dev-1")
	c := newTestClient(t, srv.URL, persister)

	rec := &recorder{}
	c.Subscribe(rec.handle)

	ident, err := c.SignIn(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, "u1", ident.ID)
	require.True(t, ident.EmailConfirmed)
	require.Equal(t, "Reader", ident.Metadata["full_name"])
	require.Equal(t, []session.EventType{session.SignedIn}, rec.types())

	stored, err := persister.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, "u1", stored.User.ID)
	require.False(t, stored.ExpiresAt.IsZero())
}

func TestSignInPassesServerMessage(t *testing.T) {
	_, srv := newFakeGoTrue(t)
	c := newTestClient(t, srv.URL, nil)

	_, err := c.SignIn(context.Background(), testEmail, "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.Status)
	require.Equal(t, "Invalid login credentials", apiErr.Message)
	require.Equal(t, "invalid_grant", apiErr.Code)
}

func TestSignUpPendingConfirmation(t *testing.T) {
	fake, srv := newFakeGoTrue(t)
	c := newTestClient(t, srv.URL, nil)
	rec := &recorder{}
	c.Subscribe(rec.handle)

	ident, err := c.SignUp(context.Background(), "new@example.com", "Secret1", session.SignUpMetadata{DisplayName: "Ada", Role: "author"})
	require.NoError(t, err)
	require.Equal(t, "u-new", ident.ID)
	require.False(t, ident.EmailConfirmed)
	require.Empty(t, rec.types())

	fake.mu.Lock()
	defer fake.mu.Unlock()
	data, _ := fake.signUpBody["data"].(map[string]any)
	require.Equal(t, "Ada", data["full_name"])
	require.Equal(t, "author", data["user_type"])
	require.Equal(t, "https://shop.example/confirm", fake.signUpQuery.Get("redirect_to"))

	token, err := c.AccessToken(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
	require.Empty(t, token)
}

func TestAccessTokenRefreshesNearExpiry(t *testing.T) {
	fake, srv := newFakeGoTrue(t)
	fake.ttl = 30 * time.Second
	c := newTestClient(t, srv.URL, nil)
	rec := &recorder{}
	c.Subscribe(rec.handle)

	_, err := c.SignIn(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	c.mu.Lock()
	first := c.session.AccessToken
	c.mu.Unlock()

	token, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, token)
	require.Equal(t, []session.EventType{session.SignedIn, session.TokenRefreshed}, rec.types())

	// Still inside the margin, but throttled and not yet expired.
	again, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, token, again)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, 1, fake.refreshCalls)
}

func TestRejectedRefreshSignsOut(t *testing.T) {
	fake, srv := newFakeGoTrue(t)
	fake.ttl = 30 * time.Second
	mr := miniredis.RunT(t)
	persister := newPersister(t, mr, "dev-2")
	c := newTestClient(t, srv.URL, persister)
	rec := &recorder{}
	c.Subscribe(rec.handle)

	_, err := c.SignIn(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	fake.mu.Lock()
	fake.rejectRefresh = true
	fake.mu.Unlock()

	ident, err := c.CurrentIdentity(context.Background())
	require.NoError(t, err)
	require.Nil(t, ident)
	require.Equal(t, []session.EventType{session.SignedIn, session.SignedOut}, rec.types())

	stored, err := persister.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestRestoredSessionVerifiedOnce(t *testing.T) {
	fake, srv := newFakeGoTrue(t)
	mr := miniredis.RunT(t)

	first := newTestClient(t, srv.URL, newPersister(t, mr, "dev-3"))
	_, err := first.SignIn(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	restored := newTestClient(t, srv.URL, newPersister(t, mr, "dev-3"))
	for range 2 {
		ident, err := restored.CurrentIdentity(context.Background())
		require.NoError(t, err)
		require.NotNil(t, ident)
		require.Equal(t, "u1", ident.ID)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, 1, fake.userCalls)
}

func TestSignOutIgnoresUnknownSession(t *testing.T) {
	fake, srv := newFakeGoTrue(t)
	fake.logoutStatus = http.StatusUnauthorized
	c := newTestClient(t, srv.URL, nil)
	rec := &recorder{}
	c.Subscribe(rec.handle)

	_, err := c.SignIn(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.NoError(t, c.SignOut(context.Background()))
	require.Equal(t, []session.EventType{session.SignedIn, session.SignedOut}, rec.types())

	ident, err := c.CurrentIdentity(context.Background())
	require.NoError(t, err)
	require.Nil(t, ident)
}

func TestVerifyEmailTokenStartsSession(t *testing.T) {
	_, srv := newFakeGoTrue(t)
	c := newTestClient(t, srv.URL, nil)

	_, err := c.VerifyEmailToken(context.Background(), "bogus", "email")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "Token has expired or is invalid", apiErr.Message)

	ident, err := c.VerifyEmailToken(context.Background(), "hash-1", "email")
	require.NoError(t, err)
	require.Equal(t, "u1", ident.ID)
	token, err := c.AccessToken(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, token)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	_, srv := newFakeGoTrue(t)
	c := newTestClient(t, srv.URL, nil)
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec.handle)
	unsubscribe()
	unsubscribe()

	_, err := c.SignIn(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	require.Empty(t, rec.types())
}
