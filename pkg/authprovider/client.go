package authprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"ready2publish/pkg/domain"
	"ready2publish/pkg/session"
)

var (
	// ErrNoSession is returned by AccessToken when nobody is signed in.
	ErrNoSession = errors.New("no active session")

	errRefreshThrottled = errors.New("token refresh throttled")
)

// Session is the credential set of one signed-in identity.
type Session struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	User         domain.Identity `json:"user"`
}

func (s *Session) expiresWithin(now time.Time, margin time.Duration) bool {
	return !s.ExpiresAt.IsZero() && !now.Add(margin).Before(s.ExpiresAt)
}

// APIError represents an auth API error response.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return e.Message
}

// rejectsSession reports whether the server refused the credentials outright
// rather than failing transiently.
func (e *APIError) rejectsSession() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type Config struct {
	BaseURL string
	// AnonKey is sent as the apikey header on every request.
	AnonKey          string
	EmailRedirectURL string
	HTTPClient       *http.Client
	Persister        SessionPersister
	Logger           *slog.Logger
	// RefreshMargin is how long before expiry the access token is renewed.
	// Defaults to one minute.
	RefreshMargin time.Duration
	// MinRefreshInterval throttles refresh calls. Defaults to five seconds.
	MinRefreshInterval time.Duration
}

// Client holds one browser device's session with the auth API.
type Client struct {
	baseURL     string
	anonKey     string
	redirectURL string
	httpClient  *http.Client
	persister   SessionPersister
	logger      *slog.Logger
	margin      time.Duration
	limiter     *rate.Limiter
	now         func() time.Time
	events      dispatcher

	refreshMu sync.Mutex

	mu       sync.Mutex
	session  *Session
	loaded   bool
	verified bool
}

var (
	_ session.Provider    = (*Client)(nil)
	_ session.TokenSource = (*Client)(nil)
)

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("auth base url required")
	}
	if strings.TrimSpace(cfg.AnonKey) == "" {
		return nil, errors.New("auth anon key required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = time.Minute
	}
	interval := cfg.MinRefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		anonKey:     strings.TrimSpace(cfg.AnonKey),
		redirectURL: strings.TrimSpace(cfg.EmailRedirectURL),
		httpClient:  httpClient,
		persister:   cfg.Persister,
		logger:      logger,
		margin:      margin,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		now:         time.Now,
	}, nil
}

func (c *Client) Subscribe(fn func(session.Event)) func() {
	return c.events.subscribe(fn)
}

// CurrentIdentity returns the signed-in identity, renewing the access token
// when it is about to expire. A session restored from the persister is
// checked against the server once. It returns (nil, nil) when signed out.
func (c *Client) CurrentIdentity(ctx context.Context) (*domain.Identity, error) {
	sess, err := c.validSession(ctx)
	if errors.Is(err, ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	verified := c.verified
	c.mu.Unlock()
	if !verified {
		sess, err = c.fetchUser(ctx, sess)
		if errors.Is(err, ErrNoSession) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return cloneIdentity(&sess.User), nil
}

// AccessToken returns a bearer token that is valid for at least the refresh
// margin when possible.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	sess, err := c.validSession(ctx)
	if err != nil {
		return "", err
	}
	return sess.AccessToken, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", payload, &resp); err != nil {
		return nil, err
	}
	sess, err := c.sessionFrom(resp)
	if err != nil {
		return nil, err
	}
	c.install(ctx, sess)
	c.events.emit(session.SignedIn, &sess.User)
	return cloneIdentity(&sess.User), nil
}

// SignUp registers an identity. When the server requires email confirmation
// no session is created and the returned identity is unconfirmed.
func (c *Client) SignUp(ctx context.Context, email, password string, meta session.SignUpMetadata) (*domain.Identity, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"data": map[string]string{
			"full_name": meta.DisplayName,
			"user_type": string(meta.Role),
		},
	}
	path := "/auth/v1/signup"
	if c.redirectURL != "" {
		path += "?redirect_to=" + url.QueryEscape(c.redirectURL)
	}
	var resp signUpResponse
	if err := c.doJSON(ctx, http.MethodPost, path, "", payload, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		ident := resp.goTrueUser.identity()
		if ident.ID == "" {
			return nil, errors.New("sign up response carries no user")
		}
		return &ident, nil
	}
	sess, err := c.sessionFrom(resp.tokenResponse)
	if err != nil {
		return nil, err
	}
	c.install(ctx, sess)
	c.events.emit(session.SignedIn, &sess.User)
	return cloneIdentity(&sess.User), nil
}

// SignOut revokes the session on the server and always drops it locally.
// A server that no longer knows the session is not an error.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	c.loadLocked(ctx)
	var token string
	if c.session != nil {
		token = c.session.AccessToken
	}
	c.mu.Unlock()

	var err error
	if token != "" {
		err = c.doJSON(ctx, http.MethodPost, "/auth/v1/logout", token, nil, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.rejectsSession() || apiErr.Status == http.StatusNotFound) {
			err = nil
		}
	}
	c.drop(ctx)
	c.events.emit(session.SignedOut, nil)
	return err
}

// VerifyEmailToken exchanges the token hash of a confirmation link for a
// session.
func (c *Client) VerifyEmailToken(ctx context.Context, tokenHash, kind string) (*domain.Identity, error) {
	payload := map[string]string{"token_hash": tokenHash, "type": kind}
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/v1/verify", "", payload, &resp); err != nil {
		return nil, err
	}
	sess, err := c.sessionFrom(resp)
	if err != nil {
		return nil, err
	}
	c.install(ctx, sess)
	c.events.emit(session.SignedIn, &sess.User)
	return cloneIdentity(&sess.User), nil
}

func (c *Client) validSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	c.loadLocked(ctx)
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return nil, ErrNoSession
	}
	if !sess.expiresWithin(c.now(), c.margin) {
		return sess, nil
	}
	return c.refresh(ctx, sess)
}

// loadLocked restores the persisted session on first use.
func (c *Client) loadLocked(ctx context.Context) {
	if c.loaded {
		return
	}
	c.loaded = true
	if c.persister == nil {
		c.verified = true
		return
	}
	stored, err := c.persister.Load(ctx)
	if err != nil {
		c.logger.Warn("load persisted session failed", "err", err)
		return
	}
	c.session = stored
}

// refresh renews stale. Concurrent callers share one refresh; a rejected
// refresh token ends the session and emits SIGNED_OUT.
func (c *Client) refresh(ctx context.Context, stale *Session) (*Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.Lock()
	cur := c.session
	c.mu.Unlock()
	if cur == nil {
		return nil, ErrNoSession
	}
	if cur.AccessToken != stale.AccessToken {
		return cur, nil
	}
	stillValid := c.now().Before(cur.ExpiresAt)
	if !c.limiter.Allow() {
		if stillValid {
			return cur, nil
		}
		return nil, errRefreshThrottled
	}

	payload := map[string]string{"refresh_token": cur.RefreshToken}
	var resp tokenResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/v1/token?grant_type=refresh_token", "", payload, &resp)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.rejectsSession() {
			c.logger.Info("refresh token rejected", "user_id", cur.User.ID, "status", apiErr.Status)
			c.drop(ctx)
			c.events.emit(session.SignedOut, nil)
			return nil, fmt.Errorf("%w: %s", ErrNoSession, apiErr.Message)
		}
		if stillValid {
			c.logger.Warn("token refresh failed", "user_id", cur.User.ID, "err", err)
			return cur, nil
		}
		return nil, err
	}
	next, err := c.sessionFrom(resp)
	if err != nil {
		return nil, err
	}
	c.install(ctx, next)
	c.events.emit(session.TokenRefreshed, &next.User)
	return next, nil
}

// fetchUser checks sess against the server and picks up metadata changes.
func (c *Client) fetchUser(ctx context.Context, sess *Session) (*Session, error) {
	var user goTrueUser
	err := c.doJSON(ctx, http.MethodGet, "/auth/v1/user", sess.AccessToken, nil, &user)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.rejectsSession() {
			c.drop(ctx)
			c.events.emit(session.SignedOut, nil)
			return nil, ErrNoSession
		}
		return nil, err
	}
	next := *sess
	next.User = user.identity()
	changed := !sameIdentity(sess.User, next.User)

	c.mu.Lock()
	if c.session == nil || c.session.AccessToken != sess.AccessToken {
		c.mu.Unlock()
		return sess, nil
	}
	c.session = &next
	c.verified = true
	c.mu.Unlock()

	if changed {
		c.persist(ctx, &next)
		c.events.emit(session.UserUpdated, &next.User)
	}
	return &next, nil
}

func (c *Client) install(ctx context.Context, sess *Session) {
	c.mu.Lock()
	c.session = sess
	c.loaded = true
	c.verified = true
	c.mu.Unlock()
	c.persist(ctx, sess)
}

func (c *Client) drop(ctx context.Context) {
	c.mu.Lock()
	c.session = nil
	c.loaded = true
	c.mu.Unlock()
	if c.persister != nil {
		if err := c.persister.Clear(ctx); err != nil {
			c.logger.Warn("clear persisted session failed", "err", err)
		}
	}
}

func (c *Client) persist(ctx context.Context, sess *Session) {
	if c.persister == nil {
		return
	}
	if err := c.persister.Save(ctx, sess); err != nil {
		c.logger.Warn("persist session failed", "user_id", sess.User.ID, "err", err)
	}
}

func (c *Client) sessionFrom(resp tokenResponse) (*Session, error) {
	if resp.AccessToken == "" {
		return nil, errors.New("auth response carries no session")
	}
	expiresAt := tokenExpiry(resp.AccessToken)
	if expiresAt.IsZero() && resp.ExpiresAt > 0 {
		expiresAt = time.Unix(resp.ExpiresAt, 0)
	}
	if expiresAt.IsZero() && resp.ExpiresIn > 0 {
		expiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return &Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         resp.User.identity(),
	}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the token
// is only ever sent back to the server that issued it.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
			Msg         string `json:"msg"`
			Message     string `json:"message"`
			ErrorCode   string `json:"error_code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := firstNonEmpty(errResp.Description, errResp.Msg, errResp.Message, errResp.Error)
		if msg == "" {
			msg = resp.Status
		}
		code := firstNonEmpty(errResp.ErrorCode, errResp.Error)
		return &APIError{Status: resp.StatusCode, Message: msg, Code: strings.TrimSpace(code)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return err
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type goTrueUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (u goTrueUser) identity() domain.Identity {
	ident := domain.Identity{
		ID:             u.ID,
		Email:          u.Email,
		EmailConfirmed: u.EmailConfirmedAt != nil && !u.EmailConfirmedAt.IsZero(),
	}
	if len(u.UserMetadata) > 0 {
		ident.Metadata = make(map[string]string, len(u.UserMetadata))
		for k, v := range u.UserMetadata {
			switch val := v.(type) {
			case string:
				ident.Metadata[k] = val
			case nil:
			default:
				ident.Metadata[k] = fmt.Sprint(val)
			}
		}
	}
	return ident
}

type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         goTrueUser `json:"user"`
}

// signUpResponse is either a session or, when confirmation is pending, a bare
// user object.
type signUpResponse struct {
	tokenResponse
	goTrueUser
}

func sameIdentity(a, b domain.Identity) bool {
	return a.ID == b.ID && a.Email == b.Email && a.EmailConfirmed == b.EmailConfirmed && maps.Equal(a.Metadata, b.Metadata)
}
