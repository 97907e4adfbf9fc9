// Package session keeps the signed-in identity and its profile record in step
// with an external, event-driven authentication provider.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ready2publish/pkg/auth"
	"ready2publish/pkg/domain"
)

// State is the authentication state of one Synchronizer.
type State int

const (
	Loading State = iota
	Unauthenticated
	Authenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is a copy of the synchronizer state. Profile may be nil while the
// state is Authenticated: it attaches once the deferred fetch completes.
type Snapshot struct {
	State    State            `json:"state"`
	Identity *domain.Identity `json:"identity,omitempty"`
	Profile  *domain.Profile  `json:"profile,omitempty"`
}

// Options tune a Synchronizer. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// FetchTimeout bounds each deferred profile fetch. Defaults to 10s.
	FetchTimeout time.Duration
	// Tasks runs deferred profile fetches. A private queue is created and
	// owned by the synchronizer when nil.
	Tasks *TaskQueue
}

// Synchronizer caches the current identity and profile. Provider events
// update the identity synchronously; profile fetches run on the task queue
// and are discarded when the identity changed in the meantime.
type Synchronizer struct {
	provider     Provider
	profiles     ProfileStore
	tasks        *TaskQueue
	ownsTasks    bool
	logger       *slog.Logger
	fetchTimeout time.Duration

	mu          sync.Mutex
	state       State
	identity    *domain.Identity
	profile     *domain.Profile
	epoch       uint64
	started     bool
	closed      bool
	unsubscribe func()
}

func NewSynchronizer(provider Provider, profiles ProfileStore, opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &Synchronizer{
		provider:     provider,
		profiles:     profiles,
		tasks:        opts.Tasks,
		logger:       logger,
		fetchTimeout: timeout,
		state:        Loading,
	}
	if s.tasks == nil {
		s.tasks = NewTaskQueue(logger)
		s.ownsTasks = true
	}
	return s
}

// Start subscribes to provider events and resolves the initial identity.
// Events that arrive during the initial fetch win over its result. A failed
// initial fetch leaves the synchronizer Unauthenticated and is returned.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	unsubscribe := s.provider.Subscribe(s.handleEvent)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsubscribe()
		return nil
	}
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	ident, err := s.provider.CurrentIdentity(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state != Loading {
		return nil
	}
	if err != nil {
		s.state = Unauthenticated
		return authError("get session", err)
	}
	if ident == nil {
		s.state = Unauthenticated
		return nil
	}
	s.setIdentityLocked(ident, true)
	return nil
}

// handleEvent never performs I/O and never calls back into the provider.
func (s *Synchronizer) handleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.Type == SignedOut || ev.Identity == nil {
		s.clearLocked()
		return
	}
	s.setIdentityLocked(ev.Identity, ev.Type == SignedIn)
}

// setIdentityLocked installs ident. A change of user drops the cached profile
// and invalidates in-flight fetches. A fetch is scheduled when forced or when
// the user changed.
func (s *Synchronizer) setIdentityLocked(ident *domain.Identity, forceFetch bool) {
	changed := s.identity == nil || s.identity.ID != ident.ID
	s.identity = cloneIdentity(ident)
	s.state = Authenticated
	if changed {
		s.epoch++
		s.profile = nil
	}
	if changed || forceFetch {
		s.scheduleProfileLoadLocked()
	}
}

func (s *Synchronizer) clearLocked() {
	if s.identity != nil {
		s.epoch++
	}
	s.identity = nil
	s.profile = nil
	s.state = Unauthenticated
}

func (s *Synchronizer) scheduleProfileLoadLocked() {
	epoch, userID := s.epoch, s.identity.ID
	s.tasks.Defer(func() { s.loadProfile(epoch, userID) })
}

func (s *Synchronizer) loadProfile(epoch uint64, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.fetchTimeout)
	defer cancel()
	profile, ok, err := s.profiles.GetProfile(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.epoch != epoch {
		s.logger.Debug("discarding stale profile fetch", "user_id", userID)
		return
	}
	if err != nil {
		s.logger.Warn("load profile failed", "user_id", userID, "err", err)
		return
	}
	if !ok {
		s.logger.Info("profile not found", "user_id", userID)
		return
	}
	s.profile = &profile
}

// SignIn authenticates with email and password. The cached identity is
// updated through the provider's SignedIn event.
func (s *Synchronizer) SignIn(ctx context.Context, email, password string) (*domain.Identity, error) {
	email = auth.NormalizeEmail(email)
	if err := auth.ValidateEmail(email); err != nil {
		return nil, domain.Invalid("email", err.Error())
	}
	if len([]rune(password)) < auth.MinPasswordLen {
		return nil, domain.Invalid("password", auth.ErrPasswordTooShort.Error())
	}
	ident, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, authError("sign in", err)
	}
	s.reconcile(ident)
	return cloneIdentity(ident), nil
}

// SignUp registers a new identity. Depending on the provider the identity may
// need email confirmation before a session exists.
func (s *Synchronizer) SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*domain.Identity, error) {
	email = auth.NormalizeEmail(email)
	meta.DisplayName = strings.TrimSpace(meta.DisplayName)
	if err := auth.ValidateDisplayName(meta.DisplayName); err != nil {
		return nil, domain.Invalid("fullName", err.Error())
	}
	if err := auth.ValidateEmail(email); err != nil {
		return nil, domain.Invalid("email", err.Error())
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, domain.Invalid("password", err.Error())
	}
	if meta.Role != domain.RoleAuthor && meta.Role != domain.RoleBuyer {
		return nil, domain.Invalid("role", "role must be author or buyer")
	}
	ident, err := s.provider.SignUp(ctx, email, password, meta)
	if err != nil {
		return nil, authError("sign up", err)
	}
	if ident != nil && ident.EmailConfirmed {
		s.reconcile(ident)
	}
	return cloneIdentity(ident), nil
}

// SignOut ends the provider session. Local state is cleared even when the
// provider call fails; the failure is still returned.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	s.mu.Lock()
	if !s.closed {
		s.clearLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return authError("sign out", err)
	}
	return nil
}

// VerifyEmail confirms a sign-up with the token hash from the confirmation link.
func (s *Synchronizer) VerifyEmail(ctx context.Context, tokenHash, kind string) (*domain.Identity, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return nil, domain.Invalid("token_hash", "confirmation token is required")
	}
	if kind != "email" {
		return nil, domain.Invalid("type", "unsupported confirmation type")
	}
	ident, err := s.provider.VerifyEmailToken(ctx, tokenHash, kind)
	if err != nil {
		return nil, authError("verify email", err)
	}
	s.reconcile(ident)
	return cloneIdentity(ident), nil
}

// reconcile applies an identity returned by a provider call in case the
// matching event has not been seen. It is a no-op when it has.
func (s *Synchronizer) reconcile(ident *domain.Identity) {
	if ident == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.setIdentityLocked(ident, false)
}

// UpdateProfile writes upd and replaces the cached profile with the record
// the store returns.
func (s *Synchronizer) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (domain.Profile, error) {
	userID, err := s.requireIdentity("update profile")
	if err != nil {
		return domain.Profile{}, err
	}
	if upd.FullName != nil {
		name := strings.TrimSpace(*upd.FullName)
		if err := auth.ValidateDisplayName(name); err != nil {
			return domain.Profile{}, domain.Invalid("fullName", err.Error())
		}
		upd.FullName = &name
	}
	profile, err := s.profiles.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return domain.Profile{}, domain.Remote("update profile", err)
	}
	s.storeProfile(userID, profile)
	return profile, nil
}

// RefreshProfile fetches the profile now instead of waiting for an event.
func (s *Synchronizer) RefreshProfile(ctx context.Context) (*domain.Profile, error) {
	userID, err := s.requireIdentity("refresh profile")
	if err != nil {
		return nil, err
	}
	profile, ok, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, domain.Remote("refresh profile", err)
	}
	if !ok {
		return nil, nil
	}
	s.storeProfile(userID, profile)
	return &profile, nil
}

func (s *Synchronizer) storeProfile(userID string, profile domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.identity == nil || s.identity.ID != userID {
		return
	}
	s.profile = &profile
}

func (s *Synchronizer) requireIdentity(op string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return "", &domain.NotAuthenticatedError{Op: op}
	}
	return s.identity.ID, nil
}

// AccessToken returns the bearer token of the current session.
func (s *Synchronizer) AccessToken(ctx context.Context) (string, error) {
	if _, err := s.requireIdentity("access token"); err != nil {
		return "", err
	}
	ts, ok := s.provider.(TokenSource)
	if !ok {
		return "", &domain.AuthError{Op: "access token", Message: "provider does not issue access tokens"}
	}
	token, err := ts.AccessToken(ctx)
	if err != nil {
		return "", authError("access token", err)
	}
	return token, nil
}

// Snapshot returns a copy of the current state.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{State: s.state, Identity: cloneIdentity(s.identity)}
	if s.profile != nil {
		p := *s.profile
		snap.Profile = &p
	}
	return snap
}

// Identity returns a copy of the cached identity or nil.
func (s *Synchronizer) Identity() *domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneIdentity(s.identity)
}

// Close unsubscribes from the provider and stops deferred work. Fetches that
// resolve afterwards are dropped.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if s.ownsTasks {
		s.tasks.Close()
	}
}

func authError(op string, err error) error {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	var valErr *domain.ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	return &domain.AuthError{Op: op, Err: err}
}

func cloneIdentity(ident *domain.Identity) *domain.Identity {
	if ident == nil {
		return nil
	}
	c := *ident
	if ident.Metadata != nil {
		c.Metadata = make(map[string]string, len(ident.Metadata))
		for k, v := range ident.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
