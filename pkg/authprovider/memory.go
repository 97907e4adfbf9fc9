package authprovider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ready2publish/pkg/auth"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/session"
)

// Errors follow the auth API's wording, lowercased.
var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrUserExists         = errors.New("user already registered")
	ErrInvalidToken       = errors.New("token has expired or is invalid")
)

// TokenAudience is the aud claim of access tokens issued by a Directory.
const TokenAudience = "authenticated"

type DirectoryOptions struct {
	// Secret signs HS256 access tokens. A random secret is used when empty.
	Secret string
	// TokenTTL defaults to one hour.
	TokenTTL time.Duration
	// RequireConfirmation holds new identities until VerifyEmailToken.
	RequireConfirmation bool
	// OnSignUp runs after an identity is registered, the way the backend
	// creates the profile record. A failure rolls the registration back.
	OnSignUp func(ctx context.Context, ident domain.Identity, meta session.SignUpMetadata) error
	Logger   *slog.Logger
}

type account struct {
	identity     domain.Identity
	passwordHash string
}

// Directory is an in-process identity store shared by MemoryProviders.
type Directory struct {
	secret              []byte
	tokenTTL            time.Duration
	requireConfirmation bool
	onSignUp            func(context.Context, domain.Identity, session.SignUpMetadata) error
	logger              *slog.Logger
	now                 func() time.Time

	mu      sync.Mutex
	byEmail map[string]*account
	pending map[string]string
}

func NewDirectory(opts DirectoryOptions) *Directory {
	secret := []byte(opts.Secret)
	if len(secret) == 0 {
		secret = []byte(randomHex(32))
	}
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		secret:              secret,
		tokenTTL:            ttl,
		requireConfirmation: opts.RequireConfirmation,
		onSignUp:            opts.OnSignUp,
		logger:              logger,
		now:                 time.Now,
		byEmail:             make(map[string]*account),
		pending:             make(map[string]string),
	}
}

// SigningSecret returns the HS256 key access tokens are signed with.
func (d *Directory) SigningSecret() string { return string(d.secret) }

// NewProvider returns a provider with its own session over d.
func (d *Directory) NewProvider() *MemoryProvider {
	return &MemoryProvider{dir: d}
}

// confirmationToken returns the pending confirmation token hash for email.
func (d *Directory) confirmationToken(email string) (string, bool) {
	email = auth.NormalizeEmail(email)
	d.mu.Lock()
	defer d.mu.Unlock()
	for token, e := range d.pending {
		if e == email {
			return token, true
		}
	}
	return "", false
}

func (d *Directory) register(ctx context.Context, email, password string, meta session.SignUpMetadata) (domain.Identity, string, error) {
	email = auth.NormalizeEmail(email)
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.Identity{}, "", err
	}
	ident := domain.Identity{
		ID:             uuid.NewString(),
		Email:          email,
		EmailConfirmed: !d.requireConfirmation,
		Metadata: map[string]string{
			"full_name": meta.DisplayName,
			"user_type": string(meta.Role),
		},
	}

	d.mu.Lock()
	if _, exists := d.byEmail[email]; exists {
		d.mu.Unlock()
		return domain.Identity{}, "", ErrUserExists
	}
	d.byEmail[email] = &account{identity: ident, passwordHash: hash}
	var token string
	if d.requireConfirmation {
		token = randomHex(16)
		d.pending[token] = email
	}
	d.mu.Unlock()

	if d.onSignUp != nil {
		if err := d.onSignUp(ctx, ident, meta); err != nil {
			d.mu.Lock()
			delete(d.byEmail, email)
			delete(d.pending, token)
			d.mu.Unlock()
			return domain.Identity{}, "", err
		}
	}
	if token != "" {
		d.logger.Info("confirmation pending", "user_id", ident.ID, "token_hash", token)
	}
	return ident, token, nil
}

func (d *Directory) authenticate(email, password string) (domain.Identity, error) {
	email = auth.NormalizeEmail(email)
	d.mu.Lock()
	acct, ok := d.byEmail[email]
	d.mu.Unlock()
	if !ok || !auth.CheckPassword(password, acct.passwordHash) {
		return domain.Identity{}, ErrInvalidCredentials
	}
	if !acct.identity.EmailConfirmed {
		return domain.Identity{}, ErrEmailNotConfirmed
	}
	return *cloneIdentity(&acct.identity), nil
}

func (d *Directory) confirm(tokenHash string) (domain.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	email, ok := d.pending[tokenHash]
	if !ok {
		return domain.Identity{}, ErrInvalidToken
	}
	delete(d.pending, tokenHash)
	acct := d.byEmail[email]
	if acct == nil {
		return domain.Identity{}, ErrInvalidToken
	}
	acct.identity.EmailConfirmed = true
	return *cloneIdentity(&acct.identity), nil
}

// issue signs an access token the functions service accepts with the same
// secret.
func (d *Directory) issue(ident domain.Identity) (string, time.Time, error) {
	now := d.now()
	expiresAt := now.Add(d.tokenTTL)
	claims := jwt.MapClaims{
		"sub":   ident.ID,
		"email": ident.Email,
		"aud":   TokenAudience,
		"role":  "authenticated",
		"iat":   now.Unix(),
		"exp":   expiresAt.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(d.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// MemoryProvider is one device's session over a Directory.
type MemoryProvider struct {
	dir    *Directory
	events dispatcher

	mu        sync.Mutex
	current   *domain.Identity
	token     string
	expiresAt time.Time
}

var (
	_ session.Provider    = (*MemoryProvider)(nil)
	_ session.TokenSource = (*MemoryProvider)(nil)
)

func (p *MemoryProvider) Subscribe(fn func(session.Event)) func() {
	return p.events.subscribe(fn)
}

func (p *MemoryProvider) CurrentIdentity(context.Context) (*domain.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneIdentity(p.current), nil
}

func (p *MemoryProvider) SignIn(_ context.Context, email, password string) (*domain.Identity, error) {
	ident, err := p.dir.authenticate(email, password)
	if err != nil {
		return nil, err
	}
	if err := p.start(ident); err != nil {
		return nil, err
	}
	p.events.emit(session.SignedIn, &ident)
	return cloneIdentity(&ident), nil
}

func (p *MemoryProvider) SignUp(ctx context.Context, email, password string, meta session.SignUpMetadata) (*domain.Identity, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ident, _, err := p.dir.register(ctx, email, password, meta)
	if err != nil {
		return nil, err
	}
	if !ident.EmailConfirmed {
		return cloneIdentity(&ident), nil
	}
	if err := p.start(ident); err != nil {
		return nil, err
	}
	p.events.emit(session.SignedIn, &ident)
	return cloneIdentity(&ident), nil
}

func (p *MemoryProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.token = ""
	p.mu.Unlock()
	p.events.emit(session.SignedOut, nil)
	return nil
}

func (p *MemoryProvider) VerifyEmailToken(_ context.Context, tokenHash, kind string) (*domain.Identity, error) {
	if kind != "email" {
		return nil, ErrInvalidToken
	}
	ident, err := p.dir.confirm(tokenHash)
	if err != nil {
		return nil, err
	}
	if err := p.start(ident); err != nil {
		return nil, err
	}
	p.events.emit(session.SignedIn, &ident)
	return cloneIdentity(&ident), nil
}

// AccessToken reissues an expired token and reports it as TOKEN_REFRESHED.
func (p *MemoryProvider) AccessToken(context.Context) (string, error) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return "", ErrNoSession
	}
	if p.dir.now().Before(p.expiresAt) {
		token := p.token
		p.mu.Unlock()
		return token, nil
	}
	token, expiresAt, err := p.dir.issue(*p.current)
	if err != nil {
		p.mu.Unlock()
		return "", err
	}
	p.token, p.expiresAt = token, expiresAt
	ident := cloneIdentity(p.current)
	p.mu.Unlock()

	p.events.emit(session.TokenRefreshed, ident)
	return token, nil
}

func (p *MemoryProvider) start(ident domain.Identity) error {
	token, expiresAt, err := p.dir.issue(ident)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.current = cloneIdentity(&ident)
	p.token, p.expiresAt = token, expiresAt
	p.mu.Unlock()
	return nil
}

func randomHex(nBytes int) string {
	buf := make([]byte, nBytes)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
