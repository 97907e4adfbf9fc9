package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ready2publish/pkg/domain"
)

type fakeProvider struct {
	mu         sync.Mutex
	current    *domain.Identity
	currentFn  func() (*domain.Identity, error)
	handlers   map[int]func(Event)
	nextID     int
	signInErr  error
	signOutErr error
	token      string
	signUps    []SignUpMetadata
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{handlers: map[int]func(Event){}}
}

func (p *fakeProvider) emit(ev Event) {
	p.mu.Lock()
	hs := make([]func(Event), 0, len(p.handlers))
	for _, h := range p.handlers {
		hs = append(hs, h)
	}
	p.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (p *fakeProvider) subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

func (p *fakeProvider) CurrentIdentity(context.Context) (*domain.Identity, error) {
	if p.currentFn != nil {
		return p.currentFn()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

func (p *fakeProvider) SignIn(_ context.Context, email, _ string) (*domain.Identity, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	ident := &domain.Identity{ID: "u-" + email, Email: email, EmailConfirmed: true}
	p.mu.Lock()
	p.current = ident
	p.mu.Unlock()
	p.emit(Event{Type: SignedIn, Identity: ident})
	return ident, nil
}

func (p *fakeProvider) SignUp(_ context.Context, email, _ string, meta SignUpMetadata) (*domain.Identity, error) {
	p.mu.Lock()
	p.signUps = append(p.signUps, meta)
	p.mu.Unlock()
	return &domain.Identity{ID: "new-" + email, Email: email}, nil
}

func (p *fakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	if p.signOutErr != nil {
		return p.signOutErr
	}
	p.emit(Event{Type: SignedOut})
	return nil
}

func (p *fakeProvider) VerifyEmailToken(_ context.Context, tokenHash, _ string) (*domain.Identity, error) {
	if tokenHash != "good" {
		return nil, &domain.AuthError{Op: "verify", Message: "Token has expired or is invalid"}
	}
	ident := &domain.Identity{ID: "u-verified", Email: "v@example.com", EmailConfirmed: true}
	p.emit(Event{Type: SignedIn, Identity: ident})
	return ident, nil
}

func (p *fakeProvider) Subscribe(fn func(Event)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) AccessToken(context.Context) (string, error) {
	if p.token == "" {
		return "", errors.New("no session")
	}
	return p.token, nil
}

// fakeProfiles serves profiles keyed by id. When gate is set, GetProfile
// reports the call on started and then blocks until gate is closed.
type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	calls    []string
	started  chan string
	gate     chan struct{}
	getErr   error
}

func newFakeProfiles(ids ...string) *fakeProfiles {
	f := &fakeProfiles{profiles: map[string]domain.Profile{}, started: make(chan string, 16)}
	for _, id := range ids {
		f.profiles[id] = domain.Profile{ID: id, FullName: "Name " + id, Role: domain.RoleBuyer}
	}
	return f
}

func (f *fakeProfiles) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	gate := f.gate
	f.mu.Unlock()
	f.started <- id
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Profile{}, false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Profile{}, false, f.getErr
	}
	p, ok := f.profiles[id]
	return p, ok, nil
}

func (f *fakeProfiles) UpdateProfile(_ context.Context, id string, upd domain.ProfileUpdate) (domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return domain.Profile{}, domain.ErrNotFound
	}
	if upd.FullName != nil {
		p.FullName = *upd.FullName
	}
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	p.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.profiles[id] = p
	return p, nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitStarted(t *testing.T, f *fakeProfiles) string {
	t.Helper()
	select {
	case id := <-f.started:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("profile fetch was never started")
		return ""
	}
}
