package session

import (
	"context"

	"ready2publish/pkg/domain"
)

// EventType names an authentication state change reported by the provider.
type EventType string

const (
	InitialSession EventType = "INITIAL_SESSION"
	SignedIn       EventType = "SIGNED_IN"
	SignedOut      EventType = "SIGNED_OUT"
	TokenRefreshed EventType = "TOKEN_REFRESHED"
	UserUpdated    EventType = "USER_UPDATED"
)

// Event is delivered synchronously on the provider's dispatch path. Identity
// is nil when the session ended.
type Event struct {
	Type     EventType
	Identity *domain.Identity
}

// SignUpMetadata is attached to the identity at registration and read by the
// backend when it creates the profile record.
type SignUpMetadata struct {
	DisplayName string
	Role        domain.UserRole
}

// Provider is the external authentication source. Implementations emit
// SignedIn/SignedOut events for their own SignIn/SignOut calls before those
// calls return.
type Provider interface {
	CurrentIdentity(ctx context.Context) (*domain.Identity, error)
	SignIn(ctx context.Context, email, password string) (*domain.Identity, error)
	SignUp(ctx context.Context, email, password string, meta SignUpMetadata) (*domain.Identity, error)
	SignOut(ctx context.Context) error
	VerifyEmailToken(ctx context.Context, tokenHash, kind string) (*domain.Identity, error)
	// Subscribe registers fn for every subsequent event and returns a func
	// that removes it.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// TokenSource is implemented by providers that can hand out the bearer token
// of the current session for calls to backend functions.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ProfileStore reads and writes profile records. GetProfile returns
// (zero, false, nil) when no record exists yet.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) (domain.Profile, error)
}
