package authprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionPersister keeps a Client's session across restarts. Load returns
// (nil, nil) when nothing is stored.
type SessionPersister interface {
	Load(ctx context.Context) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Clear(ctx context.Context) error
}

// RedisPersister stores one device's session as JSON under "<prefix>:<device>".
type RedisPersister struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

func NewRedisPersister(client redis.UniversalClient, prefix, deviceID string, ttl time.Duration) (*RedisPersister, error) {
	if client == nil {
		return nil, errors.New("session persister requires a redis client")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New("session persister requires a device id")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "r2p:auth"
	}
	return &RedisPersister{client: client, key: prefix + ":" + deviceID, ttl: ttl}, nil
}

func (p *RedisPersister) Load(ctx context.Context) (*Session, error) {
	blob, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(blob, &s); err != nil || s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (p *RedisPersister) Save(ctx context.Context, s *Session) error {
	if s == nil {
		return p.Clear(ctx)
	}
	blob, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := p.client.Set(ctx, p.key, blob, p.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *RedisPersister) Clear(ctx context.Context) error {
	if err := p.client.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
