package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ready2publish/pkg/domain"
)

// Repository persists one device's cart as a single blob. Writers replace the
// whole cart; the last write wins.
type Repository interface {
	Load(ctx context.Context) ([]domain.CartLine, error)
	Save(ctx context.Context, lines []domain.CartLine) error
}

// MemoryRepository keeps the cart in process memory.
type MemoryRepository struct {
	mu   sync.Mutex
	blob []byte
}

func NewMemoryRepository() *MemoryRepository { return &MemoryRepository{} }

func (r *MemoryRepository) Load(context.Context) ([]domain.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return decodeLines(r.blob)
}

func (r *MemoryRepository) Save(_ context.Context, lines []domain.CartLine) error {
	blob, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.blob = blob
	r.mu.Unlock()
	return nil
}

// RedisRepository stores the cart JSON under "<prefix>:<device>" and renews
// the TTL on every save.
type RedisRepository struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewRedisRepository binds a repository to one device id.
func NewRedisRepository(client redis.UniversalClient, prefix, deviceID string, ttl time.Duration) (*RedisRepository, error) {
	if client == nil {
		return nil, errors.New("cart repository requires a redis client")
	}
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New("cart repository requires a device id")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "r2p:cart"
	}
	return &RedisRepository{client: client, key: prefix + ":" + deviceID, ttl: ttl}, nil
}

func (r *RedisRepository) Load(ctx context.Context) ([]domain.CartLine, error) {
	blob, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return decodeLines(blob)
}

func (r *RedisRepository) Save(ctx context.Context, lines []domain.CartLine) error {
	if len(lines) == 0 {
		if err := r.client.Del(ctx, r.key).Err(); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	}
	blob, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key, blob, r.ttl).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// decodeLines treats an empty or corrupt blob as an empty cart.
func decodeLines(blob []byte) ([]domain.CartLine, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var lines []domain.CartLine
	if err := json.Unmarshal(blob, &lines); err != nil {
		return nil, nil
	}
	return lines, nil
}
