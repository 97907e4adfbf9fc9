package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"ready2publish/pkg/functions"
	"ready2publish/pkg/queue"
	"ready2publish/pkg/storage"
	"ready2publish/pkg/store"
)

// Config holds runtime configuration for the functions backends. Store,
// Objects and Publisher override the backends built from the settings.
type Config struct {
	Logger         *slog.Logger
	DevMode        bool
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	Minio          storage.MinioConfig
	PublicBaseURL  string
	AMQPURL        string
	OrderExchange  string
	OrderQueue     string
	MaxUploadBytes int64
	Currency       string
	CommissionRate float64

	Store     store.Store
	Objects   storage.ObjectStore
	Publisher queue.Publisher
}

// App owns the backends of the functions service.
type App struct {
	service   *functions.Service
	redis     redis.UniversalClient
	files     *storage.MemoryStore
	publisher queue.Publisher
	logger    *slog.Logger
	closers   []io.Closer
}

// New connects the record store, object storage and event publisher. Dev
// mode keeps records and uploads in memory.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	dataStore := cfg.Store
	if dataStore == nil {
		switch {
		case cfg.DatabaseURL != "":
			gs, err := store.NewGormStore(cfg.DatabaseURL, false)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			dataStore = gs
			a.closers = append(a.closers, gs)
		case cfg.DevMode:
			ms := store.NewMemoryStore()
			if _, err := store.SeedCategories(ctx, ms, store.DefaultCategories()); err != nil {
				return nil, err
			}
			dataStore = ms
		default:
			return nil, errors.New("database URL required outside dev mode")
		}
	}

	objects := cfg.Objects
	if objects == nil {
		switch {
		case cfg.Minio.Endpoint != "":
			if cfg.Minio.PublicBaseURL == "" {
				cfg.Minio.PublicBaseURL = cfg.PublicBaseURL
			}
			ms, err := storage.NewMinioStore(ctx, cfg.Minio)
			if err != nil {
				a.Close()
				return nil, fmt.Errorf("init object storage: %w", err)
			}
			objects = ms
		case cfg.DevMode:
			a.files = storage.NewMemoryStore(cfg.PublicBaseURL)
			objects = a.files
		default:
			a.Close()
			return nil, errors.New("object storage required outside dev mode")
		}
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client)
	}

	publisher, err := a.newPublisher(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher

	a.service, err = functions.NewService(functions.ServiceConfig{
		Store:          dataStore,
		Objects:        objects,
		Publisher:      publisher,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Currency:       cfg.Currency,
		CommissionRate: cfg.CommissionRate,
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) newPublisher(cfg Config) (queue.Publisher, error) {
	switch {
	case cfg.Publisher != nil:
		return cfg.Publisher, nil
	case cfg.AMQPURL != "":
		p, err := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.OrderExchange)
		if err != nil {
			return nil, fmt.Errorf("init amqp publisher: %w", err)
		}
		if cfg.OrderQueue != "" {
			if err := p.BindQueue(cfg.OrderQueue, queue.OrderCreated); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("bind order queue: %w", err)
			}
		}
		return p, nil
	case a.redis != nil:
		return queue.NewRedisStreamPublisher(a.redis, queue.DefaultStreamPrefix, 10000)
	default:
		a.logger.Warn("no event broker configured, order events stay in memory")
		return queue.NewMemoryPublisher(), nil
	}
}

func (a *App) Service() *functions.Service { return a.service }

// Redis returns the shared client, or nil when none is configured.
func (a *App) Redis() redis.UniversalClient { return a.redis }

// Files returns the in-memory upload store in dev mode, else nil.
func (a *App) Files() *storage.MemoryStore { return a.files }

// Close releases the publisher and backend connections.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher failed", "err", err)
		}
		a.publisher = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close backend failed", "err", err)
		}
	}
	a.closers = nil
}
