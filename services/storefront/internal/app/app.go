package app

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ready2publish/internal/usertoken"
	"ready2publish/pkg/authprovider"
	"ready2publish/pkg/cart"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/functions"
	"ready2publish/pkg/queue"
	"ready2publish/pkg/session"
	"ready2publish/pkg/storage"
	"ready2publish/pkg/store"
)

//go:embed faqs.json
var defaultFAQs []byte

// Functions is the subset of the backend functions the storefront calls.
type Functions interface {
	UploadFile(ctx context.Context, token string, file functions.File, area string) (string, error)
	CreatePaymentIntent(ctx context.Context, token string, req domain.PaymentIntentRequest) (domain.PaymentIntent, error)
}

// Config holds runtime configuration for the core application. Store,
// Redis, Publisher, Functions and Devices override the backends built from
// the connection settings.
type Config struct {
	Logger           *slog.Logger
	DevMode          bool
	AuthURL          string
	AuthAnonKey      string
	EmailRedirectURL string
	DevJWTSecret     string
	FunctionsURL     string
	PublicBaseURL    string
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	CartTTL          time.Duration
	SessionIdleTTL   time.Duration
	MaxDevices       int
	Currency         string
	FAQPath          string
	MaxUploadBytes   int64
	AMQPURL          string
	EventExchange    string
	ContactQueue     string

	Store     store.Store
	Redis     redis.UniversalClient
	Publisher queue.Publisher
	Functions Functions
	Devices   DeviceFactory
}

// App is the storefront core: one session and cart per device over the
// shared record store and backend functions.
type App struct {
	store          store.Store
	redis          redis.UniversalClient
	publisher      queue.Publisher
	functions      Functions
	files          *storage.MemoryStore
	sessions       *Sessions
	directory      *authprovider.Directory
	faqs           []domain.FAQ
	currency       string
	maxUploadBytes int64
	logger         *slog.Logger
	closers        []io.Closer
}

// New wires the application. Outside dev mode a database, Redis and the auth
// API are required; dev mode falls back to in-process implementations.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CartTTL <= 0 {
		cfg.CartTTL = 30 * 24 * time.Hour
	}
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	a := &App{
		currency:       strings.ToLower(cfg.Currency),
		maxUploadBytes: cfg.MaxUploadBytes,
		logger:         logger,
	}

	a.store = cfg.Store
	if a.store == nil {
		switch {
		case cfg.DatabaseURL != "":
			gs, err := store.NewGormStore(cfg.DatabaseURL, false)
			if err != nil {
				return nil, fmt.Errorf("init postgres store: %w", err)
			}
			a.store = gs
			a.closers = append(a.closers, gs)
		case cfg.DevMode:
			ms := store.NewMemoryStore()
			if _, err := store.SeedCategories(context.Background(), ms, store.DefaultCategories()); err != nil {
				return nil, err
			}
			a.store = ms
		default:
			return nil, errors.New("database URL required outside dev mode")
		}
	}

	a.redis = cfg.Redis
	if a.redis == nil && cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, client)
	}
	if a.redis == nil && !cfg.DevMode {
		a.Close()
		return nil, errors.New("redis required outside dev mode")
	}

	publisher, err := a.newPublisher(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.publisher = publisher

	devices := cfg.Devices
	if devices == nil {
		if cfg.DevMode {
			a.directory = authprovider.NewDirectory(authprovider.DirectoryOptions{
				Secret:   cfg.DevJWTSecret,
				OnSignUp: a.createProfile,
				Logger:   logger,
			})
			devices = a.devDevices(cfg.CartTTL)
		} else {
			devices = a.clientDevices(cfg)
		}
	}

	a.functions = cfg.Functions
	if a.functions == nil {
		switch {
		case cfg.FunctionsURL != "":
			a.functions = functions.NewClient(cfg.FunctionsURL, cfg.AuthAnonKey)
		case cfg.DevMode:
			local, err := a.localFunctions(cfg)
			if err != nil {
				a.Close()
				return nil, err
			}
			a.functions = local
		default:
			a.functions = unavailableFunctions{}
		}
	}

	a.faqs, err = LoadFAQs(cfg.FAQPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sessions = NewSessions(devices, a.store, cfg.SessionIdleTTL, logger)
	a.sessions.SetMaxDevices(cfg.MaxDevices)
	return a, nil
}

func (a *App) newPublisher(cfg Config) (queue.Publisher, error) {
	switch {
	case cfg.Publisher != nil:
		return cfg.Publisher, nil
	case cfg.AMQPURL != "":
		p, err := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.EventExchange)
		if err != nil {
			return nil, fmt.Errorf("init amqp publisher: %w", err)
		}
		if cfg.ContactQueue != "" {
			if err := p.BindQueue(cfg.ContactQueue, queue.ContactReceived); err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("bind contact queue: %w", err)
			}
		}
		return p, nil
	case a.redis != nil:
		return queue.NewRedisStreamPublisher(a.redis, queue.DefaultStreamPrefix, 10000)
	default:
		return queue.NewMemoryPublisher(), nil
	}
}

// localFunctions runs the backend functions in-process over the app's store,
// keeping uploads in memory for the /files/ route.
func (a *App) localFunctions(cfg Config) (Functions, error) {
	secret := cfg.DevJWTSecret
	if a.directory != nil {
		secret = a.directory.SigningSecret()
	}
	if secret == "" {
		return unavailableFunctions{}, nil
	}
	verifier, err := usertoken.NewVerifier(context.Background(), usertoken.Config{Secret: secret})
	if err != nil {
		return nil, fmt.Errorf("init token verifier: %w", err)
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/") + "/files"
	a.files = storage.NewMemoryStore(base)
	svc, err := functions.NewService(functions.ServiceConfig{
		Store:          a.store,
		Objects:        a.files,
		Publisher:      a.publisher,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Currency:       cfg.Currency,
		CommissionRate: functions.DefaultCommissionRate,
		Logger:         a.logger.With("component", "functions"),
	})
	if err != nil {
		return nil, err
	}
	return functions.NewLocal(svc, verifier), nil
}

// clientDevices gives each device an auth API client whose session is kept
// in Redis next to the cart.
func (a *App) clientDevices(cfg Config) DeviceFactory {
	return func(_ context.Context, deviceID string) (session.Provider, cart.Repository, error) {
		persister, err := authprovider.NewRedisPersister(a.redis, "r2p:auth", deviceID, cfg.CartTTL)
		if err != nil {
			return nil, nil, err
		}
		client, err := authprovider.NewClient(authprovider.Config{
			BaseURL:          cfg.AuthURL,
			AnonKey:          cfg.AuthAnonKey,
			EmailRedirectURL: cfg.EmailRedirectURL,
			Persister:        persister,
			Logger:           a.logger.With("device_id", deviceID),
		})
		if err != nil {
			return nil, nil, err
		}
		repo, err := cart.NewRedisRepository(a.redis, "r2p:cart", deviceID, cfg.CartTTL)
		if err != nil {
			return nil, nil, err
		}
		return client, repo, nil
	}
}

// devDevices keeps providers and in-memory carts per device so they survive
// eviction of the synchronizer.
func (a *App) devDevices(cartTTL time.Duration) DeviceFactory {
	var mu sync.Mutex
	providers := make(map[string]*authprovider.MemoryProvider)
	carts := make(map[string]cart.Repository)
	return func(_ context.Context, deviceID string) (session.Provider, cart.Repository, error) {
		mu.Lock()
		defer mu.Unlock()
		p, ok := providers[deviceID]
		if !ok {
			p = a.directory.NewProvider()
			providers[deviceID] = p
		}
		repo, ok := carts[deviceID]
		if !ok {
			if a.redis != nil {
				rr, err := cart.NewRedisRepository(a.redis, "r2p:cart", deviceID, cartTTL)
				if err != nil {
					return nil, nil, err
				}
				repo = rr
			} else {
				repo = cart.NewMemoryRepository()
			}
			carts[deviceID] = repo
		}
		return p, repo, nil
	}
}

// createProfile plays the backend's sign-up trigger in dev mode.
func (a *App) createProfile(ctx context.Context, ident domain.Identity, meta session.SignUpMetadata) error {
	now := time.Now().UTC()
	return a.store.UpsertProfile(ctx, domain.Profile{
		ID:        ident.ID,
		Email:     ident.Email,
		FullName:  meta.DisplayName,
		Role:      meta.Role,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Device returns the state of one browser device.
func (a *App) Device(ctx context.Context, deviceID string) (*Device, error) {
	return a.sessions.Get(ctx, deviceID)
}

func (a *App) Sessions() *Sessions { return a.sessions }

// Guest returns the read-only view for callers that have no device yet.
func (a *App) Guest() *Device { return a.sessions.Guest() }

// Redis returns the shared client, or nil in dev mode without Redis.
func (a *App) Redis() redis.UniversalClient { return a.redis }

// Directory returns the in-process identity store in dev mode, else nil.
func (a *App) Directory() *authprovider.Directory { return a.directory }

// Files returns the in-memory upload store of in-process functions, else nil.
func (a *App) Files() *storage.MemoryStore { return a.files }

func (a *App) Currency() string { return a.currency }

func (a *App) FAQs() []domain.FAQ { return a.faqs }

func (a *App) Categories(ctx context.Context) ([]domain.Category, error) {
	cats, err := a.store.ListCategories(ctx)
	if err != nil {
		return nil, domain.Remote("list categories", err)
	}
	return cats, nil
}

// Close releases sessions, the publisher and backend connections.
func (a *App) Close() {
	if a.sessions != nil {
		a.sessions.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close publisher failed", "err", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close backend failed", "err", err)
		}
	}
	a.closers = nil
}

// LoadFAQs reads FAQs from path, or the built-in list when path is empty.
func LoadFAQs(path string) ([]domain.FAQ, error) {
	data := defaultFAQs
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read faqs: %w", err)
		}
		data = raw
	}
	var faqs []domain.FAQ
	if err := json.Unmarshal(data, &faqs); err != nil {
		return nil, fmt.Errorf("parse faqs: %w", err)
	}
	return faqs, nil
}

// unavailableFunctions answers every call when no functions URL is set.
type unavailableFunctions struct{}

func (unavailableFunctions) UploadFile(context.Context, string, functions.File, string) (string, error) {
	return "", &domain.RemoteOperationError{Op: "upload file", Message: "functions service not configured"}
}

func (unavailableFunctions) CreatePaymentIntent(context.Context, string, domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	return domain.PaymentIntent{}, &domain.RemoteOperationError{Op: "create payment intent", Message: "functions service not configured"}
}
