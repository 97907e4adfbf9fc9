package app

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"ready2publish/pkg/cart"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/session"
)

// ErrSessionsClosed is returned by Sessions.Get after Close.
var ErrSessionsClosed = errors.New("session registry closed")

// taskWorkers is the number of queues shared by all devices for deferred
// profile fetches. A device always lands on the same queue.
const taskWorkers = 8

// DeviceFactory builds the auth provider and cart storage of one device.
type DeviceFactory func(ctx context.Context, deviceID string) (session.Provider, cart.Repository, error)

// Device is the per-browser state: its session synchronizer and its cart.
type Device struct {
	ID      string
	Session *session.Synchronizer
	Cart    *cart.Cart
}

type deviceEntry struct {
	device   *Device
	lastSeen time.Time
}

// Sessions creates devices on first use and closes them after idleTTL
// without requests, or earlier when more than maxDevices are live. Provider
// sessions and carts outlive eviction in their own storage.
type Sessions struct {
	newDevice    DeviceFactory
	profiles     session.ProfileStore
	idleTTL      time.Duration
	startTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	group        singleflight.Group
	tasks        []*session.TaskQueue
	guest        *Device

	mu         sync.Mutex
	devices    map[string]*deviceEntry
	maxDevices int
	closed     bool
}

func NewSessions(factory DeviceFactory, profiles session.ProfileStore, idleTTL time.Duration, logger *slog.Logger) *Sessions {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sessions{
		newDevice:    factory,
		profiles:     profiles,
		idleTTL:      idleTTL,
		startTimeout: 10 * time.Second,
		logger:       logger,
		now:          time.Now,
		devices:      make(map[string]*deviceEntry),
	}
	for range taskWorkers {
		s.tasks = append(s.tasks, session.NewTaskQueue(logger))
	}
	guest := session.NewSynchronizer(guestProvider{}, profiles, session.Options{Logger: logger, Tasks: s.tasks[0]})
	_ = guest.Start(context.Background())
	s.guest = &Device{Session: guest, Cart: cart.New(cart.NewMemoryRepository())}
	return s
}

// SetMaxDevices bounds the number of live devices. Zero means unbounded.
func (s *Sessions) SetMaxDevices(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxDevices = max(n, 0)
}

// Guest is the signed-out, empty-cart view served to callers without a
// device. It is shared and must only be read.
func (s *Sessions) Guest() *Device { return s.guest }

func (s *Sessions) queueFor(deviceID string) *session.TaskQueue {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return s.tasks[h.Sum32()%uint32(len(s.tasks))]
}

// Get returns the device for deviceID, creating and starting it when needed.
// Concurrent first requests of one device share a single start.
func (s *Sessions) Get(ctx context.Context, deviceID string) (*Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New("device id required")
	}
	if dev, err := s.lookup(deviceID); dev != nil || err != nil {
		return dev, err
	}
	v, err, _ := s.group.Do(deviceID, func() (any, error) {
		if dev, err := s.lookup(deviceID); dev != nil || err != nil {
			return dev, err
		}
		return s.create(ctx, deviceID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Device), nil
}

func (s *Sessions) lookup(deviceID string) (*Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionsClosed
	}
	entry, ok := s.devices[deviceID]
	if !ok {
		return nil, nil
	}
	entry.lastSeen = s.now()
	return entry.device, nil
}

func (s *Sessions) create(ctx context.Context, deviceID string) (*Device, error) {
	provider, repo, err := s.newDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("device_id", deviceID)
	syncer := session.NewSynchronizer(provider, s.profiles, session.Options{Logger: logger, Tasks: s.queueFor(deviceID)})

	startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.startTimeout)
	defer cancel()
	if err := syncer.Start(startCtx); err != nil {
		logger.Warn("restore session failed", "err", err)
	}

	dev := &Device{ID: deviceID, Session: syncer, Cart: cart.New(repo)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		syncer.Close()
		return nil, ErrSessionsClosed
	}
	var evicted *Device
	if s.maxDevices > 0 && len(s.devices) >= s.maxDevices {
		evicted = s.evictOldestLocked()
	}
	s.devices[deviceID] = &deviceEntry{device: dev, lastSeen: s.now()}
	s.mu.Unlock()
	if evicted != nil {
		evicted.Session.Close()
		logger.Debug("evicted least recently seen device", "evicted_device_id", evicted.ID)
	}
	return dev, nil
}

func (s *Sessions) evictOldestLocked() *Device {
	var (
		oldestID string
		oldest   *deviceEntry
	)
	for id, entry := range s.devices {
		if oldest == nil || entry.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, entry
		}
	}
	if oldest == nil {
		return nil
	}
	delete(s.devices, oldestID)
	return oldest.device
}

// Sweep closes devices idle for longer than the TTL and returns how many.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.idleTTL)
	var idle []*Device
	s.mu.Lock()
	for id, entry := range s.devices {
		if entry.lastSeen.Before(cutoff) {
			idle = append(idle, entry.device)
			delete(s.devices, id)
		}
	}
	s.mu.Unlock()
	for _, dev := range idle {
		dev.Session.Close()
	}
	if len(idle) > 0 {
		s.logger.Debug("evicted idle devices", "count", len(idle))
	}
	return len(idle)
}

// Run sweeps every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

// Close closes every device. Later Get calls fail with ErrSessionsClosed.
func (s *Sessions) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	devices := s.devices
	s.devices = make(map[string]*deviceEntry)
	s.mu.Unlock()
	for _, entry := range devices {
		entry.device.Session.Close()
	}
	s.guest.Session.Close()
	for _, q := range s.tasks {
		q.Close()
	}
}

// guestProvider has no session and refuses every change.
type guestProvider struct{}

func (guestProvider) CurrentIdentity(context.Context) (*domain.Identity, error) { return nil, nil }

func (guestProvider) SignIn(context.Context, string, string) (*domain.Identity, error) {
	return nil, &domain.NotAuthenticatedError{Op: "sign in"}
}

func (guestProvider) SignUp(context.Context, string, string, session.SignUpMetadata) (*domain.Identity, error) {
	return nil, &domain.NotAuthenticatedError{Op: "sign up"}
}

func (guestProvider) SignOut(context.Context) error { return nil }

func (guestProvider) VerifyEmailToken(context.Context, string, string) (*domain.Identity, error) {
	return nil, &domain.NotAuthenticatedError{Op: "verify email"}
}

func (guestProvider) Subscribe(func(session.Event)) func() { return func() {} }
