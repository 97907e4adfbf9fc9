package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ready2publish/internal/metrics"
	"ready2publish/internal/ratelimit"
	"ready2publish/internal/util"
	"ready2publish/pkg/domain"
	"ready2publish/services/storefront/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                       *app.App
	Metrics                   *metrics.Registry
	DeviceCookieName          string
	DeviceCookieSecure        bool
	DeviceCookieTTL           time.Duration
	CORSOrigins               []string
	TrustedProxyCIDRs         []string
	SigninRateLimitPerMinute  int
	SignupRateLimitPerMinute  int
	ContactRateLimitPerMinute int
	MaxUploadBytes            int64
}

// Server exposes the storefront JSON API.
type Server struct {
	app            *app.App
	metrics        *metrics.Registry
	mux            *http.ServeMux
	corsOrigins    []string
	trusted        *util.TrustedProxies
	cookieName     string
	cookieSecure   bool
	cookieTTL      time.Duration
	maxUploadBytes int64
	signinLimiter  ratelimit.Limiter
	signupLimiter  ratelimit.Limiter
	contactLimiter ratelimit.Limiter
}

// New constructs the server with routes configured. Rate limits are shared
// through Redis when the app has a client and kept in process otherwise.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, err
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = metrics.New("storefront")
	}
	newLimiter := func(name string, limit, fallback int) (ratelimit.Limiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		client := cfg.App.Redis()
		if client == nil {
			return ratelimit.NewLocal(limit, time.Minute), nil
		}
		limiter, err := ratelimit.NewFixedWindow(client, "r2p:storefront:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	signinLimiter, err := newLimiter("signin", cfg.SigninRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	signupLimiter, err := newLimiter("signup", cfg.SignupRateLimitPerMinute, 5)
	if err != nil {
		return nil, err
	}
	contactLimiter, err := newLimiter("contact", cfg.ContactRateLimitPerMinute, 5)
	if err != nil {
		return nil, err
	}
	cookieName := strings.TrimSpace(cfg.DeviceCookieName)
	if cookieName == "" {
		cookieName = "r2p_device"
	}
	cookieTTL := cfg.DeviceCookieTTL
	if cookieTTL <= 0 {
		cookieTTL = 30 * 24 * time.Hour
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	s := &Server{
		app:            cfg.App,
		metrics:        reg,
		mux:            http.NewServeMux(),
		corsOrigins:    cfg.CORSOrigins,
		trusted:        trusted,
		cookieName:     cookieName,
		cookieSecure:   cfg.DeviceCookieSecure,
		cookieTTL:      cookieTTL,
		maxUploadBytes: maxUpload,
		signinLimiter:  signinLimiter,
		signupLimiter:  signupLimiter,
		contactLimiter: contactLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.Chain(s.mux,
		util.WithSecurityHeaders,
		util.WithCORS(s.corsOrigins),
		util.WithRequestID,
		util.WithRequestLog,
		s.metrics.Instrument(s.mux),
	)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// session & profile
	s.mux.Handle("POST /api/auth/signin", s.withDevice(s.handleSignIn))
	s.mux.Handle("POST /api/auth/signup", s.withDevice(s.handleSignUp))
	s.mux.Handle("POST /api/auth/signout", s.withDevice(s.handleSignOut))
	s.mux.Handle("POST /api/auth/verify", s.withDevice(s.handleVerify))
	s.mux.Handle("GET /api/session", s.withDevice(s.handleSession))
	s.mux.Handle("GET /api/profile", s.withDevice(s.handleProfile))
	s.mux.Handle("PATCH /api/profile", s.withDevice(s.handleUpdateProfile))
	s.mux.Handle("POST /api/profile/refresh", s.withDevice(s.handleRefreshProfile))

	// shop
	s.mux.HandleFunc("GET /api/catalog", s.handleCatalog)
	s.mux.HandleFunc("GET /api/catalog/{id}", s.handleCatalogItem)
	s.mux.Handle("POST /api/catalog/{id}/buy", s.withDevice(s.handleBuyNow))
	s.mux.Handle("POST /api/catalog/{id}/reviews", s.withDevice(s.handleReview))
	s.mux.HandleFunc("GET /api/categories", s.handleCategories)
	s.mux.HandleFunc("GET /api/faqs", s.handleFAQs)
	s.mux.HandleFunc("POST /api/contact", s.handleContact)

	// cart
	s.mux.Handle("GET /api/cart", s.withDevice(s.handleCart))
	s.mux.Handle("POST /api/cart", s.withDevice(s.handleAddToCart))
	s.mux.Handle("DELETE /api/cart", s.withDevice(s.handleClearCart))
	s.mux.Handle("DELETE /api/cart/{id}", s.withDevice(s.handleRemoveFromCart))
	s.mux.Handle("POST /api/cart/checkout", s.withDevice(s.handleCheckout))

	// author dashboard
	s.mux.Handle("GET /api/author/books", s.withDevice(s.handleAuthorBooks))
	s.mux.Handle("POST /api/author/books", s.withDevice(s.handleSubmitBook))
	s.mux.Handle("DELETE /api/author/books/{id}", s.withDevice(s.handleDeleteBook))

	if s.app.Files() != nil {
		s.mux.HandleFunc("GET /files/{key...}", s.handleFile)
	}
}

// handleFile serves uploads kept by in-process functions.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	s.app.Files().ServeObject(w, r, r.PathValue("key"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deviceHandler func(http.ResponseWriter, *http.Request, *app.Device)

// withDevice resolves the caller's device from its cookie. Reads without a
// device cookie get the shared guest view; a device id is issued only when a
// request may change state.
func (s *Server) withDevice(next deviceHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := ""
		if c, err := r.Cookie(s.cookieName); err == nil {
			if id, err := uuid.Parse(c.Value); err == nil {
				deviceID = id.String()
			}
		}
		if deviceID == "" {
			if isSafeMethod(r.Method) {
				next(w, r, s.app.Guest())
				return
			}
			deviceID = uuid.NewString()
		}
		// Refresh on every request so the cookie outlives idle carts.
		http.SetCookie(w, &http.Cookie{
			Name:     s.cookieName,
			Value:    deviceID,
			Path:     "/",
			MaxAge:   int(s.cookieTTL / time.Second),
			HttpOnly: true,
			Secure:   s.cookieSecure || util.IsHTTPS(r),
			SameSite: http.SameSiteLaxMode,
		})
		dev, err := s.app.Device(r.Context(), deviceID)
		if err != nil {
			if errors.Is(err, app.ErrSessionsClosed) {
				writeError(w, http.StatusServiceUnavailable, "shutting down")
				return
			}
			util.LoggerFromContext(r.Context()).Error("device init failed", "err", err)
			writeError(w, http.StatusInternalServerError, "device init failed")
			return
		}
		next(w, r, dev)
	})
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorStatus maps application errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	var (
		valErr *domain.ValidationError
		remote *domain.RemoteOperationError
	)
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, valErr.Error()
	case domain.IsNotAuthenticated(err):
		return http.StatusUnauthorized, "not authenticated"
	case domain.IsAuth(err):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrAlreadyInCart):
		return http.StatusConflict, domain.ErrAlreadyInCart.Error()
	case errors.Is(err, domain.ErrAlreadyReviewed):
		return http.StatusConflict, domain.ErrAlreadyReviewed.Error()
	case errors.As(err, &remote):
		return http.StatusBadGateway, remote.Error()
	case errors.Is(err, app.ErrSessionsClosed):
		return http.StatusServiceUnavailable, "shutting down"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("request failed", "status", status, "err", err)
	}
	writeError(w, status, msg)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + s.clientIP(r)
	if limiter.Allow(r.Context(), key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trusted)
}

// outcome labels a domain event counter.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	status, _ := errorStatus(err)
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
