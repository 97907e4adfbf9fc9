package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ready2publish/internal/metrics"
	"ready2publish/internal/ratelimit"
	"ready2publish/internal/util"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/functions"
	"ready2publish/services/functions/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	Tokens             functions.TokenVerifier
	Metrics            *metrics.Registry
	CORSOrigins        []string
	MaxUploadBytes     int64
	RateLimitPerMinute int
}

// Server exposes the upload and payment-intent functions.
type Server struct {
	app            *app.App
	tokens         functions.TokenVerifier
	metrics        *metrics.Registry
	mux            *http.ServeMux
	corsOrigins    []string
	maxUploadBytes int64
	limiter        ratelimit.Limiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("server: token verifier is required")
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = metrics.New("functions")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 50 << 20
	}
	limit := cfg.RateLimitPerMinute
	if limit <= 0 {
		limit = 60
	}
	var limiter ratelimit.Limiter = ratelimit.NewLocal(limit, time.Minute)
	if client := cfg.App.Redis(); client != nil {
		fw, err := ratelimit.NewFixedWindow(client, "r2p:functions:ratelimit", limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init limiter: %w", err)
		}
		limiter = fw
	}
	s := &Server{
		app:            cfg.App,
		tokens:         cfg.Tokens,
		metrics:        reg,
		mux:            http.NewServeMux(),
		corsOrigins:    cfg.CORSOrigins,
		maxUploadBytes: maxUpload,
		limiter:        limiter,
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
	s.mux.Handle("POST "+functions.UploadPath, s.withUser(s.handleUpload))
	s.mux.Handle("POST "+functions.PaymentIntentPath, s.withUser(s.handlePaymentIntent))
	if files := s.app.Files(); files != nil {
		s.mux.HandleFunc("GET /files/{key...}", func(w http.ResponseWriter, r *http.Request) {
			files.ServeObject(w, r, r.PathValue("key"))
		})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

// withUser verifies the bearer token and rate limits the caller by user id.
func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "functions.auth", "missing_token")
			writeError(w, http.StatusUnauthorized, functions.ErrUnauthorized.Error())
			return
		}
		userID, err := s.tokens.VerifySubject(r.Context(), token)
		if err != nil {
			s.audit(r, "functions.auth", "invalid_token", "err", err)
			writeError(w, http.StatusUnauthorized, functions.ErrUnauthorized.Error())
			return
		}
		if !s.limiter.Allow(r.Context(), r.URL.Path+"|"+userID) {
			s.audit(r, "functions.auth", "rate_limited", "user_id", userID)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		next(w, r, userID)
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	// base64 inflates the file by a third.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes/3*4+1<<20)
	var req functions.UploadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := s.app.Service().Upload(r.Context(), userID, req)
	s.metrics.Event("upload", outcome(err))
	if err != nil {
		writeFunctionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, functions.Envelope[functions.UploadResult]{Data: &res})
}

func (s *Server) handlePaymentIntent(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	var req domain.PaymentIntentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	intent, err := s.app.Service().CreatePaymentIntent(r.Context(), userID, req)
	s.metrics.Event("payment_intent", outcome(err))
	if err != nil {
		writeFunctionError(w, r, err)
		return
	}
	s.audit(r, "functions.payment_intent", "success", "user_id", userID, "order_id", intent.OrderID)
	writeJSON(w, http.StatusOK, functions.Envelope[functions.PaymentIntentResult]{Data: &intent})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, functions.Envelope[struct{}]{Error: msg})
}

func writeFunctionError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := functions.StatusOf(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("function failed", "status", status, "err", err)
	}
	writeError(w, status, msg)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// outcome labels a domain event counter.
func outcome(err error) string {
	if err == nil {
		return "success"
	}
	status, _ := functions.StatusOf(err)
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
