package functions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"ready2publish/internal/ids"
	"ready2publish/pkg/domain"
	"ready2publish/pkg/manuscript"
	"ready2publish/pkg/queue"
	"ready2publish/pkg/storage"
	"ready2publish/pkg/store"
)

const (
	// MaxCoverBytes caps cover images regardless of the configured upload limit.
	MaxCoverBytes = 5 << 20
	// DefaultCommissionRate is the platform's share of each sale.
	DefaultCommissionRate = 0.10
)

var (
	// ErrUnauthorized is returned when the caller's access token is rejected.
	ErrUnauthorized = errors.New("invalid access token")
	// ErrItemUnavailable is returned when a payment targets an item that is
	// not listed for sale.
	ErrItemUnavailable = errors.New("book is not available for purchase")
)

var (
	coverTypes = map[string]bool{"image/jpeg": true, "image/png": true, "image/webp": true}
	fileTypes  = map[string]string{
		".pdf":  "application/pdf",
		".doc":  "application/msword",
		".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	}
)

// ServiceConfig wires the functions to their backends.
type ServiceConfig struct {
	Store          store.Store
	Objects        storage.ObjectStore
	Publisher      queue.Publisher
	MaxUploadBytes int64
	Currency       string
	CommissionRate float64
	Logger         *slog.Logger
}

// Service implements the upload and payment-intent functions. It is served
// over HTTP by the functions service and called in-process by the storefront
// in development mode.
type Service struct {
	store          store.Store
	objects        storage.ObjectStore
	publisher      queue.Publisher
	maxUploadBytes int64
	currency       string
	commissionRate float64
	logger         *slog.Logger
	now            func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("functions: store is required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("functions: object store is required")
	}
	if cfg.CommissionRate < 0 || cfg.CommissionRate > 1 {
		return nil, fmt.Errorf("functions: commission rate %v out of range", cfg.CommissionRate)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = queue.NewMemoryPublisher()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 50 << 20
	}
	if cfg.Currency == "" {
		cfg.Currency = "eur"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		store:          cfg.Store,
		objects:        cfg.Objects,
		publisher:      cfg.Publisher,
		maxUploadBytes: cfg.MaxUploadBytes,
		currency:       strings.ToLower(cfg.Currency),
		commissionRate: cfg.CommissionRate,
		logger:         cfg.Logger,
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upload stores one file for userID under "<area>/<ulid>-<name>".
func (s *Service) Upload(ctx context.Context, userID string, req UploadRequest) (UploadResult, error) {
	if strings.TrimSpace(userID) == "" {
		return UploadResult{}, &domain.NotAuthenticatedError{Op: "upload file"}
	}
	area := strings.TrimSpace(req.BucketName)
	if area != domain.AreaBookCovers && area != domain.AreaBookFiles {
		return UploadResult{}, domain.Invalid("bucketName", "unknown upload area")
	}
	urlType, data, err := DecodeDataURL(req.FileData)
	if err != nil {
		return UploadResult{}, domain.Invalid("fileData", err.Error())
	}
	if len(data) == 0 {
		return UploadResult{}, domain.Invalid("fileData", "file is empty")
	}

	name := SanitizeFileName(req.FileName)
	var contentType string
	switch area {
	case domain.AreaBookCovers:
		if len(data) > MaxCoverBytes {
			return UploadResult{}, domain.Invalid("fileData", "cover image must be at most 5 MB")
		}
		var ok bool
		if contentType, ok = CoverType(data); !ok {
			return UploadResult{}, domain.Invalid("fileType", "cover must be a JPEG, PNG or WebP image")
		}
	default:
		if int64(len(data)) > s.maxUploadBytes {
			return UploadResult{}, domain.Invalid("fileData", fmt.Sprintf("file must be at most %d MB", s.maxUploadBytes>>20))
		}
		var ok bool
		if contentType, ok = ManuscriptType(name); !ok {
			return UploadResult{}, domain.Invalid("fileName", "manuscript must be a PDF, DOC or DOCX file")
		}
	}
	if declared := firstNonEmpty(req.FileType, urlType); declared != "" && declared != contentType {
		s.logger.DebugContext(ctx, "upload content type overridden", "declared", declared, "stored", contentType)
	}

	key := area + "/" + ids.New() + "-" + name
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return UploadResult{}, domain.Remote("store upload", err)
	}
	result := UploadResult{PublicURL: s.objects.PublicURL(key), Path: key}
	if contentType == "application/pdf" {
		pages, err := manuscript.PageCount(data)
		if err != nil {
			s.logger.WarnContext(ctx, "pdf page count failed", "path", key, "err", err)
		} else {
			result.PageCount = pages
		}
	}
	s.logger.InfoContext(ctx, "file uploaded", "user_id", userID, "path", key, "bytes", len(data))
	return result, nil
}

// CreatePaymentIntent opens a pending order for one active item bought by
// buyerID and announces it with an order.created event.
func (s *Service) CreatePaymentIntent(ctx context.Context, buyerID string, req domain.PaymentIntentRequest) (domain.PaymentIntent, error) {
	if strings.TrimSpace(buyerID) == "" {
		return domain.PaymentIntent{}, &domain.NotAuthenticatedError{Op: "create payment intent"}
	}
	if req.ItemID <= 0 {
		return domain.PaymentIntent{}, domain.Invalid("bookProjectId", "bookProjectId is required")
	}
	if req.Amount <= 0 || math.IsNaN(req.Amount) || math.IsInf(req.Amount, 0) {
		return domain.PaymentIntent{}, domain.Invalid("amount", "amount must be positive")
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	item, ok, err := s.store.GetCatalogItem(ctx, req.ItemID)
	if err != nil {
		return domain.PaymentIntent{}, domain.Remote("load book", err)
	}
	if !ok {
		return domain.PaymentIntent{}, domain.ErrNotFound
	}
	if item.Status != domain.ItemActive {
		return domain.PaymentIntent{}, ErrItemUnavailable
	}
	if item.AuthorID == buyerID {
		return domain.PaymentIntent{}, domain.Invalid("bookProjectId", "authors cannot buy their own books")
	}
	if roundCents(req.Amount) != roundCents(item.Price) {
		return domain.PaymentIntent{}, domain.Invalid("amount", "amount does not match the book price")
	}

	now := s.now()
	amount := roundCents(item.Price)
	order := domain.Order{
		ID:                 ids.NewAt(now),
		BuyerID:            buyerID,
		PaymentIntentID:    "pi_" + ids.NewAt(now),
		Status:             domain.OrderPending,
		TotalAmount:        amount,
		PlatformCommission: roundCents(amount * s.commissionRate),
		Currency:           currency,
		Items:              []domain.OrderItem{{ItemID: item.ID, PriceAtTime: amount, CreatedAt: now}},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return domain.PaymentIntent{}, domain.Remote("create order", err)
	}
	if _, err := queue.Emit(ctx, s.publisher, queue.OrderCreated, order); err != nil {
		s.logger.WarnContext(ctx, "order event not published", "order_id", order.ID, "err", err)
	}
	s.logger.InfoContext(ctx, "payment intent created", "order_id", order.ID, "book_id", item.ID, "amount", amount, "currency", currency)
	return domain.PaymentIntent{
		OrderID:         order.ID,
		PaymentIntentID: order.PaymentIntentID,
		ClientSecret:    order.PaymentIntentID + "_secret_" + ids.New(),
	}, nil
}

// CoverType sniffs data and reports whether it is an accepted cover image.
func CoverType(data []byte) (string, bool) {
	ct := http.DetectContentType(data)
	return ct, coverTypes[ct]
}

// ManuscriptType returns the content type stored for a manuscript file name.
func ManuscriptType(name string) (string, bool) {
	ct, ok := fileTypes[strings.ToLower(path.Ext(name))]
	return ct, ok
}

// StatusOf maps a function error to its HTTP status and client message.
func StatusOf(err error) (int, string) {
	var (
		valErr *domain.ValidationError
		noAuth *domain.NotAuthenticatedError
		remote *domain.RemoteOperationError
	)
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &valErr):
		return http.StatusBadRequest, valErr.Message
	case errors.Is(err, ErrUnauthorized), errors.As(err, &noAuth):
		return http.StatusUnauthorized, ErrUnauthorized.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "book not found"
	case errors.Is(err, ErrItemUnavailable):
		return http.StatusConflict, ErrItemUnavailable.Error()
	case errors.As(err, &remote) && remote.Status >= 400:
		return remote.Status, remote.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// SanitizeFileName keeps a safe ASCII rendition of the base name of name.
func SanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, name); err == nil {
		name = folded
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), ".-")
	if out == "" {
		return "file"
	}
	if len(out) > 120 {
		ext := path.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = out[:120-len(ext)] + ext
	}
	return out
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
