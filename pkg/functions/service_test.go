package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"ready2publish/pkg/domain"
	"ready2publish/pkg/queue"
	"ready2publish/pkg/storage"
	"ready2publish/pkg/store"
)

const pngHeader = "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"

type fixture struct {
	svc     *Service
	store   *store.MemoryStore
	objects *storage.MemoryStore
	events  *queue.MemoryPublisher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		store:   store.NewMemoryStore(),
		objects: storage.NewMemoryStore("http://files.local/files"),
		events:  queue.NewMemoryPublisher(),
	}
	svc, err := NewService(ServiceConfig{
		Store:          f.store,
		Objects:        f.objects,
		Publisher:      f.events,
		MaxUploadBytes: 1 << 10,
		CommissionRate: 0.1,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	f.svc = svc
	return f
}

func (f fixture) item(t *testing.T, author string, price float64, status domain.ItemStatus) domain.CatalogItem {
	t.Helper()
	item, err := f.store.CreateCatalogItem(context.Background(), domain.CatalogItem{
		AuthorID: author, Title: "Book", Description: "d", CategoryID: 1, Price: price,
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if status != item.Status {
		if err := f.store.SetCatalogItemStatus(context.Background(), item.ID, status); err != nil {
			t.Fatalf("set status: %v", err)
		}
		item.Status = status
	}
	return item
}

func TestNewServiceValidatesConfig(t *testing.T) {
	objects := storage.NewMemoryStore("")
	if _, err := NewService(ServiceConfig{Objects: objects}); err == nil {
		t.Fatalf("expected missing store to fail")
	}
	if _, err := NewService(ServiceConfig{Store: store.NewMemoryStore()}); err == nil {
		t.Fatalf("expected missing object store to fail")
	}
	if _, err := NewService(ServiceConfig{Store: store.NewMemoryStore(), Objects: objects, CommissionRate: 1.5}); err == nil {
		t.Fatalf("expected commission rate above 1 to fail")
	}
}

func TestUploadStoresCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Upload(ctx, "user-1", UploadRequest{
		FileData:   EncodeDataURL("image/png", []byte(pngHeader)),
		FileName:   "Mon Été 2.png",
		BucketName: domain.AreaBookCovers,
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(res.Path, "book-covers/") || !strings.HasSuffix(res.Path, "-Mon-Ete-2.png") {
		t.Fatalf("unexpected path %q", res.Path)
	}
	if res.PublicURL != "http://files.local/files/"+res.Path {
		t.Fatalf("unexpected url %q", res.PublicURL)
	}
	obj, err := f.objects.Get(ctx, res.Path)
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if obj.ContentType != "image/png" || string(obj.Data) != pngHeader {
		t.Fatalf("unexpected object %+v", obj)
	}
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		field string
		req   UploadRequest
	}{
		{"unknown area", "bucketName", UploadRequest{FileData: EncodeDataURL("", []byte("x")), FileName: "a.pdf", BucketName: "avatars"}},
		{"not a data url", "fileData", UploadRequest{FileData: "data:text/plain,hello", FileName: "a.pdf", BucketName: domain.AreaBookFiles}},
		{"cover not an image", "fileType", UploadRequest{FileData: EncodeDataURL("image/png", []byte("plain text")), FileName: "a.png", BucketName: domain.AreaBookCovers}},
		{"manuscript extension", "fileName", UploadRequest{FileData: EncodeDataURL("", []byte("x")), FileName: "a.exe", BucketName: domain.AreaBookFiles}},
		{"manuscript too large", "fileData", UploadRequest{FileData: EncodeDataURL("", make([]byte, 2<<10)), FileName: "a.pdf", BucketName: domain.AreaBookFiles}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Upload(context.Background(), "user-1", tc.req)
			var valErr *domain.ValidationError
			if !errors.As(err, &valErr) || valErr.Field != tc.field {
				t.Fatalf("err = %v, want validation error on %s", err, tc.field)
			}
		})
	}
	if _, err := f.svc.Upload(context.Background(), "", tests[0].req); !domain.IsNotAuthenticated(err) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
}

func TestUploadManuscriptUsesExtensionType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.Upload(ctx, "user-1", UploadRequest{
		FileData:   EncodeDataURL("application/octet-stream", []byte("PK\x03\x04 docx body")),
		FileName:   `C:\drafts\novel.DOCX`,
		BucketName: domain.AreaBookFiles,
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasSuffix(res.Path, "-novel.DOCX") || res.PageCount != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	obj, err := f.objects.Get(ctx, res.Path)
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if obj.ContentType != fileTypes[".docx"] {
		t.Fatalf("content type = %q", obj.ContentType)
	}
}

func TestCreatePaymentIntentOpensPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.item(t, "author-1", 19.9, domain.ItemActive)

	intent, err := f.svc.CreatePaymentIntent(ctx, "buyer-1", domain.PaymentIntentRequest{ItemID: item.ID, Amount: 19.9, Currency: "EUR"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if intent.OrderID == "" || !strings.HasPrefix(intent.PaymentIntentID, "pi_") || !strings.HasPrefix(intent.ClientSecret, intent.PaymentIntentID+"_secret_") {
		t.Fatalf("unexpected intent %+v", intent)
	}

	orders, err := f.store.ListOrders(ctx, "buyer-1")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	o := orders[0]
	if o.ID != intent.OrderID || o.Status != domain.OrderPending || o.Currency != "eur" || o.TotalAmount != 19.9 || o.PlatformCommission != 1.99 {
		t.Fatalf("unexpected order %+v", o)
	}
	if len(o.Items) != 1 || o.Items[0].ItemID != item.ID || o.Items[0].PriceAtTime != 19.9 {
		t.Fatalf("unexpected order items %+v", o.Items)
	}

	events := f.events.Events()
	if len(events) != 1 || events[0].Type != queue.OrderCreated {
		t.Fatalf("unexpected events %+v", events)
	}
	var payload domain.Order
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ID != intent.OrderID {
		t.Fatalf("event order id = %q, want %q", payload.ID, intent.OrderID)
	}
}

func TestCreatePaymentIntentRejections(t *testing.T) {
	f := newFixture(t)
	active := f.item(t, "author-1", 10, domain.ItemActive)
	pending := f.item(t, "author-1", 10, domain.ItemPending)

	tests := []struct {
		name   string
		buyer  string
		req    domain.PaymentIntentRequest
		status int
	}{
		{"no buyer", "", domain.PaymentIntentRequest{ItemID: active.ID, Amount: 10}, http.StatusUnauthorized},
		{"no item", "buyer", domain.PaymentIntentRequest{Amount: 10}, http.StatusBadRequest},
		{"zero amount", "buyer", domain.PaymentIntentRequest{ItemID: active.ID}, http.StatusBadRequest},
		{"unknown item", "buyer", domain.PaymentIntentRequest{ItemID: 999, Amount: 10}, http.StatusNotFound},
		{"pending item", "buyer", domain.PaymentIntentRequest{ItemID: pending.ID, Amount: 10}, http.StatusConflict},
		{"own book", "author-1", domain.PaymentIntentRequest{ItemID: active.ID, Amount: 10}, http.StatusBadRequest},
		{"wrong amount", "buyer", domain.PaymentIntentRequest{ItemID: active.ID, Amount: 9.99}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreatePaymentIntent(context.Background(), tc.buyer, tc.req)
			if err == nil {
				t.Fatalf("expected error")
			}
			if status, _ := StatusOf(err); status != tc.status {
				t.Fatalf("status = %d, want %d (err %v)", status, tc.status, err)
			}
		})
	}
	if n := len(f.events.Events()); n != 0 {
		t.Fatalf("events = %d, want none", n)
	}
}

func TestCreatePaymentIntentSurvivesPublishFailure(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "author-1", 5, domain.ItemActive)
	f.events.FailWith(errors.New("broker down"))
	if _, err := f.svc.CreatePaymentIntent(context.Background(), "buyer", domain.PaymentIntentRequest{ItemID: item.ID, Amount: 5}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
}

type staticTokens map[string]string

func (s staticTokens) VerifySubject(_ context.Context, token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("unknown token")
}

func TestLocalVerifiesTokens(t *testing.T) {
	f := newFixture(t)
	item := f.item(t, "author-1", 12, domain.ItemActive)
	local := NewLocal(f.svc, staticTokens{"good": "buyer-1"})
	ctx := context.Background()

	if _, err := local.CreatePaymentIntent(ctx, "", domain.PaymentIntentRequest{ItemID: item.ID, Amount: 12}); !domain.IsNotAuthenticated(err) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	_, err := local.CreatePaymentIntent(ctx, "bad", domain.PaymentIntentRequest{ItemID: item.ID, Amount: 12})
	var remote *domain.RemoteOperationError
	if !errors.As(err, &remote) || remote.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 remote error, got %v", err)
	}
	_, err = local.CreatePaymentIntent(ctx, "good", domain.PaymentIntentRequest{ItemID: item.ID, Amount: 3})
	if !errors.As(err, &remote) || remote.Status != http.StatusBadRequest || remote.Message != "amount does not match the book price" {
		t.Fatalf("expected verbatim validation message, got %v", err)
	}
	if _, err := local.CreatePaymentIntent(ctx, "good", domain.PaymentIntentRequest{ItemID: item.ID, Amount: 12}); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	url, err := local.UploadFile(ctx, "good", File{Name: "c.png", ContentType: "image/png", Data: []byte(pngHeader)}, domain.AreaBookCovers)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(url, "http://files.local/files/book-covers/") {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"Crème brûlée.pdf":   "Creme-brulee.pdf",
		"../../etc/passwd":   "passwd",
		`dir\sub\draft.docx`: "draft.docx",
		"  ":                 "file",
		"日本語":                "file",
		".hidden":            "hidden",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
