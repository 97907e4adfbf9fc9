package functions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ready2publish/pkg/domain"
)

func TestUploadFileSendsDataURL(t *testing.T) {
	var got UploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != UploadPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Fatalf("missing bearer token")
		}
		if r.Header.Get("apikey") != "anon" {
			t.Fatalf("missing apikey")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"publicUrl": "https://cdn/book-covers/x.png"}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "anon")
	url, err := c.UploadFile(context.Background(), "tok", File{Name: "x.png", ContentType: "image/png", Data: []byte{1, 2, 3}}, domain.AreaBookCovers)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://cdn/book-covers/x.png" {
		t.Fatalf("unexpected url %q", url)
	}
	if got.FileData != "data:image/png;base64,AQID" || got.FileName != "x.png" || got.FileType != "image/png" || got.BucketName != domain.AreaBookCovers {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestUploadFileRejectsBadInputLocally(t *testing.T) {
	c := NewClient("http://unused", "")
	if _, err := c.UploadFile(context.Background(), "tok", File{Data: []byte("x")}, "avatars"); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for area, got %v", err)
	}
	if _, err := c.UploadFile(context.Background(), "tok", File{}, domain.AreaBookFiles); !domain.IsValidation(err) {
		t.Fatalf("expected validation error for empty file, got %v", err)
	}
	if _, err := c.UploadFile(context.Background(), "", File{Data: []byte("x")}, domain.AreaBookFiles); !domain.IsNotAuthenticated(err) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
}

func TestCreatePaymentIntentPassesMessageThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req domain.PaymentIntentRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ItemID == 7 {
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Amount does not match book price"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
			"orderId":         "01HX",
			"paymentIntentId": "pi_1",
			"clientSecret":    "secret",
		}})
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "")

	intent, err := c.CreatePaymentIntent(context.Background(), "tok", domain.PaymentIntentRequest{ItemID: 1, Amount: 10, Currency: "usd"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if intent.OrderID != "01HX" || intent.PaymentIntentID != "pi_1" || intent.ClientSecret != "secret" {
		t.Fatalf("unexpected intent %+v", intent)
	}

	_, err = c.CreatePaymentIntent(context.Background(), "tok", domain.PaymentIntentRequest{ItemID: 7, Amount: 10, Currency: "usd"})
	remote, ok := err.(*domain.RemoteOperationError)
	if !ok {
		t.Fatalf("expected remote error, got %T %v", err, err)
	}
	if remote.Status != http.StatusConflict || remote.Message != "Amount does not match book price" {
		t.Fatalf("unexpected remote error %+v", remote)
	}
}

func TestCreatePaymentIntentWithoutOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "").CreatePaymentIntent(context.Background(), "tok", domain.PaymentIntentRequest{ItemID: 1})
	if !domain.IsRemote(err) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestDecodeDataURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantType string
		wantData string
		wantErr  bool
	}{
		{raw: "data:application/pdf;base64,JVBERg==", wantType: "application/pdf", wantData: "%PDF"},
		{raw: "JVBERg==", wantData: "%PDF"},
		{raw: "data:text/plain,hello", wantErr: true},
		{raw: "data:text/plain;base64,@@@", wantErr: true},
		{raw: "  ", wantErr: true},
	}
	for _, tc := range tests {
		ct, data, err := DecodeDataURL(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if ct != tc.wantType || string(data) != tc.wantData {
			t.Fatalf("%q: got (%q, %q)", tc.raw, ct, data)
		}
	}
	if EncodeDataURL("", []byte("x")) != "data:application/octet-stream;base64,eA==" {
		t.Fatalf("default content type not applied")
	}
}
