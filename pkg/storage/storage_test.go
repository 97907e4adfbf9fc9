package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJoinURLEscapesSegments(t *testing.T) {
	got := joinURL("https://cdn.example/r2p/", "book-covers/01HX-mein buch.jpg")
	want := "https://cdn.example/r2p/book-covers/01HX-mein%20buch.jpg"
	if got != want {
		t.Fatalf("joinURL = %q, want %q", got, want)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("http://localhost:8081/files")
	if err := s.Put(ctx, "book-files/a.pdf", strings.NewReader("%PDF-1.4"), 8, "application/pdf"); err != nil {
		t.Fatalf("put: %v", err)
	}
	obj, err := s.Get(ctx, "book-files/a.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(obj.Data) != "%PDF-1.4" || obj.ContentType != "application/pdf" {
		t.Fatalf("unexpected object %+v", obj)
	}
	if got := s.PublicURL("book-files/a.pdf"); got != "http://localhost:8081/files/book-files/a.pdf" {
		t.Fatalf("public url = %q", got)
	}
	if err := s.Delete(ctx, "book-files/a.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "book-files/a.pdf"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServeObject(t *testing.T) {
	s := NewMemoryStore("")
	if err := s.Put(context.Background(), "book-covers/c.png", strings.NewReader("png-bytes"), 9, "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}

	rec := httptest.NewRecorder()
	s.ServeObject(rec, httptest.NewRequest(http.MethodGet, "/files/book-covers/c.png", nil), "book-covers/c.png")
	if rec.Code != http.StatusOK || rec.Body.String() != "png-bytes" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type = %q", ct)
	}

	rec = httptest.NewRecorder()
	s.ServeObject(rec, httptest.NewRequest(http.MethodGet, "/files/missing", nil), "missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
