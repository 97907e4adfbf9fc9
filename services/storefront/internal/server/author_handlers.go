package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"ready2publish/pkg/functions"
	"ready2publish/services/storefront/internal/app"
)

func (s *Server) handleAuthorBooks(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	items, err := s.app.AuthorBooks(r.Context(), dev)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// handleSubmitBook accepts a multipart form with the book fields, a "cover"
// image and an optional "manuscript" file.
func (s *Server) handleSubmitBook(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	limit := s.maxUploadBytes + app.MaxCoverBytes + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	sub := app.BookSubmission{
		Title:          r.FormValue("title"),
		Description:    r.FormValue("description"),
		PreviewContent: r.FormValue("previewContent"),
		LicenseTerms:   r.FormValue("licenseTerms"),
	}
	var ok bool
	if sub.CategoryID, ok = formInt(w, r, "categoryId"); !ok {
		return
	}
	pages, ok := formInt(w, r, "pageCount")
	if !ok {
		return
	}
	sub.PageCount = int(pages)
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "price must be a number")
			return
		}
		sub.Price = price
	}

	cover, err := readFormFile(r, "cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cover upload")
		return
	}
	if cover != nil {
		sub.Cover = *cover
	}
	if sub.Manuscript, err = readFormFile(r, "manuscript"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid manuscript upload")
		return
	}

	item, err := s.app.SubmitBook(r.Context(), dev, sub)
	s.metrics.Event("book_submitted", outcome(err))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteBook(r.Context(), dev, id); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// formInt reads an optional integer field; empty means zero.
func formInt(w http.ResponseWriter, r *http.Request, field string) (int64, bool) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, field+" must be an integer")
		return 0, false
	}
	return n, true
}

// readFormFile returns nil when the field carries no file.
func readFormFile(r *http.Request, field string) (*functions.File, error) {
	f, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fileFromPart(f, header)
}

func fileFromPart(f multipart.File, header *multipart.FileHeader) (*functions.File, error) {
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return &functions.File{
		Name:        filepath.Base(header.Filename),
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
