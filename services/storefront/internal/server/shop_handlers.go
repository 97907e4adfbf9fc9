package server

import (
	"net/http"

	"ready2publish/pkg/catalog"
	"ready2publish/services/storefront/internal/app"
)

type addToCartRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	page, err := s.app.Catalog(r.Context(), catalog.CriteriaFromQuery(r.URL.Query()))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleCatalogItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := s.app.CatalogItem(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.app.Categories(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) handleFAQs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{"faqs": s.app.FAQs()})
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.contactLimiter, "too many messages, please try again later") {
		s.audit(r, "storefront.contact", "rate_limited")
		return
	}
	var form app.ContactForm
	if !decodeJSON(w, r, &form) {
		return
	}
	msg, err := s.app.SubmitContact(r.Context(), form)
	s.metrics.Event("contact", outcome(err))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": msg.ID, "status": msg.Status})
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	view, err := s.app.Cart(r.Context(), dev)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	var req addToCartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ID <= 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	view, err := s.app.AddToCart(r.Context(), dev, req.ID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := s.app.RemoveFromCart(r.Context(), dev, id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	if err := s.app.ClearCart(r.Context(), dev); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	receipt, err := s.app.Checkout(r.Context(), dev)
	s.metrics.Event("checkout", outcome(err))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleBuyNow(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	intent, err := s.app.BuyNow(r.Context(), dev, id)
	s.metrics.Event("buy_now", outcome(err))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	review, err := s.app.ReviewItem(r.Context(), dev, id, req.Rating, req.Comment)
	s.metrics.Event("review", outcome(err))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}
