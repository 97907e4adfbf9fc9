package server

import (
	"net/http"
	"strings"

	"ready2publish/pkg/domain"
	"ready2publish/pkg/session"
	"ready2publish/services/storefront/internal/app"
)

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Role     string `json:"role"`
}

type verifyRequest struct {
	TokenHash string `json:"tokenHash"`
	Type      string `json:"type"`
}

type signUpResponse struct {
	Identity             *domain.Identity `json:"identity"`
	ConfirmationRequired bool             `json:"confirmationRequired"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	if !s.allowRate(w, r, s.signinLimiter, "too many sign-in attempts") {
		s.audit(r, "storefront.signin", "rate_limited")
		return
	}
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "storefront.signin", "fail", "reason", "invalid_json")
		return
	}
	ident, err := dev.Session.SignIn(r.Context(), req.Email, req.Password)
	s.metrics.Event("signin", outcome(err))
	if err != nil {
		s.audit(r, "storefront.signin", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "storefront.signin", "success", "user_id", ident.ID)
	writeJSON(w, http.StatusOK, dev.Session.Snapshot())
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	if !s.allowRate(w, r, s.signupLimiter, "too many sign-up attempts") {
		s.audit(r, "storefront.signup", "rate_limited")
		return
	}
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		s.audit(r, "storefront.signup", "fail", "reason", "invalid_json")
		return
	}
	meta := session.SignUpMetadata{
		DisplayName: req.FullName,
		Role:        domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role))),
	}
	ident, err := dev.Session.SignUp(r.Context(), req.Email, req.Password, meta)
	s.metrics.Event("signup", outcome(err))
	if err != nil {
		s.audit(r, "storefront.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	resp := signUpResponse{Identity: ident}
	if ident != nil {
		resp.ConfirmationRequired = !ident.EmailConfirmed
		s.audit(r, "storefront.signup", "success", "user_id", ident.ID, "confirmation_required", resp.ConfirmationRequired)
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	userID := ""
	if ident := dev.Session.Identity(); ident != nil {
		userID = ident.ID
	}
	if err := dev.Session.SignOut(r.Context()); err != nil {
		// local state is already cleared
		s.audit(r, "storefront.signout", "fail", "user_id", userID, "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "storefront.signout", "success", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	if !s.allowRate(w, r, s.signinLimiter, "too many verification attempts") {
		s.audit(r, "storefront.verify", "rate_limited")
		return
	}
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := req.Type
	if kind == "" {
		kind = "email"
	}
	ident, err := dev.Session.VerifyEmail(r.Context(), req.TokenHash, kind)
	if err != nil {
		s.audit(r, "storefront.verify", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "storefront.verify", "success", "user_id", ident.ID)
	writeJSON(w, http.StatusOK, dev.Session.Snapshot())
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request, dev *app.Device) {
	writeJSON(w, http.StatusOK, dev.Session.Snapshot())
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	snap := dev.Session.Snapshot()
	if snap.Identity == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	profile := snap.Profile
	if profile == nil {
		p, err := dev.Session.RefreshProfile(r.Context())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		profile = p
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	var upd domain.ProfileUpdate
	if !decodeJSON(w, r, &upd) {
		return
	}
	if upd.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no profile fields to update")
		return
	}
	profile, err := dev.Session.UpdateProfile(r.Context(), upd)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleRefreshProfile(w http.ResponseWriter, r *http.Request, dev *app.Device) {
	profile, err := dev.Session.RefreshProfile(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
