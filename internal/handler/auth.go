package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/study-hub/internal/service"
)

// tokenCookie carries the access token for browser clients. The auth
// middleware reads it when there is no Authorization header.
const tokenCookie = "token"

// AuthHandler serves signup, login, token refresh and the caller's own
// account.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup / HandleLogin / HandleRefresh / HandleLogout → sessions
//   - HandleProfile / HandleUpdateProfile                       → profile
//   - HandleChangePassword / HandleWithdraw                     → account
//   - HandleOccupations                                          → signup form data
type AuthHandler struct {
	svc          *service.AuthService
	accessTTL    time.Duration
	secureCookie bool
	logger       *slog.Logger
}

// NewAuthHandler creates an AuthHandler. accessTTL sets the token cookie's
// lifetime; secureCookie marks it HTTPS-only.
func NewAuthHandler(svc *service.AuthService, accessTTL time.Duration, secureCookie bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		accessTTL:    accessTTL,
		secureCookie: secureCookie,
		logger:       logger,
	}
}

// setTokenCookie stores the access token in an HttpOnly cookie.
// HttpOnly = JavaScript cannot read it. SameSite=Lax = not sent on
// cross-site POSTs.
func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.accessTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// HandleSignup registers a new account.
//
// HTTP: POST /signup
// REQUEST BODY: {"username","nickname","email","password","occupationId"}
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.svc.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin exchanges credentials for a token pair.
//
// HTTP: POST /login
// REQUEST BODY: {"email": "...", "password": "..."}
//
// The access token is returned in the body AND set as a cookie, so both
// API clients and browsers work without extra steps.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	pair, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, pair.AccessToken)
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh rotates the token pair.
//
// HTTP: POST /token/refresh
// REQUEST BODY: {"refreshToken": "..."}
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	pair, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, pair.AccessToken)
	writeJSON(w, http.StatusOK, pair)
}

// HandleLogout ends the refresh session and clears the cookie.
//
// HTTP: POST /logout
//
// WHY POST AND NOT GET?
// Logout changes state. A GET could be triggered by a prefetch or an
// <img> tag on another site.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Logout(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	h.clearTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleProfile returns the caller's profile.
//
// HTTP: GET /api/user/info
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.svc.Profile(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleUpdateProfile edits username, nickname and occupation.
//
// HTTP: PUT /api/user/info
// REQUEST BODY: {"username","nickname","occupationName"}
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req service.ProfileUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.svc.UpdateProfile(r.Context(), userID, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// HandleChangePassword re-checks the current password and sets a new one.
//
// HTTP: PUT /api/user/password
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type withdrawRequest struct {
	Password string `json:"password"`
}

// HandleWithdraw deletes the caller's account.
//
// HTTP: DELETE /api/user
// REQUEST BODY: {"password": "..."}
func (h *AuthHandler) HandleWithdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.svc.Withdraw(r.Context(), userID, req.Password); err != nil {
		writeError(w, err)
		return
	}

	h.clearTokenCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// HandleOccupations lists the occupations a user can pick.
//
// HTTP: GET /occupations
func (h *AuthHandler) HandleOccupations(w http.ResponseWriter, r *http.Request) {
	occupations, err := h.svc.ListOccupations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occupations)
}
