// Package handler binds the auth service to the JSON REST routes under /auth.
package handler

import (
	"context"
	"net/http"
	"time"

	"surveyapp/backend/internal/identity/service"
	"surveyapp/backend/internal/platform/respond"
	"surveyapp/backend/internal/server/middleware"
	userdomain "surveyapp/backend/internal/user/domain"
)

// AuthService is the auth flow used by the handlers; *service.AuthService implements it.
type AuthService interface {
	SendCode(ctx context.Context, rawPhone string) (*service.SendCodeResult, error)
	VerifyCode(ctx context.Context, rawPhone, code string) (*service.AuthResult, error)
	Refresh(ctx context.Context, token string) (*service.AuthResult, error)
	Logout(ctx context.Context, token string) error
	Profile(ctx context.Context, token string) (*userdomain.User, error)
}

// Handler serves the /auth routes.
type Handler struct {
	auth AuthService
}

// NewHandler returns a Handler over auth.
func NewHandler(auth AuthService) *Handler {
	return &Handler{auth: auth}
}

type sendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type sendOTPResponse struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	PhoneNumber       string `json:"phoneNumber"`
	ExpiresAt         string `json:"expiresAt"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}

type verifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

type userBody struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phoneNumber"`
}

type authResponse struct {
	Success   bool     `json:"success"`
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expiresAt"`
	User      userBody `json:"user"`
	Message   string   `json:"message,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type profileResponse struct {
	Success bool     `json:"success"`
	User    userBody `json:"user"`
}

// SendOTP handles POST /auth/send-otp.
func (h *Handler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	res, err := h.auth.SendCode(r.Context(), req.PhoneNumber)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, sendOTPResponse{
		Success:           true,
		Message:           "OTP sent successfully",
		PhoneNumber:       res.Phone,
		ExpiresAt:         formatTime(res.ExpiresAt),
		RetryAfterSeconds: res.RetryAfterSeconds,
	})
}

// VerifyOTP handles POST /auth/verify-otp.
func (h *Handler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := respond.DecodeJSON(r, &req); err != nil {
		respond.Error(w, r, err)
		return
	}
	res, err := h.auth.VerifyCode(r.Context(), req.PhoneNumber, req.OTP)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	middleware.SetUserID(r.Context(), res.User.ID)
	respond.JSON(w, http.StatusOK, toAuthResponse(res, "Authentication successful"))
}

// Refresh handles POST /auth/refresh with the current bearer token.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.Refresh(r.Context(), middleware.BearerToken(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	middleware.SetUserID(r.Context(), res.User.ID)
	respond.JSON(w, http.StatusOK, toAuthResponse(res, "Token refreshed"))
}

// Logout handles POST /auth/logout. The bearer token is optional and the call always succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out successfully"})
}

// Me handles GET /auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.auth.Profile(r.Context(), middleware.BearerToken(r))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	middleware.SetUserID(r.Context(), u.ID)
	respond.JSON(w, http.StatusOK, profileResponse{Success: true, User: toUserBody(u)})
}

func toAuthResponse(res *service.AuthResult, message string) authResponse {
	return authResponse{
		Success:   true,
		Token:     res.Token,
		ExpiresAt: formatTime(res.ExpiresAt),
		User:      toUserBody(res.User),
		Message:   message,
	}
}

func toUserBody(u *userdomain.User) userBody {
	return userBody{ID: u.ID, PhoneNumber: u.Phone}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
