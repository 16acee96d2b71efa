// Package handler serves GET /dev/otp. Only registered when dev OTP mode is enabled outside production.
package handler

import (
	"net/http"

	"surveyapp/backend/internal/devotp"
	"surveyapp/backend/internal/identity/service"
	apperrors "surveyapp/backend/internal/platform/errors"
	"surveyapp/backend/internal/platform/respond"
)

const devOTPNote = "DEV MODE ONLY"

// Handler reads codes from a dev OTP store.
type Handler struct {
	store devotp.Store
}

// NewHandler returns a handler that reads OTP from the given store.
func NewHandler(store devotp.Store) *Handler {
	return &Handler{store: store}
}

type getOTPResponse struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
	Note        string `json:"note"`
}

// GetOTP returns the last code issued to ?phoneNumber=. NotFound if missing or expired.
func (h *Handler) GetOTP(w http.ResponseWriter, r *http.Request) {
	phone, err := service.NormalizePhone(r.URL.Query().Get("phoneNumber"))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	otp, ok, err := h.store.Get(r.Context(), phone.E164())
	if err != nil {
		respond.Error(w, r, apperrors.Internal(err))
		return
	}
	if !ok {
		respond.Error(w, r, apperrors.New(apperrors.CodeNotFound, "OTP not found or expired"))
		return
	}
	respond.JSON(w, http.StatusOK, getOTPResponse{PhoneNumber: phone.E164(), OTP: otp, Note: devOTPNote})
}
