// Package respond writes JSON bodies and the uniform error shape used by every HTTP route.
package respond

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	apperrors "surveyapp/backend/internal/platform/errors"
)

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Now is the clock used for error timestamps.
var Now = time.Now

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("respond: encode body: %v", err)
	}
}

// Error maps err to its status and error kind. Internal and foreign errors are logged with
// their cause and rendered with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeInternal {
		log.Printf("respond: %s %s: %v", r.Method, r.URL.Path, err)
	}
	JSON(w, code.HTTPStatus(), ErrorBody{
		Error:     string(code),
		Message:   apperrors.MessageOf(err),
		Timestamp: Now().UTC().Format(time.RFC3339),
	})
}

// DecodeJSON reads a JSON object body into dst. Malformed or empty bodies become a
// validation error.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperrors.New(apperrors.CodeValidation, "request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "request body must be a JSON object", err)
	}
	return nil
}
