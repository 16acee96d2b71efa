// Package server assembles the HTTP router and the gRPC server.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	devotphandler "surveyapp/backend/internal/devotp/handler"
	healthhandler "surveyapp/backend/internal/health/handler"
	identityhandler "surveyapp/backend/internal/identity/handler"
	apperrors "surveyapp/backend/internal/platform/errors"
	"surveyapp/backend/internal/platform/respond"
	"surveyapp/backend/internal/server/middleware"
	"surveyapp/backend/internal/telemetry"
)

// Deps holds the handlers and middleware dependencies for the HTTP router.
type Deps struct {
	// Auth serves /auth/*. Required.
	Auth *identityhandler.Handler
	// Health serves GET /health. If nil, /health is not registered.
	Health *healthhandler.Handler
	// DevOTP serves GET /dev/otp. Set only when dev OTP mode is enabled outside production.
	DevOTP *devotphandler.Handler
	// Events receives one http_request event per request. May be nil.
	Events telemetry.EventEmitter
	// CORSAllowedOrigin is the Access-Control-Allow-Origin value; empty means "*".
	CORSAllowedOrigin string
}

// NewRouter returns the HTTP handler for every route.
//
// Routes:
//   - POST /auth/send-otp, /auth/verify-otp, /auth/refresh, /auth/logout
//   - GET  /auth/me
//   - GET  /health
//   - GET  /dev/otp (dev only)
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	r.Use(middleware.Telemetry(deps.Events, "/health"))

	auth := r.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/send-otp", deps.Auth.SendOTP).Methods(http.MethodPost)
	auth.HandleFunc("/verify-otp", deps.Auth.VerifyOTP).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", deps.Auth.Refresh).Methods(http.MethodPost)
	auth.HandleFunc("/logout", deps.Auth.Logout).Methods(http.MethodPost)
	auth.HandleFunc("/me", deps.Auth.Me).Methods(http.MethodGet)

	if deps.Health != nil {
		r.HandleFunc("/health", deps.Health.Health).Methods(http.MethodGet)
	}
	if deps.DevOTP != nil {
		r.HandleFunc("/dev/otp", deps.DevOTP.GetOTP).Methods(http.MethodGet)
	}

	// CORS wraps the router so preflight requests for any path are answered before routing.
	return middleware.RequestContext(middleware.CORS(deps.CORSAllowedOrigin)(r))
}

func notFound(w http.ResponseWriter, r *http.Request) {
	respond.Error(w, r, apperrors.New(apperrors.CodeNotFound, "endpoint not found"))
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusMethodNotAllowed, respond.ErrorBody{
		Error:     "METHOD_NOT_ALLOWED",
		Message:   "method not allowed",
		Timestamp: respond.Now().UTC().Format(time.RFC3339),
	})
}
