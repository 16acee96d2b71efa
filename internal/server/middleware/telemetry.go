package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"surveyapp/backend/internal/telemetry"
)

const (
	httpRequestEvent = "http_request"
	httpSource       = "http_middleware"
)

// httpRequestMetadata is the JSON shape stored in Event.Metadata for http_request events.
type httpRequestMetadata struct {
	Method     string `json:"method"`
	Route      string `json:"route"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
}

// statusRecorder captures the response status for reporting.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Telemetry emits one http_request event per request after the handler returns.
// Best-effort: emits run asynchronously and never affect the response. If emitter is nil,
// the middleware no-ops. skipPaths are request paths not reported (e.g. /health).
func Telemetry(emitter telemetry.EventEmitter, skipPaths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if emitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.status == 0 {
				rec.status = http.StatusOK
			}

			meta := httpRequestMetadata{
				Method:     r.Method,
				Route:      routeTemplate(r),
				StatusCode: rec.status,
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   ClientIPFromContext(r.Context()),
			}
			if meta.ClientIP == "" {
				meta.ClientIP = ClientIP(r)
			}
			metaJSON, _ := json.Marshal(meta)
			userID, _ := GetUserID(r.Context())
			telemetry.EmitAsync(emitter, r.Context(), &telemetry.Event{
				EventType: httpRequestEvent,
				Source:    httpSource,
				UserID:    userID,
				Metadata:  metaJSON,
				CreatedAt: time.Now().UTC(),
			})
		})
	}
}

// routeTemplate returns the matched mux route template, falling back to the raw path.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
