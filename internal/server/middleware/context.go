// Package middleware holds the HTTP middleware shared by every route: request context,
// client IP, CORS and request telemetry.
package middleware

import (
	"context"
	"sync"
)

type contextKey struct{ name string }

var requestInfoKey = contextKey{"request_info"}

// requestInfo is shared by the middleware chain and handlers for one request. Handlers
// record the authenticated user so outer middleware can report it after the handler returns.
type requestInfo struct {
	mu       sync.Mutex
	clientIP string
	userID   string
}

func withRequestInfo(ctx context.Context, info *requestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey, info)
}

func infoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey).(*requestInfo)
	return info
}

// SetUserID records the authenticated user for the current request. No-op outside RequestContext.
func SetUserID(ctx context.Context, userID string) {
	info := infoFrom(ctx)
	if info == nil {
		return
	}
	info.mu.Lock()
	info.userID = userID
	info.mu.Unlock()
}

// GetUserID returns the user recorded with SetUserID and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	info := infoFrom(ctx)
	if info == nil {
		return "", false
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	return info.userID, info.userID != ""
}

// ClientIPFromContext returns the client IP captured by RequestContext, or "".
// Its signature matches audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	info := infoFrom(ctx)
	if info == nil {
		return ""
	}
	return info.clientIP
}
