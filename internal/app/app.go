// Package app provides the HTTP surface shared by every deployment:
// router, health and metrics endpoints, and request-scoped middleware.
package app

import (
	"encoding/json"
	"net/http"

	"stream-relay/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// App holds the router and the process logger. Feature packages mount
// their handlers on Router; Handler() is what the server actually serves.
type App struct {
	Router *http.ServeMux
	Logger *zap.Logger
}

// NewApp creates the application with its base routes registered.
func NewApp(logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Router: http.NewServeMux(),
		Logger: logger,
	}

	a.Router.HandleFunc("/healthz", a.handleHealth)
	a.Router.Handle("/metrics", metrics.Handler())
	return a
}

// Handler wraps the router with the request-id middleware.
func (a *App) Handler() http.Handler {
	return a.withRequestID(a.Router)
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// withRequestID assigns each request an id, echoes it in the response
// and logs the request. Inbound ids are kept so callers can correlate.
func (a *App) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		a.Logger.Debug("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r)
	})
}
