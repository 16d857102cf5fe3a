package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tidechat/tide/internal/log"
)

// Pinger reports whether the database is reachable. *store.Store implements
// it; nil means the service is running without a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthHandler struct {
	db          Pinger // nil = no database configured
	sessions    sessionCounter
	environment string
	databaseURL bool // whether a database URL was configured at all
	logger      log.Logger
}

type sessionCounter interface {
	Count() int
}

// health reports service liveness plus a quick view of its dependencies.
// GET /api/health
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	dbState := "disconnected"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err == nil {
			dbState = "connected"
		} else {
			h.logger.Warn("health check database ping failed", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "OK",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"database":    dbState,
		"sessions":    h.sessions.Count(),
		"environment": h.environment,
	}, h.logger)
}

// dbStatus reports persistence configuration without exposing the URL.
// GET /api/db-status
func (h *healthHandler) dbStatus(w http.ResponseWriter, r *http.Request) {
	dbState := "disconnected"
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err == nil {
			dbState = "connected"
		}
	}

	urlState := "not set"
	if h.databaseURL {
		urlState = "set"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"database":       dbState,
		"databaseUrl":    urlState,
		"activeSessions": h.sessions.Count(),
	}, h.logger)
}
