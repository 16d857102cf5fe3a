package api

import (
	"errors"
	"net/http"

	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/session"
)

// ServerConfig contains everything needed to assemble the HTTP surface.
type ServerConfig struct {
	Logger   log.Logger
	Sessions *session.Store // Required
	Replier  Replier        // Required
	Users    UserStore      // Optional: nil selects memory-only accounts
	Chats    ChatStore      // Optional: nil disables chat history
	DB       Pinger         // Optional: nil reports "disconnected" in health

	DeveloperUsername string
	DeveloperPassword string
	Environment       string
	DatabaseURLSet    bool

	CORSOrigins []string
	IsDev       bool // relaxes the Secure cookie flag
	TrustProxy  bool // trust X-Real-IP/X-Forwarded-For headers
	RateBurst   int  // per-IP burst size (0 = default 60)
}

// Server is the JSON API and static-page HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer wires handlers, middleware and routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Replier == nil {
		return nil, errors.New("replier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	ah := &authHandler{
		sessions:    cfg.Sessions,
		users:       cfg.Users,
		logger:      logger,
		devUsername: cfg.DeveloperUsername,
		devPassword: cfg.DeveloperPassword,
		isDev:       cfg.IsDev,
	}

	ch := &chatHandler{
		replier: cfg.Replier,
		chats:   cfg.Chats,
		logger:  logger,
	}

	hh := &healthHandler{
		db:          cfg.DB,
		sessions:    cfg.Sessions,
		environment: cfg.Environment,
		databaseURL: cfg.DatabaseURLSet,
		logger:      logger,
	}

	requireAuth := authMiddleware(cfg.Sessions, logger)

	mux := http.NewServeMux()

	// Static pages. The chat page demands a live session.
	mux.HandleFunc("GET /{$}", staticPage("index.html"))
	mux.Handle("GET /chat.html", requireAuth(staticPage("chat.html")))

	// Accounts and sessions
	mux.HandleFunc("POST /api/auth/register", ah.register)
	mux.HandleFunc("POST /api/auth/login", ah.login)
	mux.HandleFunc("POST /api/auth/logout", ah.logout)
	mux.HandleFunc("GET /api/auth/status", ah.status)

	// Chat
	mux.Handle("POST /api/chat", requireAuth(http.HandlerFunc(ch.send)))
	mux.Handle("GET /api/chat/history", requireAuth(http.HandlerFunc(ch.history)))
	mux.Handle("DELETE /api/chat/history", requireAuth(http.HandlerFunc(ch.clearHistory)))

	// Diagnostics
	mux.HandleFunc("GET /api/health", hh.health)
	mux.HandleFunc("GET /api/db-status", hh.dbStatus)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so preflight OPTIONS gets
	// proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	topMux := http.NewServeMux()
	topMux.Handle("/", handler)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
