package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/session"
	"github.com/tidechat/tide/internal/store"
)

// Validation constraints for registration, matching the public contract.
const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20 // 1 MB

// UserStore is the account persistence the auth handlers need.
// *store.Store implements it; nil selects the memory-only fallback.
type UserStore interface {
	CreateUser(ctx context.Context, username, password string) (store.User, error)
	GetUser(ctx context.Context, username string) (store.User, error)
	EnsureDeveloper(ctx context.Context, username, password string) (store.User, error)
}

// authHandler implements the registration, login, logout and status
// endpoints.
type authHandler struct {
	sessions *session.Store
	users    UserStore // nil = memory-only fallback
	logger   log.Logger

	devUsername string
	devPassword string
	isDev       bool
}

// credentialsRequest is the body of register and login.
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// authResponse is the success body of register and login.
type authResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	SessionID   string `json:"sessionId"`
	Username    string `json:"username"`
	IsDeveloper bool   `json:"isDeveloper"`
}

// statusResponse reports whether the presented token is valid.
type statusResponse struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Username        string `json:"username,omitempty"`
	IsDeveloper     bool   `json:"isDeveloper,omitempty"`
}

// decodeCredentials parses and validates a register/login body.
// Returns false after writing the error response when validation fails.
func (h *authHandler) decodeCredentials(w http.ResponseWriter, r *http.Request, requireLengths bool) (credentialsRequest, bool) {
	var req credentialsRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", h.logger)
		return req, false
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required", h.logger)
		return req, false
	}
	if requireLengths {
		if len(req.Username) < MinUsernameLength {
			writeError(w, http.StatusBadRequest, "username must be at least 3 characters", h.logger)
			return req, false
		}
		if len(req.Password) < MinPasswordLength {
			writeError(w, http.StatusBadRequest, "password must be at least 6 characters", h.logger)
			return req, false
		}
	}
	return req, true
}

// register creates a new account and an initial session.
// POST /api/auth/register
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r, true)
	if !ok {
		return
	}

	// Memory-only fallback: no account rows exist, so "taken" means a live
	// session already carries the username.
	if h.users == nil {
		if _, exists := h.sessions.FindByUsername(req.Username); exists {
			writeError(w, http.StatusBadRequest, "username already taken", h.logger)
			return
		}
		h.logger.Warn("registering session-only account, no database configured", "username", req.Username)
		h.establishSession(w, session.Identity{
			UserID:   uuid.New().String(),
			Username: req.Username,
		}, "registration successful (session-based)")
		return
	}

	u, err := h.users.CreateUser(r.Context(), req.Username, req.Password)
	if errors.Is(err, store.ErrUsernameTaken) {
		writeError(w, http.StatusBadRequest, "username already taken", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("creating user", "error", err, "username", req.Username)
		writeError(w, http.StatusInternalServerError, "server error", h.logger)
		return
	}

	h.establishSession(w, session.Identity{
		UserID:   u.ID,
		Username: u.Username,
	}, "registration successful")
}

// login validates credentials and creates a session.
// POST /api/auth/login
func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r, false)
	if !ok {
		return
	}

	// Privileged-account shortcut, matched against configured credentials.
	if h.devUsername != "" && req.Username == h.devUsername && req.Password == h.devPassword {
		h.loginDeveloper(w, r)
		return
	}

	// Memory-only fallback: a username carried by any live session logs in
	// with any password, since no credentials are stored anywhere. Every
	// such login is flagged loudly.
	if h.users == nil {
		rec, found := h.sessions.FindByUsername(req.Username)
		if !found {
			writeError(w, http.StatusBadRequest, "username not found", h.logger)
			return
		}
		h.logger.Warn("memory-fallback login accepted without password verification", "username", req.Username)
		h.establishSession(w, rec.Identity, "login successful (session-based)")
		return
	}

	u, err := h.users.GetUser(r.Context(), req.Username)
	if errors.Is(err, store.ErrUserNotFound) {
		writeError(w, http.StatusBadRequest, "username not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("fetching user", "error", err, "username", req.Username)
		writeError(w, http.StatusInternalServerError, "server error", h.logger)
		return
	}

	if !u.CheckPassword(req.Password) {
		writeError(w, http.StatusBadRequest, "incorrect password", h.logger)
		return
	}

	h.establishSession(w, session.Identity{
		UserID:    u.ID,
		Username:  u.Username,
		Developer: u.Developer,
	}, "login successful")
}

// loginDeveloper handles the configured privileged account. The account row
// is created on demand when a database is available so chat history has a
// stable owner ID.
func (h *authHandler) loginDeveloper(w http.ResponseWriter, r *http.Request) {
	id := session.Identity{
		UserID:    uuid.New().String(),
		Username:  h.devUsername,
		Developer: true,
	}

	if h.users != nil {
		u, err := h.users.EnsureDeveloper(r.Context(), h.devUsername, h.devPassword)
		if err != nil {
			h.logger.Error("ensuring developer account", "error", err)
		} else {
			id.UserID = u.ID
		}
	}

	h.logger.Info("developer login", "username", h.devUsername)
	h.establishSession(w, id, "developer login successful")
}

// logout invalidates the presented session, tolerating absent tokens.
// POST /api/auth/logout
func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		h.sessions.Invalidate(token)
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "logout successful",
	}, h.logger)
}

// status reports whether the presented token resolves to a live session.
// GET /api/auth/status
func (h *authHandler) status(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)
	if token == "" {
		writeJSON(w, http.StatusOK, statusResponse{IsAuthenticated: false}, h.logger)
		return
	}

	rec, ok := h.sessions.Lookup(token)
	if !ok {
		writeJSON(w, http.StatusOK, statusResponse{IsAuthenticated: false}, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		IsAuthenticated: true,
		Username:        rec.Username,
		IsDeveloper:     rec.Developer,
	}, h.logger)
}

// establishSession creates the session, sets the browser cookie and writes
// the success response.
func (h *authHandler) establishSession(w http.ResponseWriter, id session.Identity, message string) {
	token := h.sessions.Create(id)

	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(session.TTL.Seconds()),
		HttpOnly: false, // the chat page reads it for bearer requests
		Secure:   !h.isDev,
		SameSite: http.SameSiteLaxMode,
	})

	writeJSON(w, http.StatusOK, authResponse{
		Success:     true,
		Message:     message,
		SessionID:   token,
		Username:    id.Username,
		IsDeveloper: id.Developer,
	}, h.logger)
}

func (h *authHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   TokenCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
