package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/relay"
	"github.com/tidechat/tide/internal/session"
)

// stubReplier answers every message and records who asked.
type stubReplier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubReplier) Reply(ctx context.Context, id session.Identity, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if message == "" || len(bytes.TrimSpace([]byte(message))) == 0 {
		return "", relay.ErrEmptyMessage
	}
	return fmt.Sprintf("echo %s for %s", message, id.Username), nil
}

func (s *stubReplier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestServer(t *testing.T, replier Replier) (*Server, *session.Store) {
	t.Helper()
	sessions := session.New(log.NewNop())
	if replier == nil {
		replier = &stubReplier{}
	}
	srv, err := NewServer(ServerConfig{
		Logger:      log.NewNop(),
		Sessions:    sessions,
		Replier:     replier,
		Environment: "test",
		IsDev:       true,
		RateBurst:   1000,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, sessions
}

func doJSON(t *testing.T, h http.Handler, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestNewServer_MissingSessions(t *testing.T) {
	_, err := NewServer(ServerConfig{Replier: &stubReplier{}})
	if err == nil {
		t.Fatal("NewServer(nil sessions) expected error, got nil")
	}
}

func TestNewServer_MissingReplier(t *testing.T) {
	_, err := NewServer(ServerConfig{Sessions: session.New(log.NewNop())})
	if err == nil {
		t.Fatal("NewServer(nil replier) expected error, got nil")
	}
}

func TestRegisterStatusLogoutFlow(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/auth/register", "",
		map[string]string{"username": "alice", "password": "secret1"})
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	token, _ := body["sessionId"].(string)
	if token == "" {
		t.Fatal("register returned no sessionId")
	}
	if body["username"] != "alice" {
		t.Errorf("register username = %v, want alice", body["username"])
	}

	w = doJSON(t, h, http.MethodGet, "/api/auth/status", token, nil)
	status := decodeBody(t, w)
	if status["isAuthenticated"] != true {
		t.Fatalf("status after register = %v, want authenticated", status)
	}
	if status["username"] != "alice" {
		t.Errorf("status username = %v, want alice", status["username"])
	}

	w = doJSON(t, h, http.MethodPost, "/api/auth/logout", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d", w.Code)
	}

	w = doJSON(t, h, http.MethodGet, "/api/auth/status", token, nil)
	status = decodeBody(t, w)
	if status["isAuthenticated"] != false {
		t.Fatalf("status after logout = %v, want unauthenticated", status)
	}
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "ab", "secret1"},
		{"short password", "alice", "12345"},
		{"empty body", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/api/auth/register", "",
				map[string]string{"username": tt.username, "password": tt.password})
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestLoginUnknownUser(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": "nobody", "password": "whatever"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("login status = %d, want 400", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "username not found" {
		t.Errorf("error = %v, want username not found", body["error"])
	}
}

func TestDeveloperLoginShortcut(t *testing.T) {
	sessions := session.New(log.NewNop())
	srv, err := NewServer(ServerConfig{
		Logger:            log.NewNop(),
		Sessions:          sessions,
		Replier:           &stubReplier{},
		DeveloperUsername: "root",
		DeveloperPassword: "toor-secret",
		IsDev:             true,
		RateBurst:         1000,
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	// Wrong password first: with no live session for the username the
	// attempt must fail rather than fall through to the memory fallback.
	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": "root", "password": "wrong"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("developer login with wrong password = %d, want 400", w.Code)
	}

	w = doJSON(t, srv.Handler(), http.MethodPost, "/api/auth/login", "",
		map[string]string{"username": "root", "password": "toor-secret"})
	if w.Code != http.StatusOK {
		t.Fatalf("developer login status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["isDeveloper"] != true {
		t.Errorf("isDeveloper = %v, want true", body["isDeveloper"])
	}
}

func TestProtectedEndpointsRejectUnknownToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	targets := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/chat"},
		{http.MethodGet, "/api/chat/history"},
		{http.MethodDelete, "/api/chat/history"},
		{http.MethodGet, "/chat.html"},
	}
	for _, tgt := range targets {
		t.Run(tgt.method+" "+tgt.path, func(t *testing.T) {
			w := doJSON(t, h, tgt.method, tgt.path, "no-such-token", nil)
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestChatEmptyMessageRejected(t *testing.T) {
	replier := &stubReplier{}
	srv, sessions := newTestServer(t, replier)
	token := sessions.Create(session.Identity{UserID: "u1", Username: "alice"})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", token,
		map[string]string{"message": "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChatSuccess(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	token := sessions.Create(session.Identity{UserID: "u1", Username: "alice"})

	w := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", token,
		map[string]string{"message": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["reply"] != "echo hello for alice" {
		t.Errorf("reply = %v", body["reply"])
	}
}

func TestChatErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"no credentials", relay.ErrNoCredentials, http.StatusInternalServerError, "all API keys are blocked"},
		{"upstream failure", fmt.Errorf("%w: boom", relay.ErrUpstream), http.StatusInternalServerError, "failed to reach the AI service"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, sessions := newTestServer(t, &stubReplier{err: tt.err})
			token := sessions.Create(session.Identity{UserID: "u1", Username: "alice"})

			w := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", token,
				map[string]string{"message": "hello"})
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeBody(t, w); body["error"] != tt.wantError {
				t.Errorf("error = %v, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestConcurrentChatsAreIndependent(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	h := srv.Handler()

	aliceToken := sessions.Create(session.Identity{UserID: "u1", Username: "alice"})
	bobToken := sessions.Create(session.Identity{UserID: "u2", Username: "bob"})

	type result struct {
		reply string
		code  int
	}
	run := func(token, message string, out chan<- result) {
		w := doJSON(t, h, http.MethodPost, "/api/chat", token,
			map[string]string{"message": message})
		var body map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &body)
		reply, _ := body["reply"].(string)
		out <- result{reply: reply, code: w.Code}
	}

	aliceCh := make(chan result, 1)
	bobCh := make(chan result, 1)
	go run(aliceToken, "hi", aliceCh)
	go run(bobToken, "yo", bobCh)

	alice := <-aliceCh
	bob := <-bobCh
	if alice.code != http.StatusOK || bob.code != http.StatusOK {
		t.Fatalf("codes = %d, %d, want 200", alice.code, bob.code)
	}
	if alice.reply != "echo hi for alice" {
		t.Errorf("alice reply = %q", alice.reply)
	}
	if bob.reply != "echo yo for bob" {
		t.Errorf("bob reply = %q", bob.reply)
	}

	if _, ok := sessions.Lookup(aliceToken); !ok {
		t.Error("alice session lost")
	}
	if _, ok := sessions.Lookup(bobToken); !ok {
		t.Error("bob session lost")
	}
}

func TestHistoryWithoutDatabase(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	token := sessions.Create(session.Identity{UserID: "u1", Username: "alice"})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/chat/history", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	messages, ok := body["messages"].([]any)
	if !ok || len(messages) != 0 {
		t.Errorf("messages = %v, want empty list", body["messages"])
	}

	w = doJSON(t, srv.Handler(), http.MethodDelete, "/api/chat/history", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, sessions := newTestServer(t, nil)
	sessions.Create(session.Identity{UserID: "u1", Username: "alice"})

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "OK" {
		t.Errorf("status field = %v, want OK", body["status"])
	}
	if body["database"] != "disconnected" {
		t.Errorf("database = %v, want disconnected", body["database"])
	}
	if body["sessions"] != float64(1) {
		t.Errorf("sessions = %v, want 1", body["sessions"])
	}
}

func TestDBStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/api/db-status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["databaseUrl"] != "not set" {
		t.Errorf("databaseUrl = %v, want not set", body["databaseUrl"])
	}
}

func TestLandingPageServed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("<html")) {
		t.Error("landing page body does not look like HTML")
	}
}
