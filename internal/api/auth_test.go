package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/session"
)

func TestTokenFromRequestPriority(t *testing.T) {
	withHeader := func(r *http.Request) { r.Header.Set("Authorization", "Bearer header-token") }
	withBody := func(r *http.Request) {
		r.Header.Set("Content-Type", "application/json")
		r.Body = io.NopCloser(strings.NewReader(`{"sessionId":"body-token"}`))
	}
	withQuery := func(r *http.Request) {
		q := r.URL.Query()
		q.Set(TokenCookie, "query-token")
		r.URL.RawQuery = q.Encode()
	}
	withCookie := func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "cookie-token"})
	}

	tests := []struct {
		name  string
		setup []func(*http.Request)
		want  string
	}{
		{"header wins over all", []func(*http.Request){withHeader, withBody, withQuery, withCookie}, "header-token"},
		{"body wins over query and cookie", []func(*http.Request){withBody, withQuery, withCookie}, "body-token"},
		{"query wins over cookie", []func(*http.Request){withQuery, withCookie}, "query-token"},
		{"cookie alone", []func(*http.Request){withCookie}, "cookie-token"},
		{"nothing", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			for _, setup := range tt.setup {
				setup(r)
			}
			if got := tokenFromRequest(r); got != tt.want {
				t.Errorf("tokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTokenFromHeaderMalformed(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"no bearer prefix", "Token abc"},
		{"lowercase bearer", "bearer abc"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.value != "" {
				r.Header.Set("Authorization", tt.value)
			}
			if got := tokenFromHeader(r); got != "" {
				t.Errorf("tokenFromHeader() = %q, want empty", got)
			}
		})
	}
}

// The body peek must leave the body readable for the handler.
func TestTokenFromBodyRestoresBody(t *testing.T) {
	payload := `{"sessionId":"tok-1","message":"hello"}`
	r := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")

	if got := tokenFromBody(r); got != "tok-1" {
		t.Fatalf("tokenFromBody() = %q, want tok-1", got)
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("re-decoding body after peek: %v", err)
	}
	if body.Message != "hello" {
		t.Errorf("message after peek = %q, want hello", body.Message)
	}
}

func TestTokenFromBodyNonJSON(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("sessionId=abc"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if got := tokenFromBody(r); got != "" {
		t.Errorf("tokenFromBody(form body) = %q, want empty", got)
	}
}

func TestAuthMiddleware(t *testing.T) {
	sessions := session.New(log.NewNop())
	token := sessions.Create(session.Identity{UserID: "u1", Username: "alice"})

	var seen session.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = identityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	protected := authMiddleware(sessions, log.NewNop())(next)

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if seen.Username != "alice" {
			t.Errorf("identity = %+v, want alice", seen)
		}
	})

	t.Run("missing token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte("please log in first")) {
			t.Errorf("body = %s", w.Body.String())
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer bogus")
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
		if !bytes.Contains(w.Body.Bytes(), []byte("session expired or invalid")) {
			t.Errorf("body = %s", w.Body.String())
		}
	})
}
