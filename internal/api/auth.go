package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/session"
)

// TokenCookie is the cookie (and body/query field) carrying the session token.
const TokenCookie = "sessionId"

// maxBodyPeek bounds how much of a request body the token extractor will
// read when looking for a body-carried token.
const maxBodyPeek = 1 << 20 // 1 MB

// A tokenExtractor pulls a candidate session token from one transport
// location, returning "" when that location carries none.
type tokenExtractor func(r *http.Request) string

// tokenExtractors is the fixed priority order for token transport:
// Authorization header, JSON body field, query parameter, cookie.
// The first non-empty value wins. Supporting all four lets both browser
// cookie flows and programmatic bearer-token flows work unchanged.
var tokenExtractors = []tokenExtractor{
	tokenFromHeader,
	tokenFromBody,
	tokenFromQuery,
	tokenFromCookie,
}

// tokenFromRequest resolves the session token for a request, trying each
// transport location in priority order.
func tokenFromRequest(r *http.Request) string {
	for _, extract := range tokenExtractors {
		if token := extract(r); token != "" {
			return token
		}
	}
	return ""
}

func tokenFromHeader(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// tokenFromBody peeks into a JSON request body for a sessionId field,
// restoring the body afterwards so the handler can decode it again.
func tokenFromBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyPeek))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(bytes.NewReader(data))

	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.SessionID
}

func tokenFromQuery(r *http.Request) string {
	return r.URL.Query().Get(TokenCookie)
}

func tokenFromCookie(r *http.Request) string {
	c, err := r.Cookie(TokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// authMiddleware resolves the session token, validates it against the
// session store and attaches the identity to the request context.
// Requests with no token, an unknown token, or an expired token are
// rejected with 401; a valid lookup also slides the session's expiry.
func authMiddleware(sessions *session.Store, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "please log in first", logger)
				return
			}

			rec, ok := sessions.Lookup(token)
			if !ok {
				writeError(w, http.StatusUnauthorized, "session expired or invalid", logger)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyIdentity, rec.Identity)
			ctx = context.WithValue(ctx, ctxKeyToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
