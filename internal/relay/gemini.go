package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"google.golang.org/genai"
)

// GeminiGenerator calls the Gemini generateContent API through the official
// SDK. Clients are created lazily per API key and cached for reuse; the pool
// hands the same key back until it is blocked, so each key's client is
// long-lived.
type GeminiGenerator struct {
	model string

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiGenerator creates a generator for the given model name
// (e.g. "gemini-2.0-flash").
func NewGeminiGenerator(model string) *GeminiGenerator {
	return &GeminiGenerator{
		model:   model,
		clients: make(map[string]*genai.Client),
	}
}

// Generate issues one generation call authenticated with apiKey, sending
// system as the system instruction and message as the user turn.
// Returns the model's text, which may be empty when the response carries no
// text parts; the caller decides the fallback.
func (g *GeminiGenerator) Generate(ctx context.Context, apiKey, system, message string) (string, error) {
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return "", fmt.Errorf("creating Gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(message),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		})
	if err != nil {
		return "", fmt.Errorf("calling generateContent: %w", err)
	}

	return resp.Text(), nil
}

// client returns the cached client for apiKey, creating it on first use.
func (g *GeminiGenerator) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	g.clients[apiKey] = c
	return c, nil
}

// isAuthError reports whether err is an authorization rejection from the
// Gemini API, meaning the key itself is invalid or
// blocked, as opposed to a transient or call-specific failure.
func isAuthError(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden
}
