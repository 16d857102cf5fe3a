// Package relay turns an authenticated identity plus a message into a model
// reply, failing over across the API key pool when the downstream rejects a
// credential.
//
// The failover loop distinguishes two failure classes: an authorization
// rejection (HTTP 401/403 from the Gemini API) is specific to the key in use,
// so the key is blocked and the call retried with the next one; anything else
// is specific to the call and aborts immediately. Because every retry blocks
// a key first, the loop terminates within pool-size iterations.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidechat/tide/internal/credential"
	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/session"
	"github.com/tidechat/tide/internal/store"
)

// Sentinel errors, checked by HTTP handlers with errors.Is().
var (
	// ErrEmptyMessage rejects blank input before any downstream call.
	ErrEmptyMessage = errors.New("message must not be empty")

	// ErrNoCredentials indicates every API key in the pool is blocked.
	// Terminal for the request; there is nothing left to fail over to.
	ErrNoCredentials = errors.New("no usable API key")

	// ErrUpstream indicates a non-authorization downstream failure.
	ErrUpstream = errors.New("generation request failed")
)

const (
	// DefaultTimeout bounds a single downstream generation call.
	DefaultTimeout = 30 * time.Second

	// persistTimeout bounds the async history write.
	persistTimeout = 10 * time.Second

	// FallbackReply is returned when the model yields no text.
	FallbackReply = "Sorry, I can't respond right now."
)

// Generator issues one generation call with one API key.
// Implemented by GeminiGenerator; tests substitute stubs.
type Generator interface {
	Generate(ctx context.Context, apiKey, system, message string) (string, error)
}

// ChatSink receives completed exchanges for persistence.
// *store.Store implements it; nil disables persistence.
type ChatSink interface {
	AppendChat(ctx context.Context, c store.Chat) error
}

// Config contains the relay's dependencies.
type Config struct {
	Pool      *credential.Pool
	Generator Generator
	Logger    log.Logger

	// Chats is optional; nil means replies are not persisted.
	Chats ChatSink

	// System prompt variants, selected by the identity's developer flag.
	UserPrompt      string
	DeveloperPrompt string

	// Timeout per downstream call. Zero means DefaultTimeout.
	Timeout time.Duration

	// BackgroundCtx outlives individual requests and scopes async history
	// writes. WG tracks those goroutines for graceful shutdown. Both are
	// optional; defaults are context.Background() and an internal group.
	BackgroundCtx context.Context //nolint:containedctx // app lifecycle context, not a request context
	WG            *sync.WaitGroup
}

// Relay executes the generation flow. Safe for concurrent use.
type Relay struct {
	pool            *credential.Pool
	generator       Generator
	chats           ChatSink
	userPrompt      string
	developerPrompt string
	timeout         time.Duration
	logger          log.Logger

	bgCtx context.Context //nolint:containedctx // app lifecycle context
	wg    *sync.WaitGroup
}

// New creates a Relay from cfg.
func New(cfg Config) (*Relay, error) {
	if cfg.Pool == nil {
		return nil, errors.New("credential pool is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	wg := cfg.WG
	if wg == nil {
		wg = &sync.WaitGroup{}
	}

	return &Relay{
		pool:            cfg.Pool,
		generator:       cfg.Generator,
		chats:           cfg.Chats,
		userPrompt:      cfg.UserPrompt,
		developerPrompt: cfg.DeveloperPrompt,
		timeout:         timeout,
		logger:          cfg.Logger,
		bgCtx:           bgCtx,
		wg:              wg,
	}, nil
}

// Reply generates a model reply for the given identity and message.
//
// Blank messages fail with ErrEmptyMessage before any downstream call. On an
// authorization rejection the key in use is blocked and the call retried
// with the next usable key; pool exhaustion yields ErrNoCredentials and any
// other downstream failure yields ErrUpstream. A successful reply is
// persisted asynchronously when a sink is configured; persistence failures
// are logged and never surfaced to the caller.
func (r *Relay) Reply(ctx context.Context, id session.Identity, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}

	system := r.userPrompt
	if id.Developer {
		system = r.developerPrompt
	}

	for {
		key, err := r.pool.Next()
		if err != nil {
			return "", ErrNoCredentials
		}

		reply, err := r.generate(ctx, key, system, message)
		if err == nil {
			if reply == "" {
				reply = FallbackReply
			}
			r.persistAsync(id, message, reply)
			return reply, nil
		}

		if isAuthError(err) {
			r.pool.Block(key)
			r.logger.Warn("API key rejected by upstream, failing over",
				"remaining", r.pool.Remaining(),
				"error", err,
			)
			continue
		}

		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
}

// generate issues one bounded downstream call.
func (r *Relay) generate(ctx context.Context, key, system, message string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.generator.Generate(callCtx, key, system, message)
}

// persistAsync writes the exchange to the sink without blocking or failing
// the user-facing response.
func (r *Relay) persistAsync(id session.Identity, message, reply string) {
	if r.chats == nil {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.bgCtx, persistTimeout)
		defer cancel()

		err := r.chats.AppendChat(ctx, store.Chat{
			OwnerID:   id.UserID,
			OwnerName: id.Username,
			Message:   message,
			Reply:     reply,
			Developer: id.Developer,
		})
		if err != nil {
			r.logger.Error("saving chat history", "error", err, "owner", id.UserID)
		}
	}()
}

// Wait blocks until all in-flight history writes finish. Called during
// graceful shutdown.
func (r *Relay) Wait() {
	r.wg.Wait()
}
