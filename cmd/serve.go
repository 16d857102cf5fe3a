package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tidechat/tide/db"
	"github.com/tidechat/tide/internal/api"
	"github.com/tidechat/tide/internal/config"
	"github.com/tidechat/tide/internal/credential"
	"github.com/tidechat/tide/internal/log"
	"github.com/tidechat/tide/internal/observability"
	"github.com/tidechat/tide/internal/relay"
	"github.com/tidechat/tide/internal/session"
	"github.com/tidechat/tide/internal/store"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // generation calls can be slow
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe wires the application together and runs the HTTP server until
// interrupted.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	logger.Info("starting tide", "version", AppVersion, "environment", cfg.Environment)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Tracing is optional; an unset endpoint disables it entirely.
	if cfg.OTLPEndpoint != "" {
		shutdownTracing, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdownTracing(flushCtx); err != nil {
				logger.Warn("flushing traces", "error", err)
			}
		}()
	}

	pool := credential.Parse(cfg.GeminiAPIKeys)
	if pool.Size() == 0 {
		logger.Warn("no Gemini API keys configured, chat requests will fail")
	} else {
		logger.Info("credential pool ready", "keys", pool.Size())
	}

	sessions := session.New(logger)
	go sessions.Run(ctx)

	// Storage is optional. Without DATABASE_URL accounts live in memory
	// and chat history is disabled.
	var (
		st     *store.Store
		users  api.UserStore
		chats  api.ChatStore
		pinger api.Pinger
		sink   relay.ChatSink
	)
	if cfg.DatabaseURL != "" {
		if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		st, err = store.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()
		users, chats, pinger, sink = st, st, st, st

		if cfg.DeveloperUsername != "" {
			if _, err := st.EnsureDeveloper(ctx, cfg.DeveloperUsername, cfg.DeveloperPassword); err != nil {
				return fmt.Errorf("bootstrapping developer account: %w", err)
			}
			logger.Info("developer account ready", "username", cfg.DeveloperUsername)
		}
	} else {
		logger.Warn("no DATABASE_URL set, accounts are memory-only and chat history is disabled")
	}

	rel, err := relay.New(relay.Config{
		Pool:            pool,
		Generator:       relay.NewGeminiGenerator(cfg.Model),
		Logger:          logger,
		Chats:           sink,
		UserPrompt:      cfg.UserPrompt,
		DeveloperPrompt: cfg.DeveloperPrompt,
		BackgroundCtx:   ctx,
	})
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}
	defer rel.Wait()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:            logger,
		Sessions:          sessions,
		Replier:           rel,
		Users:             users,
		Chats:             chats,
		DB:                pinger,
		DeveloperUsername: cfg.DeveloperUsername,
		DeveloperPassword: cfg.DeveloperPassword,
		Environment:       cfg.Environment,
		DatabaseURLSet:    cfg.DatabaseURL != "",
		CORSOrigins:       cfg.CORSOrigins,
		IsDev:             cfg.IsDev(),
		TrustProxy:        cfg.TrustProxy,
		RateBurst:         cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready", "addr", srv.Addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
