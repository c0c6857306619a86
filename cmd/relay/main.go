package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/auth"
	"chat-relay/infrastructure/storage"
	"chat-relay/infrastructure/ws"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred cleanup (database close, limiter stop) executes before the process exits, and
// keeping the wiring out of main keeps it testable.
func run() (int, error) {
	// 1. Configuration & Logger
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Database (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Core components
	directory := storage.NewUserDirectory(db)
	verifier := auth.NewTokenVerifier(config.JWTSecret, config.JWTIssuer)
	authenticator := auth.NewAuthenticator(verifier, directory, logger)

	limiter := auth.NewAddressLimiter(auth.LimiterConf{
		Window:  config.RateLimitWindow,
		Ceiling: config.RateLimitCeiling,
	})
	defer limiter.Close()

	metrics := observability.NewMetrics()
	registry := runtime.NewConnectionRegistry()
	rooms := runtime.NewRoomDirectory()
	presence := runtime.NewPresenceBroadcaster(registry, metrics, logger)
	router := runtime.NewRouter(registry, rooms, presence, metrics, logger)

	gatewayServer := ws.NewServer(ws.ServerConfig{
		Addr:              config.ListenAddr,
		AllowedOrigins:    config.Origins(),
		SendBuffer:        config.SendBuffer,
		MaxMessageSize:    config.MaxMessageSize,
		MessagesPerSecond: config.MessagesPerSecond,
		MessageBurst:      config.MessageBurst,
	}, authenticator, limiter, router, registry, metrics, logger)

	gatewayService := services.NewGatewayService(registry, rooms, metrics)
	adminServer := internal.NewAdminServer(config.AdminAddr, gatewayService, logger)

	// 4. Context & Signals
	// NotifyContext captures OS signals and cancels the context to trigger a shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Error (gateway & admin)
	errChan := make(chan error, 2)

	// 5. Start both HTTP surfaces
	go func() {
		if err := gatewayServer.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("gateway server error: %w", err)
		}
	}()
	go func() {
		if err := adminServer.ListenAndServe(); err != nil {
			errChan <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	// The execution blocks here until either a signal is received or a server crashes.
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 7. Final Cleanup (Graceful Shutdown)
	// In-flight handshakes get a bounded window to finish before the listeners close.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()

	if err := gatewayServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("gateway shutdown incomplete", "err", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin shutdown incomplete", "err", err)
	}
	logger.Info("Program stopped cleanly", "at", time.Now().UTC())

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
