package main

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/infrastructure/rest"
	"chat-relay/infrastructure/storage"
	"chat-relay/infrastructure/websocket"
	"chat-relay/internal"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const (
	exitRuntime = 1
	exitConfig  = 2
)

type configError struct{ err error }

func (e configError) Error() string { return fmt.Sprintf("config error: %v", e.err) }
func (e configError) Unwrap() error { return e.err }

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		var cfgErr configError
		if stderrors.As(err, &cfgErr) {
			os.Exit(exitConfig)
		}
		os.Exit(exitRuntime)
	}
}

// run wires every component and blocks until SIGINT or SIGTERM.
// Returning instead of exiting lets deferred cleanups (badger first) run.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return configError{err}
	}
	if err := config.Validate(); err != nil {
		return configError{err}
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Storage
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blobs, err := storage.NewDiskBlobStore(log, config.UploadsDir)
	if err != nil {
		return err
	}
	messageRepository := repositories.NewMessageRepository(db, log)
	userRepository := repositories.NewUserRepository(db)

	// 3. Auth
	tokens := auth.NewTokenIssuer(config.JwtSecret, config.AuthTokenDuration)
	authService := services.NewAuthService(log, userRepository, tokens)
	directoryService := services.NewDirectoryService(userRepository, messageRepository)

	// 4. Relay core
	sup := workers.NewSupervisor(log, config.RestartInterval)
	registry := runtime.NewRegistry()
	binder := runtime.NewIdentityBinder(log, tokens, registry, config.TokenCookieName)
	presence := runtime.NewPresenceBroadcaster(log, registry, config.PresenceIncludeAnonymous)
	relay := runtime.NewMessageRelay(log, registry, messageRepository, blobs, config.StoreTimeout)

	orchestrator := runtime.NewOrchestrator(log, runtime.Config{
		PingInterval:             config.PingInterval,
		PongGrace:                config.PongGracePeriod,
		BroadcastOnGracefulClose: config.BroadcastOnGracefulClose,
	}, sup, registry, binder, presence, relay)

	// 5. Transports
	wsHandler := websocket.NewHandler(log, orchestrator, config.ClientURL,
		config.WriteTimeout, config.MaxMessageSize)
	restHandler := rest.NewHandler(log, authService, directoryService, blobs, auth.CookieOptions{
		Name:   config.TokenCookieName,
		Secure: config.CookieSecure,
	})
	router := rest.NewRouter(restHandler, wsHandler, config.ClientURL)

	orchestrator.Add(
		workers.NewHTTPServerWorker(log, config.Address(), router),
		server.NewHealthServer(log, config.HealthAddress()),
		workers.NewValueLogGCWorker(log, db, config.ValueLogGCInterval),
	)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Block until shutdown
	orchestrator.Run(ctx)
	log.Info("Program stopped cleanly")
	return nil
}
