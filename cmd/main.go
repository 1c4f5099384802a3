package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/auth"
	"chat-relay/internal"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/server"
	"chat-relay/services"
	"chat-relay/transport"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, serves until SIGINT/SIGTERM and returns the
// first fatal error. Deferred cleanups run before main exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Store
	store, err := internal.OpenStore(ctx, config.StoreDriver, config.BadgerFilepath, config.DatabaseURL, log)
	if err != nil {
		return fmt.Errorf("store opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing store...")
		_ = store.Close()
	}()

	filter, err := loadFilter(config, log)
	if err != nil {
		return err
	}

	// 4. Real-time core
	monitoring := observability.NewMonitoring(log)
	registry := runtime.NewRegistry(log, monitoring)
	monitoring.WithGauges(func() (int, int) { return registry.RoomCount(), registry.TotalConnections() })
	engine := runtime.NewEngine(log, store, registry, runtime.NewSequencer(), filter, config.MaxContentLength, monitoring)

	issuer := auth.NewTokenIssuer([]byte(config.JWTSecret), config.JWTIssuer, config.TokenDuration)
	authenticator := auth.NewTokenAuthenticator(log, issuer)
	manager := runtime.NewManager(log, authenticator, store, registry, engine, monitoring)
	chat := services.NewChatService(store, store, engine, config.HistoryLimit)

	// 5. HTTP surface
	httpServer := server.NewServer(log,
		fmt.Sprintf("%s:%d", config.Host, config.Port),
		manager, chat, authenticator, monitoring,
		transport.NewUpgrader(internal.ParseOrigins(config.AllowedOrigins)),
		transport.Options{
			BufferSize:   config.ConnectionBufferSize,
			WriteTimeout: config.WriteTimeout,
			PongTimeout:  config.PongTimeout,
			MaxFrameSize: internal.MaxFrameSize(config.MaxContentLength),
		})

	// 6. Supervise until shutdown
	sup := workers.NewSupervisor(log)
	sup.Add(httpServer, workers.NewStatsWorker(log, monitoring, config.MetricInterval))
	sup.Run(ctx)

	log.Info("Program stopped cleanly")
	return nil
}

// loadFilter returns nil when no word list is configured.
func loadFilter(config Config, log *slog.Logger) (runtime.TextFilter, error) {
	if config.CensoredWordsPath == "" {
		return nil, nil
	}
	mask, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	words, err := moderation.LoadWords(os.DirFS(config.CensoredWordsPath), ".")
	if err != nil {
		return nil, fmt.Errorf("censored words: %w", err)
	}
	filter, err := moderation.NewFilter(words, mask, log)
	if err != nil {
		return nil, err
	}
	log.Info("Moderation enabled", "words", len(words))
	return filter, nil
}
