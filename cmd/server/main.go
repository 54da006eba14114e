package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/symposium/internal/api"
	"github.com/npezzotti/symposium/internal/assistant"
	"github.com/npezzotti/symposium/internal/broadcast"
	"github.com/npezzotti/symposium/internal/config"
	"github.com/npezzotti/symposium/internal/database"
	"github.com/npezzotti/symposium/internal/server"
	"github.com/npezzotti/symposium/internal/stats"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	localBusSize      = 256
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, config.SplitList(value)...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

var (
	opts           config.Options
	allowedOrigins stringSliceFlag
)

func main() {
	// a missing .env is fine; real deployments set the environment directly
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Println("load .env:", err)
	}

	flag.StringVar(&opts.ServerAddr, "addr", envOr("SYMPOSIUM_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&opts.DatabaseDSN, "dsn", envOr("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&opts.SigningSecret, "signing-key", envOr("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.StringVar(&opts.OpenAIAPIKey, "openai-api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key")
	flag.StringVar(&opts.AnthropicAPIKey, "anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key")
	flag.StringVar(&opts.AllowedEmails, "allowed-emails", os.Getenv("ALLOWED_EMAILS"), "comma-separated list of emails allowed to sign in")
	flag.StringVar(&opts.AllowedDomains, "allowed-domains", os.Getenv("ALLOWED_DOMAINS"), "comma-separated list of email domains allowed to sign in")
	flag.BoolVar(&opts.DevMode, "dev", os.Getenv("APP_ENV") == "development", "allow every email when no allowlist is configured")
	flag.StringVar(&opts.RedisURL, "redis-url", os.Getenv("REDIS_URL"), "redis URL for sharing typing events; in-process when empty")
	flag.IntVar(&opts.MaxOutputTokens, "max-output-tokens", envInt("MAX_OUTPUT_TOKENS", config.DefaultMaxOutputTokens), "maximum tokens per assistant reply")
	flag.BoolVar(&opts.RunMigrations, "migrate", true, "apply database migrations on startup")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = config.SplitList(os.Getenv("ALLOWED_ORIGINS"))
	}
	opts.AllowedOrigins = allowedOrigins

	logger := log.New(os.Stderr, "[symposium] ", log.LstdFlags)

	cfg, err := config.NewConfig(opts)
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if cfg.RunMigrations {
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("db migrate:", err)
		}
	}

	var bus broadcast.Bus
	if cfg.RedisURL != "" {
		bus, err = broadcast.NewRedisBus(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("typing bus:", err)
		}
	} else {
		bus = broadcast.NewLocalBus(localBusSize)
	}
	defer bus.Close()

	invoker := assistant.NewInvoker(cfg.MaxOutputTokens)
	if cfg.OpenAIAPIKey != "" {
		invoker.Register(assistant.FamilyOpenAI, assistant.NewOpenAIProvider(cfg.OpenAIAPIKey))
	}
	if cfg.AnthropicAPIKey != "" {
		invoker.Register(assistant.FamilyAnthropic, assistant.NewAnthropicProvider(cfg.AnthropicAPIKey))
	}
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		logger.Println("no completion API key configured, assistant replies will fail")
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	orchestrator := assistant.NewOrchestrator(dbConn, invoker, statsUpdater, logger)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, orchestrator, bus)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewSymposiumApp(mux, logger, chatServer, dbConn, orchestrator, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listener := database.NewListener(cfg.DatabaseDSN, logger)
	go func() {
		if err := listener.Run(ctx, func(n database.Notification) {
			chatServer.Notify(ctx, n)
		}); err != nil {
			logger.Println("db listener:", err)
		}
	}()

	go func() {
		if err := bus.Run(ctx, chatServer.DeliverTyping); err != nil {
			logger.Println("typing bus:", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer shutdownCancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	// stop feeding the chat server before its rooms are unloaded
	cancel()

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
