package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/vendora-assistant-go/internal/config"
	"github.com/vendora-assistant-go/internal/handlers"
	"github.com/vendora-assistant-go/internal/i18n"
	"github.com/vendora-assistant-go/internal/middleware"
	"github.com/vendora-assistant-go/internal/platform"
	"github.com/vendora-assistant-go/internal/services/ai"
	"github.com/vendora-assistant-go/internal/services/conversation"
	"github.com/vendora-assistant-go/internal/services/quota"
	"github.com/vendora-assistant-go/internal/services/selector"
	"github.com/vendora-assistant-go/internal/services/threads"
	"github.com/vendora-assistant-go/internal/services/tools"
	"github.com/vendora-assistant-go/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting vendora assistant...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Quota counter. A missing or unreachable Redis degrades to fail-open
	// at request time; startup only warns.
	counter, closeCounter := buildCounter(ctx, cfg, log)
	defer closeCounter()

	store, err := buildThreadStore(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize thread store")
	}
	defer store.Close()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	metrics := middleware.NewMetrics()

	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	var rateLimiter middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg, log)
	}

	ledger := quota.NewLedger(counter, log)
	sel := selector.New(selector.Options{
		Keywords:            cfg.Assistant.Keywords,
		ComplexityThreshold: cfg.Assistant.ComplexityThreshold,
		HistoryTurns:        cfg.Assistant.HistoryTurns,
		VendorLimits:        cfg.Assistant.VendorLimits,
		GuestLimits:         cfg.Assistant.GuestLimits,
	}, ledger, metrics, log)

	platformClient := platform.NewClient(cfg.Platform, log)
	registry := tools.NewPlatformRegistry(platformClient, log)

	llm := ai.NewOpenAIClient(&cfg.Models, log)

	engine := conversation.NewEngine(&cfg.Assistant, store, sel, llm,
		registry, registry.Definitions(), localizer, metrics, log)

	// HTTP API (web + api channels)
	httpHandler := handlers.NewHTTPHandler(engine, rateLimiter, localizer, metrics, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Telegram channel (optional)
	if cfg.Bot.Enabled {
		bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
		if err != nil {
			log.WithError(err).Fatal("Failed to create Telegram bot")
		}
		bot.Debug = cfg.Logging.Level == "debug"

		tgHandler := handlers.NewTelegramHandler(bot, engine, rateLimiter, localizer, metrics, log, cfg.Bot.UpdateTimeout)
		go tgHandler.Run(ctx)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}

	log.Info("Shutdown complete")
}

// buildCounter wires the quota counter. The returned func closes the
// underlying connection, if any.
func buildCounter(ctx context.Context, cfg *config.Config, log *logrus.Logger) (quota.Counter, func()) {
	if cfg.Storage.Counter.Driver == "memory" {
		log.Info("Using in-memory quota counter")
		return quota.NewMemoryCounter(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Counter.Redis.Addr,
		Password: cfg.Storage.Counter.Redis.Password,
		DB:       cfg.Storage.Counter.Redis.DB,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).Warn("Redis unreachable at startup, quota checks will fail open until it recovers")
	} else {
		log.WithField("addr", cfg.Storage.Counter.Redis.Addr).Info("Connected to Redis")
	}

	return quota.NewRedisCounter(client), func() {
		if err := client.Close(); err != nil {
			log.WithError(err).Error("Failed to close Redis client")
		}
	}
}

func buildThreadStore(cfg *config.Config, log *logrus.Logger) (threads.Store, error) {
	if cfg.Storage.Threads.Driver == "memory" {
		log.Warn("Using in-memory thread store, conversations will not survive restarts")
		return threads.NewMemoryStore(), nil
	}
	return threads.NewPostgresStore(cfg.Storage.Threads.Postgres, log)
}
