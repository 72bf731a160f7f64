package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbot "github.com/go-telegram/bot"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/seezam/finbot/internal/config"
	"github.com/seezam/finbot/internal/events"
	"github.com/seezam/finbot/internal/events/kafka"
	interfaces "github.com/seezam/finbot/internal/interfaces"
	"github.com/seezam/finbot/internal/ledger"
	"github.com/seezam/finbot/internal/metrics"
	"github.com/seezam/finbot/internal/server"
	"github.com/seezam/finbot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("finbot stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	backends, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	var publisher interfaces.EventPublisher = events.Nop{}
	if cfg.KafkaEnabled() {
		kp := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kp.Close(); err != nil {
				logger.Warn("failed to close kafka publisher", zap.Error(err))
			}
		}()
		publisher = kp
		logger.Info("publishing transaction events",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic),
		)
	}

	ledgerService := ledger.NewLedger(backends.ledger,
		ledger.WithPublisher(publisher),
		ledger.WithLogger(logger.Named("ledger")),
	)
	// Drains queued events before the publisher is closed.
	defer ledgerService.Close()

	api, err := tgbot.New(cfg.BotToken, tgbot.WithSkipGetMe())
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("finbot")
	bot := telegram.NewBot(ledgerService, backends.sessions, api, cfg.AllowedUserID,
		telegram.WithLogger(logger.Named("telegram")),
		telegram.WithMetrics(collector),
		telegram.WithTimeout(cfg.InteractionTimeout),
	)

	srv := server.New(server.Config{
		Port:            cfg.Port,
		WebhookSecret:   cfg.WebhookSecret,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, bot, collector, logger.Named("http"))

	logger.Info("finbot started",
		zap.String("environment", cfg.Environment),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("session_backend", cfg.SessionBackend),
	)
	return srv.Run(ctx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
