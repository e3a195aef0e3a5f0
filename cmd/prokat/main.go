package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"prokat-bot/internal/bot"
	"prokat-bot/internal/config"
	"prokat-bot/internal/dialog"
	"prokat-bot/internal/storage"
	redisstate "prokat-bot/internal/storage/redis"
	"prokat-bot/pkg/api"
	"prokat-bot/pkg/logger"
	"prokat-bot/pkg/redis"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// ENTRY POINT

func main() {
	zapLogger, err := logger.New()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	cfg, err := config.Load()
	if err != nil {
		zapLogger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	redisClient := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	pgStorage, err := storage.NewPostgresStorage(ctx, cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init PostgreSQL storage", zap.Error(err))
	}
	defer pgStorage.Close()

	if err := storage.RunMigrations(ctx, pgStorage.DB(), zapLogger); err != nil {
		zapLogger.Fatal("Failed to run migrations", zap.Error(err))
	}

	sessionStore := redisstate.NewStore(redisClient, cfg.SessionTTL)
	apiClient := api.NewClient(cfg.PricesBaseURL, cfg.HTTPRequestTimeout, zapLogger)

	machine := dialog.NewMachine(sessionStore, pgStorage, apiClient, pgStorage, zapLogger)

	tgBot, err := bot.New(
		cfg.TelegramToken,
		machine,
		sessionStore,
		cfg.HandleTimeout,
		zapLogger,
	)
	if err != nil {
		zapLogger.Fatal("Failed to create bot", zap.Error(err))
	}

	if err := tgBot.Start(ctx); err != nil {
		zapLogger.Fatal("Bot stopped with error", zap.Error(err))
	}

	zapLogger.Info("Bot shutdown gracefully")
}
