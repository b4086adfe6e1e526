package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/billing"
	"server/internal/bot"
	"server/internal/chat"
	"server/internal/infra"
	"server/internal/payment"
	"server/internal/providers/openai"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	if err := infra.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("failed to apply migrations")
	}

	store := repo.NewStore(dbpool)

	billingSvc := billing.NewService(billing.Options{
		Store:         store,
		Logger:        logger,
		TrialRequests: cfg.TrialRequests,
	})

	provider := openai.NewClient(openai.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Logger:  logger,
	})

	chatSvc := chat.NewService(chat.Options{
		Store:         store,
		Quota:         billingSvc,
		Provider:      chat.OpenAIProvider{Client: provider},
		Logger:        logger,
		ContextTokens: cfg.MaxContextTokens,
		TrialRequests: cfg.TrialRequests,
	})

	gateway := payment.NewGatewayClient(payment.GatewayOptions{
		ShopID:        cfg.YooKassaShopID,
		SecretKey:     cfg.YooKassaSecretKey,
		WebhookSecret: cfg.YooKassaWebhookSecret,
		ReturnURL:     cfg.YooKassaReturnURL,
		Logger:        logger,
	})

	payments := payment.NewReconciler(payment.ReconcilerOptions{
		Store:   store,
		Billing: billingSvc,
		Gateway: gateway,
		Logger:  logger,
	})

	b, err := bot.New(cfg.TelegramBotToken, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect telegram")
	}

	handler := bot.NewHandler(bot.HandlerOptions{
		API:      b.API(),
		Store:    store,
		Billing:  billingSvc,
		Chat:     chatSvc,
		Payments: payments,
		Config:   cfg,
		Logger:   logger,
	})

	logger.Info().Msg("bot polling for updates")
	b.Run(ctx, handler)
	logger.Info().Msg("bot stopped")
}
