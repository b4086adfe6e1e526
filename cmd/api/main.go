package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/adapter/repo"
	"server/internal/billing"
	"server/internal/chat"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/infra/geoip"
	"server/internal/middleware"
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

	ctx := context.Background()
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

	app := &handlers.App{
		Store:    store,
		Billing:  billingSvc,
		Chat:     chatSvc,
		Payments: payments,
		Config:   cfg,
		Logger:   logger,
	}

	var lookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		lookup = resolver.CountryCode
	}

	router := httpapi.NewRouter(app, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
