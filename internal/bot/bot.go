package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Bot runs the long-polling update loop.
type Bot struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger
}

// New connects to the Telegram API.
func New(token string, logger zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("username", api.Self.UserName).Msg("bot authorized")
	return &Bot{api: api, logger: logger}, nil
}

// API exposes the underlying client for handler wiring.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// Run polls for updates until ctx is cancelled. Each update is handled in
// its own goroutine so a slow model stream does not stall the poll loop.
func (b *Bot) Run(ctx context.Context, handler *Handler) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	cfg.AllowedUpdates = []string{"message", "callback_query", "pre_checkout_query"}

	updates := b.api.GetUpdatesChan(cfg)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			go handler.HandleUpdate(ctx, upd)
		}
	}
}
