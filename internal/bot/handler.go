// Package bot drives the Telegram side of the service: commands, plan
// purchase flows and the conversational bridge into the chat orchestrator.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"server/internal/billing"
	"server/internal/chat"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/middleware"
	"server/internal/payment"
)

// API is the slice of tgbotapi.BotAPI the handler uses; tests substitute a
// recording fake.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler routes bot updates to the services.
type Handler struct {
	api      API
	store    domain.Store
	billing  *billing.Service
	chat     *chat.Service
	payments *payment.Reconciler
	cfg      *infra.Config
	logger   zerolog.Logger

	mu            sync.Mutex
	activeDialogs map[int64]int64
	pendingPromos map[int64]*domain.Promo
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	API      API
	Store    domain.Store
	Billing  *billing.Service
	Chat     *chat.Service
	Payments *payment.Reconciler
	Config   *infra.Config
	Logger   zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		api:           opts.API,
		store:         opts.Store,
		billing:       opts.Billing,
		chat:          opts.Chat,
		payments:      opts.Payments,
		cfg:           opts.Config,
		logger:        opts.Logger,
		activeDialogs: make(map[int64]int64),
		pendingPromos: make(map[int64]*domain.Promo),
	}
}

// HandleUpdate dispatches one inbound update.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.PreCheckoutQuery != nil:
		h.handlePreCheckout(ctx, upd.PreCheckoutQuery)
	case upd.Message != nil && upd.Message.SuccessfulPayment != nil:
		h.handleSuccessfulPayment(ctx, upd.Message)
	case upd.Message != nil:
		h.handleMessage(ctx, upd.Message)
	case upd.CallbackQuery != nil:
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	user, err := h.ensureUser(ctx, msg)
	if err != nil {
		h.logger.Error().Err(err).Int64("user_id", msg.From.ID).Msg("ensure user")
		return
	}
	lang := user.Lang

	if msg.IsCommand() {
		h.handleCommand(ctx, msg, user)
		return
	}
	if user.Banned {
		h.reply(msg.Chat.ID, text(lang, "banned"))
		return
	}
	h.handleChatTurn(ctx, msg, user)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	lang := user.Lang
	switch msg.Command() {
	case "start":
		h.reply(msg.Chat.ID, text(lang, "welcome", user.TrialLeft))
	case "help":
		h.reply(msg.Chat.ID, text(lang, "help"))
	case "limits":
		h.sendLimits(ctx, msg.Chat.ID, user)
	case "new":
		h.mu.Lock()
		delete(h.activeDialogs, user.ID)
		h.mu.Unlock()
		h.reply(msg.Chat.ID, text(lang, "new_dialog"))
	case "upgrade":
		h.sendPlans(ctx, msg.Chat.ID, lang)
	case "lang":
		h.sendLangKeyboard(msg.Chat.ID, lang)
	case "promo":
		h.handlePromo(ctx, msg, user)
	case "give":
		h.handleGive(ctx, msg, user)
	case "stats":
		h.handleStats(ctx, msg, user)
	default:
		h.reply(msg.Chat.ID, text(lang, "unknown"))
	}
}

// handleChatTurn streams the model reply into one message, edited in place
// as fragments arrive.
func (h *Handler) handleChatTurn(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	lang := user.Lang
	chatID := msg.Chat.ID
	_, _ = h.api.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))

	h.mu.Lock()
	dialogID := h.activeDialogs[user.ID]
	h.mu.Unlock()

	placeholder, err := h.api.Send(tgbotapi.NewMessage(chatID, "…"))
	if err != nil {
		h.logger.Error().Err(err).Msg("send placeholder")
		return
	}

	var (
		buf      strings.Builder
		lastEdit time.Time
	)
	reply, err := h.chat.Send(ctx, chat.SendRequest{
		UserID:   user.ID,
		DialogID: dialogID,
		Text:     msg.Text,
		Lang:     lang,
	}, func(fragment string) {
		buf.WriteString(fragment)
		if time.Since(lastEdit) < time.Second {
			return
		}
		lastEdit = time.Now()
		edit := tgbotapi.NewEditMessageText(chatID, placeholder.MessageID, buf.String())
		_, _ = h.api.Request(edit)
	})
	if err != nil && reply == nil {
		h.editOrReply(chatID, placeholder.MessageID, h.turnErrorText(lang, err))
		return
	}
	if reply.DialogID != 0 {
		h.mu.Lock()
		h.activeDialogs[user.ID] = reply.DialogID
		h.mu.Unlock()
	}
	final := reply.Text
	if reply.Partial {
		final += "\n\n" + text(lang, "provider_error")
	}
	h.editOrReply(chatID, placeholder.MessageID, final)
}

func (h *Handler) turnErrorText(lang string, err error) string {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return text(lang, "quota_exceeded")
	case errors.Is(err, domain.ErrBanned):
		return text(lang, "banned")
	default:
		return text(lang, "provider_error")
	}
}

func (h *Handler) sendLimits(ctx context.Context, chatID int64, user *domain.User) {
	quota, err := h.billing.GetQuota(ctx, user.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("load quota")
		return
	}
	lang := user.Lang
	switch {
	case quota.IsTrial:
		h.reply(chatID, text(lang, "limits_trial", quota.TrialLeft))
	case quota.Unlimited:
		h.reply(chatID, text(lang, "limits_unlimited", quota.PlanName, quota.PlanUntil.Format("02.01.2006")))
	default:
		h.reply(chatID, text(lang, "limits_plan", quota.PlanName, quota.PlanUntil.Format("02.01.2006"), quota.UsedThisMonth, quota.MonthlyQuota))
	}
}

func (h *Handler) sendPlans(ctx context.Context, chatID int64, lang string) {
	plans, err := h.billing.Plans(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("load plans")
		return
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		label := fmt.Sprintf("%s — %s ₽ / %d ⭐", p.Name, p.PriceRub.StringFixed(0), p.PriceStars)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "plan:"+p.Name),
		))
	}
	out := tgbotapi.NewMessage(chatID, text(lang, "choose_plan"))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	_, _ = h.api.Send(out)
}

func (h *Handler) sendLangKeyboard(chatID int64, lang string) {
	out := tgbotapi.NewMessage(chatID, text(lang, "choose_lang"))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Русский", "lang:ru"),
			tgbotapi.NewInlineKeyboardButtonData("English", "lang:en"),
		),
	)
	_, _ = h.api.Send(out)
}

func (h *Handler) handlePromo(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	lang := user.Lang
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		h.reply(msg.Chat.ID, text(lang, "promo_usage"))
		return
	}
	promo, err := h.billing.ValidatePromo(ctx, code)
	if err != nil {
		h.logger.Error().Err(err).Msg("validate promo")
		return
	}
	if promo == nil {
		h.reply(msg.Chat.ID, text(lang, "promo_invalid"))
		return
	}
	h.mu.Lock()
	h.pendingPromos[user.ID] = promo
	h.mu.Unlock()
	h.reply(msg.Chat.ID, text(lang, "promo_ok", promo.DiscountPercent))
}

func (h *Handler) handleGive(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	if !h.cfg.IsAdmin(user.ID) {
		h.reply(msg.Chat.ID, text(user.Lang, "unknown"))
		return
	}
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) != 2 {
		h.reply(msg.Chat.ID, "/give <user_id> <amount>")
		return
	}
	targetID, err1 := strconv.ParseInt(fields[0], 10, 64)
	amount, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil || amount <= 0 {
		h.reply(msg.Chat.ID, "/give <user_id> <amount>")
		return
	}
	ok, err := h.billing.AddTrialRequests(ctx, targetID, amount)
	if err != nil || !ok {
		h.reply(msg.Chat.ID, fmt.Sprintf("user %d not found", targetID))
		return
	}
	h.reply(msg.Chat.ID, text(user.Lang, "give_done", targetID, amount))
}

func (h *Handler) handleStats(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	if !h.cfg.IsAdmin(user.ID) {
		h.reply(msg.Chat.ID, text(user.Lang, "unknown"))
		return
	}
	total, err := h.store.Users().CountSince(ctx, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("count users")
		return
	}
	weekAgo := time.Now().AddDate(0, 0, -7)
	active, err := h.store.Usage().ActiveUsersSince(ctx, weekAgo)
	if err != nil {
		h.logger.Error().Err(err).Msg("active users")
		return
	}
	revenue, err := h.store.Purchases().RevenueSince(ctx, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("revenue")
		return
	}
	h.reply(msg.Chat.ID, text(user.Lang, "stats", total, active, revenue.StringFixed(2)))
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	defer func() {
		_, _ = h.api.Request(tgbotapi.NewCallback(cb.ID, ""))
	}()
	user, err := h.store.Users().Get(ctx, cb.From.ID)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user_id", cb.From.ID).Msg("callback from unknown user")
		return
	}
	chatID := cb.Message.Chat.ID
	lang := user.Lang

	switch {
	case strings.HasPrefix(cb.Data, "lang:"):
		newLang := strings.TrimPrefix(cb.Data, "lang:")
		if err := h.store.Users().SetLang(ctx, user.ID, newLang); err != nil {
			h.logger.Error().Err(err).Msg("set lang")
			return
		}
		h.reply(chatID, text(newLang, "lang_set"))
	case strings.HasPrefix(cb.Data, "plan:"):
		h.sendPaymentMethods(chatID, lang, strings.TrimPrefix(cb.Data, "plan:"))
	case strings.HasPrefix(cb.Data, "buy:stars:"):
		h.sendStarsInvoice(ctx, chatID, lang, strings.TrimPrefix(cb.Data, "buy:stars:"))
	case strings.HasPrefix(cb.Data, "buy:card:"):
		h.sendCheckoutLink(ctx, chatID, user, strings.TrimPrefix(cb.Data, "buy:card:"))
	}
}

func (h *Handler) sendPaymentMethods(chatID int64, lang, planName string) {
	out := tgbotapi.NewMessage(chatID, text(lang, "choose_pay", planName))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(text(lang, "pay_stars"), "buy:stars:"+planName),
			tgbotapi.NewInlineKeyboardButtonData(text(lang, "pay_card"), "buy:card:"+planName),
		),
	)
	_, _ = h.api.Send(out)
}

func (h *Handler) sendStarsInvoice(ctx context.Context, chatID int64, lang, planName string) {
	plan, err := h.store.Plans().GetByName(ctx, planName)
	if err != nil {
		h.logger.Warn().Err(err).Str("plan", planName).Msg("invoice for unknown plan")
		h.reply(chatID, text(lang, "pay_error"))
		return
	}
	invoice := tgbotapi.NewInvoice(
		chatID,
		plan.Name,
		fmt.Sprintf("Subscription %q", plan.Name),
		"plan:"+plan.Name,
		"", // Stars invoices carry no provider token
		"",
		"XTR",
		[]tgbotapi.LabeledPrice{{Label: plan.Name, Amount: plan.PriceStars}},
	)
	if _, err := h.api.Send(invoice); err != nil {
		h.logger.Error().Err(err).Msg("send invoice")
		h.reply(chatID, text(lang, "pay_error"))
	}
}

func (h *Handler) sendCheckoutLink(ctx context.Context, chatID int64, user *domain.User, planName string) {
	lang := user.Lang
	plan, err := h.store.Plans().GetByName(ctx, planName)
	if err != nil {
		h.reply(chatID, text(lang, "pay_error"))
		return
	}
	h.mu.Lock()
	promo := h.pendingPromos[user.ID]
	delete(h.pendingPromos, user.ID)
	h.mu.Unlock()

	url, err := h.payments.CreateCheckout(ctx, user.ID, plan, promo)
	if err != nil {
		h.logger.Error().Err(err).Msg("create checkout")
		h.reply(chatID, text(lang, "pay_error"))
		return
	}
	h.reply(chatID, text(lang, "pay_link", url))
}

// handlePreCheckout approves a Stars pre-checkout when the plan still exists.
func (h *Handler) handlePreCheckout(ctx context.Context, query *tgbotapi.PreCheckoutQuery) {
	answer := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: query.ID, OK: true}
	planName := strings.TrimPrefix(query.InvoicePayload, "plan:")
	if _, err := h.store.Plans().GetByName(ctx, planName); err != nil {
		answer.OK = false
		answer.ErrorMessage = "plan is no longer available"
	}
	if _, err := h.api.Request(answer); err != nil {
		h.logger.Error().Err(err).Msg("answer pre-checkout")
	}
}

// handleSuccessfulPayment reconciles a completed Stars charge. Telegram may
// re-deliver the update; a duplicate is acknowledged without a second
// activation.
func (h *Handler) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	sp := msg.SuccessfulPayment
	planName := strings.TrimPrefix(sp.InvoicePayload, "plan:")
	lang := h.userLang(ctx, msg.From.ID)

	err := h.payments.ProcessStarsPayment(ctx, payment.StarsPayment{
		UserID:           msg.From.ID,
		PlanName:         planName,
		TelegramChargeID: sp.TelegramPaymentChargeID,
		StarsAmount:      sp.TotalAmount,
	})
	if err != nil && !errors.Is(err, domain.ErrDuplicatePayment) {
		h.logger.Error().Err(err).Int64("user_id", msg.From.ID).Msg("stars reconciliation failed")
		h.reply(msg.Chat.ID, text(lang, "pay_error"))
		return
	}
	h.reply(msg.Chat.ID, text(lang, "payment_done", planName))
}

// ensureUser loads the sender's row, creating it with the trial allotment
// and the Telegram client language on first contact.
func (h *Handler) ensureUser(ctx context.Context, msg *tgbotapi.Message) (*domain.User, error) {
	user, err := h.store.Users().Get(ctx, msg.From.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	user = &domain.User{
		ID:        msg.From.ID,
		Lang:      middleware.NormalizeLocale(msg.From.LanguageCode),
		TrialLeft: h.cfg.TrialRequests,
	}
	if err := h.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (h *Handler) userLang(ctx context.Context, userID int64) string {
	if user, err := h.store.Users().Get(ctx, userID); err == nil {
		return user.Lang
	}
	return "ru"
}

func (h *Handler) reply(chatID int64, textBody string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(chatID, textBody)); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}

func (h *Handler) editOrReply(chatID int64, messageID int, textBody string) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, textBody)
	if _, err := h.api.Request(edit); err != nil {
		h.reply(chatID, textBody)
	}
}
