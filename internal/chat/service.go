// Package chat orchestrates one conversation turn: dialog resolution,
// history assembly, quota consumption and the streamed model reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/openai"
)

// Streamer yields reply fragments until io.EOF or a terminal error.
type Streamer interface {
	Recv() (string, error)
	Close() error
}

// Provider is the slice of the completion client the orchestrator needs.
type Provider interface {
	Stream(ctx context.Context, req openai.ChatRequest) (Streamer, error)
	GenerateTitle(ctx context.Context, firstMessage, lang string) string
	Model() string
}

// Quota authorizes and records request consumption.
type Quota interface {
	ConsumeRequest(ctx context.Context, userID int64, tokens int) (bool, error)
}

// Service runs conversation turns against the store and the provider.
type Service struct {
	store         domain.Store
	quota         Quota
	provider      Provider
	logger        zerolog.Logger
	contextTokens int
	trialRequests int
	now           func() time.Time
}

// Options configures a chat Service.
type Options struct {
	Store    domain.Store
	Quota    Quota
	Provider Provider
	Logger   zerolog.Logger
	// ContextTokens bounds the history sent to the model, in approximate
	// tokens.
	ContextTokens int
	TrialRequests int
	Now           func() time.Time
}

// NewService constructs a Service with sane defaults.
func NewService(opts Options) *Service {
	contextTokens := opts.ContextTokens
	if contextTokens <= 0 {
		contextTokens = 8192
	}
	trial := opts.TrialRequests
	if trial <= 0 {
		trial = domain.DefaultTrialRequests
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:         opts.Store,
		quota:         opts.Quota,
		provider:      opts.Provider,
		logger:        opts.Logger,
		contextTokens: contextTokens,
		trialRequests: trial,
		now:           now,
	}
}

// SendRequest is one inbound user message. DialogID zero means a new dialog.
type SendRequest struct {
	UserID   int64
	DialogID int64
	Text     string
	Lang     string
}

// Reply is the completed turn. Partial is set when the stream broke after
// some output; the content received so far is persisted either way.
type Reply struct {
	DialogID int64
	Text     string
	Partial  bool
}

// Send runs one conversation turn. Fragments are delivered to onFragment as
// they arrive; the assembled reply is returned once the stream ends. Quota
// is consumed atomically before the provider call, so a denied turn costs
// nothing and a raced trial balance never goes negative.
func (s *Service) Send(ctx context.Context, req SendRequest, onFragment func(string)) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, errors.New("chat: empty message")
	}

	user, err := s.ensureUser(ctx, req.UserID, req.Lang)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, domain.ErrBanned
	}
	lang := req.Lang
	if lang == "" {
		lang = user.Lang
	}

	dialog, err := s.resolveDialog(ctx, req.UserID, req.DialogID, text, lang)
	if err != nil {
		return nil, err
	}

	userMsg := &domain.Message{
		DialogID: dialog.ID,
		Role:     domain.MessageRoleUser,
		Content:  text,
		Tokens:   openai.CountTokens(text),
	}
	if err := s.store.Messages().Insert(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	history, err := s.store.Messages().ListByDialog(ctx, dialog.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	prompt := truncateHistory(toChatMessages(history), s.contextTokens)

	promptTokens := 0
	for _, m := range prompt {
		promptTokens += openai.CountTokens(m.Content)
	}
	ok, err := s.quota.ConsumeRequest(ctx, req.UserID, promptTokens)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrQuotaExceeded
	}

	stream, err := s.provider.Stream(ctx, openai.ChatRequest{Messages: prompt})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var sb strings.Builder
	var streamErr error
	for {
		fragment, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		sb.WriteString(fragment)
		if onFragment != nil {
			onFragment(fragment)
		}
	}

	answer := sb.String()
	if answer != "" {
		assistantMsg := &domain.Message{
			DialogID:  dialog.ID,
			Role:      domain.MessageRoleAssistant,
			Content:   answer,
			Tokens:    openai.CountTokens(answer),
			ModelUsed: s.provider.Model(),
		}
		// Best effort: a reply the user already saw should survive even
		// when the tail of the turn fails.
		if err := s.store.Messages().Insert(ctx, assistantMsg); err != nil {
			s.logger.Error().Err(err).Int64("dialog_id", dialog.ID).Msg("save assistant message failed")
		}
		if err := s.store.Dialogs().Touch(ctx, dialog.ID, s.now()); err != nil {
			s.logger.Warn().Err(err).Int64("dialog_id", dialog.ID).Msg("touch dialog failed")
		}
	}

	if streamErr != nil {
		if answer == "" {
			return nil, streamErr
		}
		return &Reply{DialogID: dialog.ID, Text: answer, Partial: true}, streamErr
	}
	return &Reply{DialogID: dialog.ID, Text: answer}, nil
}

// ensureUser loads the user, creating a fresh trial row on first contact.
func (s *Service) ensureUser(ctx context.Context, userID int64, lang string) (*domain.User, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if lang == "" {
		lang = "ru"
	}
	user = &domain.User{ID: userID, Lang: lang, TrialLeft: s.trialRequests}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (s *Service) resolveDialog(ctx context.Context, userID, dialogID int64, firstMessage, lang string) (*domain.Dialog, error) {
	if dialogID != 0 {
		dialog, err := s.store.Dialogs().GetForUser(ctx, dialogID, userID)
		if err != nil {
			return nil, fmt.Errorf("load dialog: %w", err)
		}
		return dialog, nil
	}

	dialog := &domain.Dialog{UserID: userID, Title: fallbackTitle(lang)}
	if err := s.store.Dialogs().Create(ctx, dialog); err != nil {
		return nil, fmt.Errorf("create dialog: %w", err)
	}
	// Title generation happens off the turn's critical path; the fallback
	// title stays when the provider call loses the race or fails.
	go func(id int64) {
		tctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		title := s.provider.GenerateTitle(tctx, firstMessage, lang)
		if err := s.store.Dialogs().SetTitle(tctx, id, title); err != nil {
			s.logger.Debug().Err(err).Int64("dialog_id", id).Msg("set dialog title failed")
		}
	}(dialog.ID)
	return dialog, nil
}

func fallbackTitle(lang string) string {
	if lang == "ru" {
		return "Новый диалог"
	}
	return "New dialog"
}

func toChatMessages(history []domain.Message) []openai.ChatMessage {
	out := make([]openai.ChatMessage, 0, len(history))
	for _, m := range history {
		out = append(out, openai.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// truncateHistory keeps the newest suffix of msgs whose total approximate
// token cost fits the budget, preserving chronological order. The newest
// message is always kept, over budget or not.
func truncateHistory(msgs []openai.ChatMessage, budget int) []openai.ChatMessage {
	if len(msgs) == 0 {
		return msgs
	}
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := openai.CountTokens(msgs[i].Content)
		if total+cost > budget && start < len(msgs) {
			break
		}
		total += cost
		start = i
	}
	return msgs[start:]
}

// Dialogs returns the user's dialogs, most recently active first.
func (s *Service) Dialogs(ctx context.Context, userID int64) ([]domain.Dialog, error) {
	return s.store.Dialogs().ListByUser(ctx, userID)
}

// Messages returns a dialog's messages after checking ownership.
func (s *Service) Messages(ctx context.Context, dialogID, userID int64) ([]domain.Message, error) {
	if _, err := s.store.Dialogs().GetForUser(ctx, dialogID, userID); err != nil {
		return nil, err
	}
	return s.store.Messages().ListByDialog(ctx, dialogID)
}

// DeleteDialog removes the user's dialog and its messages.
func (s *Service) DeleteDialog(ctx context.Context, dialogID, userID int64) error {
	if _, err := s.store.Dialogs().GetForUser(ctx, dialogID, userID); err != nil {
		return err
	}
	return s.store.Dialogs().Delete(ctx, dialogID)
}

// SetPinned pins or unpins the user's dialog.
func (s *Service) SetPinned(ctx context.Context, dialogID, userID int64, pinned bool) error {
	if _, err := s.store.Dialogs().GetForUser(ctx, dialogID, userID); err != nil {
		return err
	}
	return s.store.Dialogs().SetPinned(ctx, dialogID, pinned)
}

// OpenAIProvider adapts *openai.Client to the Provider interface.
type OpenAIProvider struct {
	Client *openai.Client
}

func (p OpenAIProvider) Stream(ctx context.Context, req openai.ChatRequest) (Streamer, error) {
	return p.Client.Stream(ctx, req)
}

func (p OpenAIProvider) GenerateTitle(ctx context.Context, firstMessage, lang string) string {
	return p.Client.GenerateTitle(ctx, firstMessage, lang)
}

func (p OpenAIProvider) Model() string {
	return p.Client.Model()
}

var _ Provider = OpenAIProvider{}
