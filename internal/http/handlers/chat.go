package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"server/internal/chat"
	"server/internal/domain"
	"server/internal/middleware"
)

// Quota returns the caller's current entitlement snapshot.
func (a *App) Quota(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	quota, err := a.Billing.GetQuota(r.Context(), userID)
	if err != nil {
		a.Logger.Error().Err(err).Int64("user_id", userID).Msg("load quota")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load quota")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"trial_left":      quota.TrialLeft,
		"plan":            quota.PlanName,
		"plan_until":      quota.PlanUntil,
		"monthly_quota":   quota.MonthlyQuota,
		"used_this_month": quota.UsedThisMonth,
		"remaining":       quota.Remaining,
		"unlimited":       quota.Unlimited,
		"is_trial":        quota.IsTrial,
	})
}

type sendRequest struct {
	DialogID int64  `json:"dialog_id"`
	Text     string `json:"text"`
}

// ChatSend runs one blocking conversation turn and returns the full reply.
func (a *App) ChatSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Text == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}
	ctx := r.Context()
	reply, err := a.Chat.Send(ctx, chat.SendRequest{
		UserID:   middleware.UserIDFromContext(ctx),
		DialogID: req.DialogID,
		Text:     req.Text,
		Lang:     middleware.LocaleFromContext(ctx),
	}, nil)
	if err != nil && reply == nil {
		a.chatError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"dialog_id": reply.DialogID,
		"text":      reply.Text,
		"partial":   reply.Partial,
	})
}

// ChatStream runs one conversation turn, streaming fragments as SSE events.
// A mid-stream failure is surfaced as a terminal "error" event rather than
// text the client cannot tell apart from the answer.
func (a *App) ChatStream(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Text == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "text is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.error(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	reply, err := a.Chat.Send(ctx, chat.SendRequest{
		UserID:   middleware.UserIDFromContext(ctx),
		DialogID: req.DialogID,
		Text:     req.Text,
		Lang:     middleware.LocaleFromContext(ctx),
	}, func(fragment string) {
		writeSSE(w, "chunk", map[string]string{"text": fragment})
		flusher.Flush()
	})
	if err != nil {
		writeSSE(w, "error", map[string]string{"code": chatErrorCode(err)})
		flusher.Flush()
		return
	}
	writeSSE(w, "done", map[string]any{"dialog_id": reply.DialogID})
	flusher.Flush()
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, _ := json.Marshal(payload)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func chatErrorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, domain.ErrBanned):
		return "banned"
	case errors.Is(err, domain.ErrProviderFailure):
		return "provider_failure"
	default:
		return "internal"
	}
}

func (a *App) chatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		a.error(w, http.StatusPaymentRequired, "quota_exceeded", "no requests left")
	case errors.Is(err, domain.ErrBanned):
		a.error(w, http.StatusForbidden, "banned", "account is banned")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "dialog not found")
	case errors.Is(err, domain.ErrProviderFailure):
		a.error(w, http.StatusBadGateway, "provider_failure", "completion provider failed")
	default:
		a.Logger.Error().Err(err).Msg("chat turn failed")
		a.error(w, http.StatusInternalServerError, "internal", "chat turn failed")
	}
}

// DialogsList returns the caller's dialogs, most recently active first.
func (a *App) DialogsList(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	dialogs, err := a.Chat.Dialogs(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to load dialogs")
		return
	}
	items := make([]map[string]any, 0, len(dialogs))
	for _, d := range dialogs {
		items = append(items, map[string]any{
			"id":         d.ID,
			"title":      d.Title,
			"is_pinned":  d.IsPinned,
			"updated_at": d.UpdatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"dialogs": items})
}

// DialogMessages returns one dialog's messages in chronological order.
func (a *App) DialogMessages(w http.ResponseWriter, r *http.Request) {
	dialogID, err := dialogIDParam(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid dialog id")
		return
	}
	userID := middleware.UserIDFromContext(r.Context())
	messages, err := a.Chat.Messages(r.Context(), dialogID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "dialog not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to load messages")
		return
	}
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		items = append(items, map[string]any{
			"id":         m.ID,
			"role":       m.Role,
			"content":    m.Content,
			"created_at": m.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"messages": items})
}

// DialogDelete removes one of the caller's dialogs.
func (a *App) DialogDelete(w http.ResponseWriter, r *http.Request) {
	dialogID, err := dialogIDParam(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid dialog id")
		return
	}
	userID := middleware.UserIDFromContext(r.Context())
	if err := a.Chat.DeleteDialog(r.Context(), dialogID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "dialog not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to delete dialog")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type pinRequest struct {
	Pinned bool `json:"pinned"`
}

// DialogPin pins or unpins one of the caller's dialogs.
func (a *App) DialogPin(w http.ResponseWriter, r *http.Request) {
	dialogID, err := dialogIDParam(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid dialog id")
		return
	}
	var req pinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	userID := middleware.UserIDFromContext(r.Context())
	if err := a.Chat.SetPinned(r.Context(), dialogID, userID, req.Pinned); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "dialog not found")
			return
		}
		a.error(w, http.StatusInternalServerError, "internal", "failed to update dialog")
		return
	}
	a.json(w, http.StatusOK, map[string]any{"pinned": req.Pinned})
}

func dialogIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
