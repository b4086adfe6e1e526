package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"server/internal/billing"
	"server/internal/domain"
	"server/internal/memstore"
	"server/internal/providers/openai"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fakeStream struct {
	fragments []string
	err       error
	pos       int
}

func (s *fakeStream) Recv() (string, error) {
	if s.pos < len(s.fragments) {
		s.pos++
		return s.fragments[s.pos-1], nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeProvider struct {
	fragments []string
	streamErr error
	startErr  error
	title     string

	prompt  []openai.ChatMessage
	started bool
	titled  chan string
}

func (p *fakeProvider) Stream(ctx context.Context, req openai.ChatRequest) (Streamer, error) {
	p.started = true
	p.prompt = req.Messages
	if p.startErr != nil {
		return nil, p.startErr
	}
	return &fakeStream{fragments: p.fragments, err: p.streamErr}, nil
}

func (p *fakeProvider) GenerateTitle(ctx context.Context, firstMessage, lang string) string {
	if p.titled != nil {
		p.titled <- p.title
	}
	return p.title
}

func (p *fakeProvider) Model() string { return "test-model" }

func newTestChat(t *testing.T, provider *fakeProvider) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	quota := billing.NewService(billing.Options{
		Store:  store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return fixedNow },
	})
	svc := NewService(Options{
		Store:    store,
		Quota:    quota,
		Provider: provider,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return fixedNow },
	})
	return svc, store
}

func seedUser(t *testing.T, store *memstore.Store, id int64, trialLeft int) {
	t.Helper()
	err := store.Users().Create(context.Background(), &domain.User{ID: id, Lang: "en", TrialLeft: trialLeft})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func TestSendNewDialog(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"Hi ", "there"}, title: "Greetings"}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 5)
	ctx := context.Background()

	var streamed strings.Builder
	reply, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "hello", Lang: "en"}, func(f string) {
		streamed.WriteString(f)
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "Hi there" || reply.Partial {
		t.Errorf("reply = %+v, want full %q", reply, "Hi there")
	}
	if streamed.String() != "Hi there" {
		t.Errorf("streamed = %q", streamed.String())
	}

	messages, err := svc.Messages(ctx, reply.DialogID, 1)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want user + assistant", len(messages))
	}
	if messages[0].Role != domain.MessageRoleUser || messages[0].Content != "hello" {
		t.Errorf("first message = %+v", messages[0])
	}
	if messages[1].Role != domain.MessageRoleAssistant || messages[1].Content != "Hi there" {
		t.Errorf("second message = %+v", messages[1])
	}
	if messages[1].ModelUsed != "test-model" {
		t.Errorf("model_used = %q", messages[1].ModelUsed)
	}

	user, _ := store.Users().Get(ctx, 1)
	if user.TrialLeft != 4 {
		t.Errorf("trial_left = %d, want one request consumed", user.TrialLeft)
	}
}

func TestSendContinuesDialog(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"again"}, title: "t"}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 5)
	ctx := context.Background()

	first, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "first question"}, nil)
	if err != nil {
		t.Fatalf("first send: %v", err)
	}
	_, err = svc.Send(ctx, SendRequest{UserID: 1, DialogID: first.DialogID, Text: "second question"}, nil)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}

	// The second turn's prompt carries the whole conversation so far.
	if len(provider.prompt) != 3 {
		t.Fatalf("prompt = %d messages, want 3", len(provider.prompt))
	}
	if provider.prompt[0].Content != "first question" ||
		provider.prompt[1].Content != "again" ||
		provider.prompt[2].Content != "second question" {
		t.Errorf("prompt order = %+v", provider.prompt)
	}

	dialogs, _ := svc.Dialogs(ctx, 1)
	if len(dialogs) != 1 {
		t.Errorf("dialogs = %d, want reuse of the existing one", len(dialogs))
	}
}

func TestSendCreatesUserOnFirstContact(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"welcome"}, title: "t"}
	svc, store := newTestChat(t, provider)
	ctx := context.Background()

	if _, err := svc.Send(ctx, SendRequest{UserID: 42, Text: "hi", Lang: "ru"}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	user, err := store.Users().Get(ctx, 42)
	if err != nil {
		t.Fatalf("user row not created: %v", err)
	}
	if user.Lang != "ru" {
		t.Errorf("lang = %q, want ru", user.Lang)
	}
	if user.TrialLeft != domain.DefaultTrialRequests-1 {
		t.Errorf("trial_left = %d, want default minus the first request", user.TrialLeft)
	}
}

func TestSendQuotaExceeded(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"never"}, title: "t"}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 0)

	_, err := svc.Send(context.Background(), SendRequest{UserID: 1, Text: "hello"}, nil)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if provider.started {
		t.Error("provider called despite denied quota")
	}
}

func TestSendCappedPlanExhausted(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"never"}, title: "t"}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 0)

	ctx := context.Background()
	plan := &domain.Plan{Name: "start", MonthlyQuota: 2, IsActive: true}
	if err := store.Plans().Create(ctx, plan); err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if ok, err := store.Users().SetPlan(ctx, 1, plan.ID, fixedNow.AddDate(0, 0, 30)); err != nil || !ok {
		t.Fatalf("attach plan: ok=%v err=%v", ok, err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Usage().Increment(ctx, 1, fixedNow, 10); err != nil {
			t.Fatalf("seed usage: %v", err)
		}
	}

	_, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "hello"}, nil)
	if !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if provider.started {
		t.Error("provider called past the monthly ceiling")
	}
}

func TestSendBanned(t *testing.T) {
	provider := &fakeProvider{title: "t"}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 5)
	if err := store.Users().SetBanned(context.Background(), 1, true); err != nil {
		t.Fatalf("ban: %v", err)
	}

	_, err := svc.Send(context.Background(), SendRequest{UserID: 1, Text: "hello"}, nil)
	if !errors.Is(err, domain.ErrBanned) {
		t.Fatalf("err = %v, want ErrBanned", err)
	}
}

func TestSendPartialStreamPersisted(t *testing.T) {
	provider := &fakeProvider{
		fragments: []string{"partial ", "answer"},
		streamErr: fmt.Errorf("%w: upstream reset", domain.ErrProviderFailure),
		title:     "t",
	}
	svc, _ := newTestChat(t, provider)
	ctx := context.Background()

	reply, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "hello"}, nil)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}
	if reply == nil || !reply.Partial || reply.Text != "partial answer" {
		t.Fatalf("reply = %+v, want partial text", reply)
	}

	messages, err := svc.Messages(ctx, reply.DialogID, 1)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want user message and partial reply persisted", len(messages))
	}
	if messages[1].Content != "partial answer" {
		t.Errorf("persisted partial = %q", messages[1].Content)
	}
}

func TestSendStreamFailsBeforeOutput(t *testing.T) {
	provider := &fakeProvider{
		streamErr: fmt.Errorf("%w: connection refused", domain.ErrProviderFailure),
		title:     "t",
	}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 5)
	ctx := context.Background()

	_, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "hello"}, nil)
	if !errors.Is(err, domain.ErrProviderFailure) {
		t.Fatalf("err = %v, want ErrProviderFailure", err)
	}

	dialogs, _ := svc.Dialogs(ctx, 1)
	if len(dialogs) != 1 {
		t.Fatalf("dialogs = %d", len(dialogs))
	}
	messages, _ := svc.Messages(ctx, dialogs[0].ID, 1)
	if len(messages) != 1 || messages[0].Role != domain.MessageRoleUser {
		t.Errorf("messages = %+v, want only the user message to survive", messages)
	}
}

func TestSendGeneratesTitleOffTurn(t *testing.T) {
	provider := &fakeProvider{
		fragments: []string{"ok"},
		title:     "Weather talk",
		titled:    make(chan string, 1),
	}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 5)
	ctx := context.Background()

	reply, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "what's the weather", Lang: "en"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-provider.titled:
	case <-time.After(2 * time.Second):
		t.Fatal("title generation never ran")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		dialog, err := store.Dialogs().GetForUser(ctx, reply.DialogID, 1)
		if err != nil {
			t.Fatalf("get dialog: %v", err)
		}
		if dialog.Title == "Weather talk" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("title = %q, want generated title", dialog.Title)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTruncateHistory(t *testing.T) {
	msg := func(content string) openai.ChatMessage {
		return openai.ChatMessage{Role: "user", Content: content}
	}
	old := msg(strings.Repeat("a", 300)) // ~100 tokens
	mid := msg(strings.Repeat("b", 150)) // ~50 tokens
	new1 := msg(strings.Repeat("c", 90)) // 30 tokens

	tests := []struct {
		name   string
		msgs   []openai.ChatMessage
		budget int
		want   int
	}{
		{"all fit", []openai.ChatMessage{old, mid, new1}, 200, 3},
		{"oldest dropped first", []openai.ChatMessage{old, mid, new1}, 90, 2},
		{"only newest fits", []openai.ChatMessage{old, mid, new1}, 35, 1},
		{"newest kept even over budget", []openai.ChatMessage{old, mid, new1}, 5, 1},
		{"empty", nil, 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateHistory(tt.msgs, tt.budget)
			if len(got) != tt.want {
				t.Fatalf("kept %d messages, want %d", len(got), tt.want)
			}
			// Order is chronological and the kept slice is a suffix.
			if tt.want > 0 && got[len(got)-1].Content != tt.msgs[len(tt.msgs)-1].Content {
				t.Error("newest message missing from kept history")
			}
		})
	}
}

func TestDialogOwnership(t *testing.T) {
	provider := &fakeProvider{fragments: []string{"ok"}, title: "t"}
	svc, store := newTestChat(t, provider)
	seedUser(t, store, 1, 5)
	seedUser(t, store, 2, 5)
	ctx := context.Background()

	reply, err := svc.Send(ctx, SendRequest{UserID: 1, Text: "mine"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := svc.Messages(ctx, reply.DialogID, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign Messages err = %v, want ErrNotFound", err)
	}
	if err := svc.DeleteDialog(ctx, reply.DialogID, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign Delete err = %v, want ErrNotFound", err)
	}
	if err := svc.SetPinned(ctx, reply.DialogID, 2, true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign SetPinned err = %v, want ErrNotFound", err)
	}

	if err := svc.SetPinned(ctx, reply.DialogID, 1, true); err != nil {
		t.Fatalf("own SetPinned: %v", err)
	}
	if err := svc.DeleteDialog(ctx, reply.DialogID, 1); err != nil {
		t.Fatalf("own Delete: %v", err)
	}
	if _, err := svc.Messages(ctx, reply.DialogID, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("deleted dialog err = %v, want ErrNotFound", err)
	}
}
