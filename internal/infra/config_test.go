package infra

import "testing"

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigRequiresBotToken(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when TELEGRAM_BOT_TOKEN is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TRIAL_REQUESTS", "")
	t.Setenv("OPENAI_MODEL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.TrialRequests != 30 {
		t.Fatalf("TrialRequests mismatch: got %d want 30", cfg.TrialRequests)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("OpenAIModel mismatch: got %q", cfg.OpenAIModel)
	}
	if cfg.MaxContextTokens != 8192 {
		t.Fatalf("MaxContextTokens mismatch: got %d", cfg.MaxContextTokens)
	}
}

func TestLoadConfigParsesAdminIDs(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_USER_IDS", "42, 1007,  ,99")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.AdminUserIDs) != 3 {
		t.Fatalf("AdminUserIDs mismatch: %#v", cfg.AdminUserIDs)
	}
	if !cfg.IsAdmin(1007) {
		t.Fatal("expected 1007 to be admin")
	}
	if cfg.IsAdmin(7) {
		t.Fatal("did not expect 7 to be admin")
	}
}
