package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCredentialsFromFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TGSEEK_DATA_DIR", dataDir)
	t.Setenv("TGSEEK_API_ID", "")
	t.Setenv("TGSEEK_API_HASH", "")
	t.Setenv("TGSEEK_BOT_TOKEN", "")
	t.Setenv("OPENAI_API_KEY", "")

	raw := `{"api_id": 12345, "api_hash": "abc", "bot_token": "bot:token", "openai_token": "sk-test"}`
	if err := os.WriteFile(filepath.Join(dataDir, "token.json"), []byte(raw), 0o600); err != nil {
		t.Fatalf("write token.json: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.APIID != 12345 || cfg.Credentials.APIHash != "abc" {
		t.Fatalf("credentials = %+v", cfg.Credentials)
	}
	if cfg.Credentials.BotToken != "bot:token" || cfg.Credentials.OpenAIToken != "sk-test" {
		t.Fatalf("tokens = %+v", cfg.Credentials)
	}
	if !cfg.TelegramConfigured() {
		t.Fatal("TelegramConfigured = false")
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TGSEEK_DATA_DIR", dataDir)
	raw := `{"api_id": 1, "api_hash": "from-file"}`
	if err := os.WriteFile(filepath.Join(dataDir, "token.json"), []byte(raw), 0o600); err != nil {
		t.Fatalf("write token.json: %v", err)
	}
	t.Setenv("TGSEEK_API_ID", "999")
	t.Setenv("TGSEEK_API_HASH", "from-env")
	t.Setenv("TGSEEK_LLM_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("TGSEEK_LLM_MODEL", "local-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.APIID != 999 || cfg.Credentials.APIHash != "from-env" {
		t.Fatalf("environment did not win: %+v", cfg.Credentials)
	}
	if cfg.LLMBaseURL != "http://localhost:8080/v1" || cfg.LLMModel != "local-model" {
		t.Fatalf("llm settings = %q %q", cfg.LLMBaseURL, cfg.LLMModel)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TGSEEK_DATA_DIR", dataDir)

	t.Setenv("TGSEEK_API_ID", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric TGSEEK_API_ID")
	}
	t.Setenv("TGSEEK_API_ID", "")

	if err := os.WriteFile(filepath.Join(dataDir, "token.json"), []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write token.json: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid token.json")
	}
}

func TestPaths(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("TGSEEK_DATA_DIR", dataDir)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MessagesDir() != filepath.Join(dataDir, "messages") {
		t.Fatalf("MessagesDir = %q", cfg.MessagesDir())
	}
	if cfg.ModelsDir() != filepath.Join(dataDir, "models") {
		t.Fatalf("ModelsDir = %q", cfg.ModelsDir())
	}
	if cfg.SessionPath("user") != filepath.Join(dataDir, "user.session.json") {
		t.Fatalf("SessionPath = %q", cfg.SessionPath("user"))
	}
	if cfg.DBPath() != filepath.Join(dataDir, "app.db") {
		t.Fatalf("DBPath = %q", cfg.DBPath())
	}
}
