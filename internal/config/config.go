package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const credentialsFile = "token.json"

// Credentials are the resolved API handles. They are loaded once and passed
// explicitly to the constructors that need them; nothing re-reads them from
// process-wide state afterwards.
type Credentials struct {
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	BotToken    string `json:"bot_token"`
	OpenAIToken string `json:"openai_token"`
}

type Config struct {
	DataDir     string
	Credentials Credentials
	LLMBaseURL  string
	LLMModel    string
}

// Load resolves the data directory and credentials. Precedence per value:
// environment (including a .env file in the working directory), then
// token.json next to the data directory, then token.json in the working
// directory.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		DataDir:    dataDir(),
		LLMBaseURL: "https://api.openai.com/v1",
		LLMModel:   "gpt-3.5-turbo",
	}

	creds, err := loadCredentialsFile(cfg.DataDir)
	if err != nil {
		return Config{}, err
	}
	cfg.Credentials = creds

	if raw := strings.TrimSpace(os.Getenv("TGSEEK_API_ID")); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			return Config{}, errors.New("TGSEEK_API_ID must be an integer")
		}
		cfg.Credentials.APIID = parsed
	}
	if v := strings.TrimSpace(os.Getenv("TGSEEK_API_HASH")); v != "" {
		cfg.Credentials.APIHash = v
	}
	if v := strings.TrimSpace(os.Getenv("TGSEEK_BOT_TOKEN")); v != "" {
		cfg.Credentials.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Credentials.OpenAIToken = v
	}
	if v := strings.TrimSpace(os.Getenv("TGSEEK_LLM_BASE_URL")); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TGSEEK_LLM_MODEL")); v != "" {
		cfg.LLMModel = v
	}
	return cfg, nil
}

func (c Config) MessagesDir() string {
	return filepath.Join(c.DataDir, "messages")
}

func (c Config) ModelsDir() string {
	return filepath.Join(c.DataDir, "models")
}

func (c Config) SessionPath(name string) string {
	return filepath.Join(c.DataDir, name+".session.json")
}

func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, "app.db")
}

func (c Config) TelegramConfigured() bool {
	return c.Credentials.APIID > 0 && strings.TrimSpace(c.Credentials.APIHash) != ""
}

func dataDir() string {
	if envDir := strings.TrimSpace(os.Getenv("TGSEEK_DATA_DIR")); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tgseek"
	}
	return filepath.Join(home, ".tgseek")
}

func loadCredentialsFile(dataDir string) (Credentials, error) {
	for _, path := range []string{filepath.Join(dataDir, credentialsFile), credentialsFile} {
		raw, err := os.ReadFile(filepath.Clean(path))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Credentials{}, err
		}
		var creds Credentials
		if err := json.Unmarshal(raw, &creds); err != nil {
			return Credentials{}, errors.New("invalid " + credentialsFile + ": " + err.Error())
		}
		return creds, nil
	}
	return Credentials{}, nil
}
