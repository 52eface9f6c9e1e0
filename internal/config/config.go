// Package config loads the daemon configuration from a JSON file or from
// SENSEI_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level sensei configuration.
type Config struct {
	Daemon     DaemonConfig    `json:"daemon"`
	OpenAI     OpenAIConfig    `json:"openai"`
	Chain      ChainConfig     `json:"chain"`
	Brian      BrianConfig     `json:"brian"`
	Connectors ConnectorConfig `json:"connectors"`
	API        APIConfig       `json:"api"`
}

// DaemonConfig holds service-level settings.
type DaemonConfig struct {
	DataDir      string `json:"data_dir"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	// TicketTTLMinutes bounds how long unpolled tickets are kept.
	TicketTTLMinutes int    `json:"ticket_ttl_minutes,omitempty"`
	LogLevel         string `json:"log_level,omitempty"`
}

// OpenAIConfig holds the model provider settings.
type OpenAIConfig struct {
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url,omitempty"`
	Model        string `json:"model,omitempty"`
	WhisperModel string `json:"whisper_model,omitempty"`
	TTSVoice     string `json:"tts_voice,omitempty"`
}

// ChainConfig holds the onchain endpoints.
type ChainConfig struct {
	RPCURL   string `json:"rpc_url,omitempty"`
	RelayURL string `json:"relay_url,omitempty"`
	RelayKey string `json:"relay_key,omitempty"`
	PriceURL string `json:"price_url,omitempty"`
	// PriceTokens are refreshed by the maintenance job.
	PriceTokens []string `json:"price_tokens,omitempty"`
}

// BrianConfig holds the Brian intent API settings.
type BrianConfig struct {
	APIKey string `json:"api_key,omitempty"`
	URL    string `json:"url,omitempty"`
}

// ConnectorConfig holds settings for external platform connectors.
type ConnectorConfig struct {
	Telegram *TelegramConfig            `json:"telegram,omitempty"`
	Slack    *SlackConfig               `json:"slack,omitempty"`
	Webhooks map[string]WebhookEndpoint `json:"webhooks,omitempty"`
}

// WebhookEndpoint holds per-endpoint webhook auth settings.
type WebhookEndpoint struct {
	Secret      string `json:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
}

// TelegramConfig holds Telegram bot settings.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// SlackConfig holds Slack socket-mode settings.
type SlackConfig struct {
	BotToken string `json:"bot_token"`
	AppToken string `json:"app_token"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key,omitempty"`
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from SENSEI_* environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Daemon: DaemonConfig{
			DataDir:          getenv("SENSEI_DATA_DIR", "/data"),
			SystemPrompt:     os.Getenv("SENSEI_SYSTEM_PROMPT"),
			TicketTTLMinutes: getenvInt("SENSEI_TICKET_TTL_MINUTES", 0),
			LogLevel:         os.Getenv("SENSEI_LOG_LEVEL"),
		},
		OpenAI: OpenAIConfig{
			APIKey:       os.Getenv("SENSEI_OPENAI_API_KEY"),
			BaseURL:      os.Getenv("SENSEI_OPENAI_BASE_URL"),
			Model:        os.Getenv("SENSEI_MODEL"),
			WhisperModel: os.Getenv("SENSEI_WHISPER_MODEL"),
			TTSVoice:     os.Getenv("SENSEI_TTS_VOICE"),
		},
		Chain: ChainConfig{
			RPCURL:   os.Getenv("SENSEI_RPC_URL"),
			RelayURL: os.Getenv("SENSEI_RELAY_URL"),
			RelayKey: os.Getenv("SENSEI_RELAY_KEY"),
			PriceURL: os.Getenv("SENSEI_PRICE_URL"),
		},
		Brian: BrianConfig{
			APIKey: os.Getenv("SENSEI_BRIAN_API_KEY"),
			URL:    os.Getenv("SENSEI_BRIAN_URL"),
		},
		API: APIConfig{
			Host: getenv("SENSEI_API_HOST", "0.0.0.0"),
			Port: getenvInt("SENSEI_API_PORT", 8080),
			Key:  os.Getenv("SENSEI_API_KEY"),
		},
	}

	if tokens := os.Getenv("SENSEI_PRICE_TOKENS"); tokens != "" {
		cfg.Chain.PriceTokens = splitList(tokens)
	}

	if token := os.Getenv("SENSEI_TELEGRAM_TOKEN"); token != "" {
		cfg.Connectors.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("SENSEI_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: SENSEI_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Connectors.Telegram.AllowFrom = parsed
		}
	}

	if bot := os.Getenv("SENSEI_SLACK_BOT_TOKEN"); bot != "" {
		cfg.Connectors.Slack = &SlackConfig{
			BotToken: bot,
			AppToken: os.Getenv("SENSEI_SLACK_APP_TOKEN"),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o"
	}
	if c.Daemon.TicketTTLMinutes <= 0 {
		c.Daemon.TicketTTLMinutes = 30
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Daemon.DataDir == "" {
		errs = append(errs, "daemon.data_dir is required")
	}
	if c.OpenAI.APIKey == "" {
		errs = append(errs, "openai.api_key is required")
	}
	if c.Connectors.Telegram != nil && c.Connectors.Telegram.Token == "" {
		errs = append(errs, "connectors.telegram.token is required")
	}
	if c.Connectors.Slack != nil {
		if c.Connectors.Slack.BotToken == "" {
			errs = append(errs, "connectors.slack.bot_token is required")
		}
		if c.Connectors.Slack.AppToken == "" {
			errs = append(errs, "connectors.slack.app_token is required")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt64List(s string) ([]int64, error) {
	var out []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}
