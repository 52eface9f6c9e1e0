package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sensei.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `{
		"daemon": {"data_dir": "/tmp/sensei", "system_prompt": "be kind"},
		"openai": {"api_key": "sk-test", "model": "gpt-4o-mini"},
		"chain": {"rpc_url": "https://rpc.example", "price_tokens": ["ethereum"]},
		"api": {"port": 9090}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("expected explicit model kept, got %q", cfg.OpenAI.Model)
	}
	if cfg.API.Port != 9090 || cfg.API.Host != "0.0.0.0" {
		t.Errorf("expected port 9090 with default host, got %s:%d", cfg.API.Host, cfg.API.Port)
	}
	if cfg.Daemon.TicketTTLMinutes != 30 {
		t.Errorf("expected default ticket TTL, got %d", cfg.Daemon.TicketTTLMinutes)
	}
}

func TestLoadMissingFields(t *testing.T) {
	path := writeConfig(t, `{"daemon": {"data_dir": ""}}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "data_dir") || !strings.Contains(err.Error(), "api_key") {
		t.Errorf("expected both missing fields named, got %v", err)
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestTelegramTokenRequired(t *testing.T) {
	path := writeConfig(t, `{
		"daemon": {"data_dir": "/tmp/sensei"},
		"openai": {"api_key": "sk-test"},
		"connectors": {"telegram": {"token": ""}}
	}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected telegram token validation failure")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SENSEI_DATA_DIR", "/tmp/sensei-env")
	t.Setenv("SENSEI_OPENAI_API_KEY", "sk-env")
	t.Setenv("SENSEI_API_PORT", "7070")
	t.Setenv("SENSEI_PRICE_TOKENS", "ethereum, usd-coin")
	t.Setenv("SENSEI_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("SENSEI_TELEGRAM_ALLOW_FROM", "123, 456")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load from env: %v", err)
	}
	if cfg.Daemon.DataDir != "/tmp/sensei-env" {
		t.Errorf("unexpected data dir %q", cfg.Daemon.DataDir)
	}
	if cfg.OpenAI.Model != "gpt-4o" {
		t.Errorf("expected default model, got %q", cfg.OpenAI.Model)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.API.Port)
	}
	if len(cfg.Chain.PriceTokens) != 2 || cfg.Chain.PriceTokens[1] != "usd-coin" {
		t.Errorf("unexpected price tokens %v", cfg.Chain.PriceTokens)
	}
	if cfg.Connectors.Telegram == nil || len(cfg.Connectors.Telegram.AllowFrom) != 2 {
		t.Errorf("unexpected telegram config %+v", cfg.Connectors.Telegram)
	}
}

func TestLoadFromEnvBadAllowList(t *testing.T) {
	t.Setenv("SENSEI_DATA_DIR", "/tmp/sensei-env")
	t.Setenv("SENSEI_OPENAI_API_KEY", "sk-env")
	t.Setenv("SENSEI_TELEGRAM_TOKEN", "tg-token")
	t.Setenv("SENSEI_TELEGRAM_ALLOW_FROM", "123,abc")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for bad allow list")
	}
}
