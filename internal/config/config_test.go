package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
whatsapp:
  phone_number_id: "1099999"
  access_token: "token-123"
  verify_token: "verify-123"
  owner_id: "628111"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseAppliesDefaults(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	if cfg.WhatsApp.APIBaseURL != "https://graph.facebook.com" || cfg.WhatsApp.APIVersion != "v19.0" {
		t.Fatalf("api defaults = %q %q", cfg.WhatsApp.APIBaseURL, cfg.WhatsApp.APIVersion)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr default = %q", cfg.Server.Addr)
	}
	if cfg.Bot.Timezone != "UTC" || cfg.Bot.WindowHours != 12 || cfg.Bot.ReplyTimeout != "5m" {
		t.Fatalf("bot defaults = %+v", cfg.Bot)
	}
	if cfg.Storage.Path != "./wagenda.db" {
		t.Fatalf("storage default = %q", cfg.Storage.Path)
	}
}

func TestParseJSONFile(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json", `{
	  "whatsapp": {
	    "phone_number_id": "1099999",
	    "access_token": "token-123",
	    "verify_token": "verify-123",
	    "owner_id": "628111"
	  },
	  "bot": {"timezone": "Asia/Jakarta", "window_hours": 6}
	}`))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Bot.Timezone != "Asia/Jakarta" || cfg.Bot.WindowHours != 6 {
		t.Fatalf("bot = %+v", cfg.Bot)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML+`
serverr:
  addr: ":9090"
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestParseMissingRequiredFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", `
whatsapp:
  phone_number_id: "1099999"
`))
	_, err := m.Parse()
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
	if !strings.Contains(err.Error(), "access_token") || !strings.Contains(err.Error(), "owner_id") {
		t.Fatalf("error does not name missing fields: %v", err)
	}
}

func TestParseRejectsBadTimezone(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML+`
bot:
  timezone: "Mars/Olympus"
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML+`
bot:
  reply_timeout: "five minutes"
`))
	if _, err := m.Parse(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("WAGENDA_WA_ACCESS_TOKEN", "env-token")
	t.Setenv("WAGENDA_ADMIN_TOKEN", "env-admin")

	m := NewManager(writeConfig(t, "config.yaml", minimalYAML))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.WhatsApp.AccessToken != "env-token" {
		t.Fatalf("access token = %q, want env override", cfg.WhatsApp.AccessToken)
	}
	if cfg.Server.AdminToken != "env-admin" {
		t.Fatalf("admin token = %q, want env override", cfg.Server.AdminToken)
	}
}

func TestLoadCommitsAndGet(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", minimalYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d.Seconds() != 90 {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "nope"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}
