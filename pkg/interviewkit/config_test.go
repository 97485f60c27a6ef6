package interviewkit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prepdeck/interviewkit/pkg/voice"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
backend:
  base_url: https://api.example.test
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.DedupWindowMS != 5000 {
		t.Fatalf("dedup window = %d, want default 5000", cfg.Session.DedupWindowMS)
	}
	if cfg.Session.PollIntervalMS != 10000 {
		t.Fatalf("poll interval = %d, want default 10000", cfg.Session.PollIntervalMS)
	}
	if cfg.Voice.Provider != "room" {
		t.Fatalf("voice provider = %q, want default room", cfg.Voice.Provider)
	}
	if !cfg.Privacy.RedactPII {
		t.Fatal("redact_pii should default to true")
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-123")
	path := writeConfig(t, `
backend:
  base_url: https://api.example.test
  api_key: ${TEST_API_KEY}
voice:
  provider: deepgram
  settings:
    api_key: ${TEST_API_KEY}
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Backend.APIKey != "sk-123" {
		t.Fatalf("backend api key = %q, want expanded value", cfg.Backend.APIKey)
	}
	if got := cfg.Voice.Settings["api_key"]; got != "sk-123" {
		t.Fatalf("voice settings api key = %v, want expanded value", got)
	}
}

func TestLoadConfigRequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
log_level: debug
`)
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for missing backend.base_url")
	}
}

func TestTransportRegistryUnknownProvider(t *testing.T) {
	r := DefaultTransportRegistry()
	if _, err := r.Build("carrier-pigeon", Config{}, voice.Grant{}, nil); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}

func TestTransportRegistryBuildsMock(t *testing.T) {
	r := DefaultTransportRegistry()
	tr, err := r.Build("Mock", Config{}, voice.Grant{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tr.Name() != "mock" {
		t.Fatalf("transport name = %q, want mock", tr.Name())
	}
}
