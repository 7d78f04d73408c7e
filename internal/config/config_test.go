package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "scripts_dir: ./scripts\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	if _, err := FindConfig("/nonexistent/config.yaml"); err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: debug\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.ConfirmPolicy != PolicyAuto {
		t.Errorf("ConfirmPolicy = %q, want %q", cfg.ConfirmPolicy, PolicyAuto)
	}
	if cfg.DiscoveryMode != DiscoveryAuto {
		t.Errorf("DiscoveryMode = %q, want %q", cfg.DiscoveryMode, DiscoveryAuto)
	}
	if !cfg.Speech.Disabled {
		t.Error("speech should be disabled by default")
	}
	if cfg.Executor.TimeoutSec != 60 {
		t.Errorf("Executor.TimeoutSec = %d, want 60", cfg.Executor.TimeoutSec)
	}
	if cfg.MaxMatches != 5 {
		t.Errorf("MaxMatches = %d, want 5", cfg.MaxMatches)
	}
	if cfg.Listener.URL != "ws://localhost:17373" {
		t.Errorf("Listener.URL = %q", cfg.Listener.URL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	path := writeConfig(t, "reasoner:\n  api_key: ${SCRIPTVOICE_TEST_KEY}\n")
	t.Setenv("SCRIPTVOICE_TEST_KEY", "secret123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Reasoner.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.Reasoner.APIKey, "secret123")
	}
}

func TestLoad_KeepsDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, "reasoner:\n  provider: ollama\nspeech:\n  disabled: false\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Reasoner.Model != "qwen3:4b" {
		t.Errorf("Model = %q, want ollama default", cfg.Reasoner.Model)
	}
	if cfg.Speech.Disabled {
		t.Error("speech.disabled: false should be honoured")
	}
	if cfg.ConfirmPolicy != PolicyAuto {
		t.Errorf("ConfirmPolicy = %q, want %q", cfg.ConfirmPolicy, PolicyAuto)
	}
	if cfg.Executor.ScriptFlag != "-ScriptID" {
		t.Errorf("ScriptFlag = %q", cfg.Executor.ScriptFlag)
	}
}

func TestLoad_ModelFollowsProvider(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty file", "log_level: info\n", "gemini-2.5-flash"},
		{"ollama", "reasoner:\n  provider: ollama\n", "qwen3:4b"},
		{"explicit model", "reasoner:\n  provider: ollama\n  model: llama3.2\n", "llama3.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if cfg.Reasoner.Model != tt.want {
				t.Errorf("Model = %q, want %q", cfg.Reasoner.Model, tt.want)
			}
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := writeConfig(t, "scripts_dir: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvConfirmPolicy: " Voice ",
		EnvDiscoveryMode: "direct",
		EnvDisableTTS:    "0",
		EnvGeminiAPIKey:  "key",
		EnvLogLevel:      "trace",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.ApplyEnv(lookup)

	if cfg.ConfirmPolicy != PolicyVoice {
		t.Errorf("ConfirmPolicy = %q, want voice", cfg.ConfirmPolicy)
	}
	if cfg.DiscoveryMode != DiscoveryDirect {
		t.Errorf("DiscoveryMode = %q, want direct", cfg.DiscoveryMode)
	}
	if cfg.Speech.Disabled {
		t.Error("SCRIPTVOICE_DISABLE_TTS=0 should enable speech")
	}
	if cfg.Reasoner.APIKey != "key" {
		t.Errorf("APIKey = %q", cfg.Reasoner.APIKey)
	}
	if cfg.LogLevel != "trace" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"policy", func(c *Config) { c.ConfirmPolicy = "never" }},
		{"discovery", func(c *Config) { c.DiscoveryMode = "fuzzy" }},
		{"provider", func(c *Config) { c.Reasoner.Provider = "openai" }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
		{"scripts dir", func(c *Config) { c.ScriptsDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() = nil, want error")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{" debug ", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q", a.Value.String())
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/sv"

	if got := cfg.CatalogPath(); got != "/var/lib/sv/tools.json" {
		t.Errorf("CatalogPath = %q", got)
	}
	if got := cfg.IndexPath(); got != "/var/lib/sv/semantic_index.json" {
		t.Errorf("IndexPath = %q", got)
	}
	if got := cfg.MemoryDir(); got != "/var/lib/sv/memory" {
		t.Errorf("MemoryDir = %q", got)
	}
	cfg.Audit.Path = "/tmp/a.db"
	if got := cfg.AuditPath(); got != "/tmp/a.db" {
		t.Errorf("AuditPath = %q", got)
	}
}
