// Package config handles scriptvoice configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Confirmation policies applied to medium-risk tools.
const (
	PolicyPrompt = "prompt"
	PolicyAuto   = "auto"
	PolicyVoice  = "voice"
)

// Discovery modes.
const (
	DiscoveryAuto   = "auto"
	DiscoveryDirect = "direct"
)

// Reasoning providers.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Environment variables consulted by [ApplyEnv].
const (
	EnvConfirmPolicy = "SCRIPTVOICE_CONFIRM_POLICY"
	EnvDiscoveryMode = "SCRIPTVOICE_DISCOVERY_MODE"
	EnvDisableTTS    = "SCRIPTVOICE_DISABLE_TTS"
	EnvGeminiAPIKey  = "SCRIPTVOICE_GEMINI_API_KEY"
	EnvLogLevel      = "SCRIPTVOICE_LOG_LEVEL"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given: ./config.yaml, ~/.config/scriptvoice/config.yaml,
// /etc/scriptvoice/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "scriptvoice", "config.yaml"))
	}

	paths = append(paths, "/etc/scriptvoice/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all scriptvoice configuration.
type Config struct {
	ScriptsDir       string `yaml:"scripts_dir"`
	DataDir          string `yaml:"data_dir"`
	ScriptExtension  string `yaml:"script_extension"`
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	ConfirmPolicy    string `yaml:"confirm_policy"`
	DiscoveryMode    string `yaml:"discovery_mode"`
	MaxMatches       int    `yaml:"max_matches"`
	SystemPromptFile string `yaml:"system_prompt_file"`

	Speech   SpeechConfig   `yaml:"speech"`
	Executor ExecutorConfig `yaml:"executor"`
	Reasoner ReasonerConfig `yaml:"reasoner"`
	Listener ListenerConfig `yaml:"listener"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Audit    AuditConfig    `yaml:"audit"`
	Watch    WatchConfig    `yaml:"watch"`
}

// SpeechConfig controls spoken feedback.
type SpeechConfig struct {
	// Disabled routes all speech to the log instead of a synthesizer.
	Disabled bool `yaml:"disabled"`
	// Command is the argv prefix of the synthesizer; the text to speak is
	// appended as the final argument.
	Command []string `yaml:"command"`
}

// ExecutorConfig describes how tool scripts are launched.
type ExecutorConfig struct {
	// Command is the argv prefix of the script runner. The runner must
	// print a JSON envelope {exit_code, stdout, stderr} on stdout.
	Command        []string `yaml:"command"`
	ScriptFlag     string   `yaml:"script_flag"`
	ParamsFlag     string   `yaml:"params_flag"`
	TimeoutSec     int      `yaml:"timeout_sec"`
	MaxOutputBytes int      `yaml:"max_output_bytes"`
	WorkingDir     string   `yaml:"working_dir"`
}

// Timeout returns the per-invocation execution timeout.
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ReasonerConfig selects and configures the reasoning service.
type ReasonerConfig struct {
	Provider string `yaml:"provider"` // gemini, ollama
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // ollama only
}

// ListenerConfig configures the voice-transcript WebSocket listener.
type ListenerConfig struct {
	URL          string `yaml:"url"`
	HeartbeatSec int    `yaml:"heartbeat_sec"`
	ReconnectSec int    `yaml:"reconnect_sec"`
}

// MQTTConfig configures the optional event exporter. Empty Broker disables it.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker has been set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// AuditConfig controls the SQLite dispatch journal.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// WatchConfig controls the scripts directory watcher.
type WatchConfig struct {
	Enabled    bool `yaml:"enabled"`
	DebounceMs int  `yaml:"debounce_ms"`
}

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded before parsing and unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := baseConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration: auto confirmation, automatic
// discovery, speech disabled, Gemini reasoning.
func Default() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}

// baseConfig holds the defaults a YAML file may override. Values that
// depend on other fields, such as the provider's model, are left to
// applyDefaults so they see the parsed file.
func baseConfig() *Config {
	return &Config{
		ScriptsDir:    "scripts",
		DataDir:       "data",
		ConfirmPolicy: PolicyAuto,
		DiscoveryMode: DiscoveryAuto,
		Speech:        SpeechConfig{Disabled: true},
		Audit:         AuditConfig{Enabled: true},
	}
}

// applyDefaults fills zero values left after unmarshalling.
func (c *Config) applyDefaults() {
	if c.ScriptExtension == "" {
		c.ScriptExtension = ".ps1"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.ConfirmPolicy == "" {
		c.ConfirmPolicy = PolicyAuto
	}
	if c.DiscoveryMode == "" {
		c.DiscoveryMode = DiscoveryAuto
	}
	if c.MaxMatches <= 0 {
		c.MaxMatches = 5
	}
	if len(c.Executor.Command) == 0 {
		c.Executor.Command = []string{"pwsh", "-NoProfile", "-File", "run-script.ps1"}
	}
	if c.Executor.ScriptFlag == "" {
		c.Executor.ScriptFlag = "-ScriptID"
	}
	if c.Executor.ParamsFlag == "" {
		c.Executor.ParamsFlag = "-ParamsStr"
	}
	if c.Executor.TimeoutSec <= 0 {
		c.Executor.TimeoutSec = 60
	}
	if c.Executor.MaxOutputBytes <= 0 {
		c.Executor.MaxOutputBytes = 100 * 1024
	}
	if c.Reasoner.Provider == "" {
		c.Reasoner.Provider = ProviderGemini
	}
	if c.Reasoner.Model == "" {
		switch c.Reasoner.Provider {
		case ProviderOllama:
			c.Reasoner.Model = "qwen3:4b"
		default:
			c.Reasoner.Model = "gemini-2.5-flash"
		}
	}
	if c.Listener.URL == "" {
		c.Listener.URL = "ws://localhost:17373"
	}
	if c.Listener.HeartbeatSec <= 0 {
		c.Listener.HeartbeatSec = 5
	}
	if c.Listener.ReconnectSec <= 0 {
		c.Listener.ReconnectSec = 5
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "scriptvoice"
	}
	if c.Watch.DebounceMs <= 0 {
		c.Watch.DebounceMs = 500
	}
}

// ApplyEnv overlays environment overrides onto c. lookup is normally
// [os.LookupEnv]; tests pass a map-backed function.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvConfirmPolicy); ok && v != "" {
		c.ConfirmPolicy = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvDiscoveryMode); ok && v != "" {
		c.DiscoveryMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvDisableTTS); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Speech.Disabled = b
		}
	}
	if v, ok := lookup(EnvGeminiAPIKey); ok && v != "" {
		c.Reasoner.APIKey = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
}

// Validate reports configuration values that cannot be acted on.
func (c *Config) Validate() error {
	switch c.ConfirmPolicy {
	case PolicyPrompt, PolicyAuto, PolicyVoice:
	default:
		return fmt.Errorf("confirm_policy %q invalid (valid: prompt, auto, voice)", c.ConfirmPolicy)
	}
	switch c.DiscoveryMode {
	case DiscoveryAuto, DiscoveryDirect:
	default:
		return fmt.Errorf("discovery_mode %q invalid (valid: auto, direct)", c.DiscoveryMode)
	}
	switch c.Reasoner.Provider {
	case ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("reasoner.provider %q invalid (valid: gemini, ollama)", c.Reasoner.Provider)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := ParseLogFormat(c.LogFormat); err != nil {
		return err
	}
	if c.ScriptsDir == "" {
		return fmt.Errorf("scripts_dir must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	return nil
}

// MemoryDir is where action memory keeps its JSON files.
func (c *Config) MemoryDir() string { return filepath.Join(c.DataDir, "memory") }

// CatalogPath is the generated tool catalog file.
func (c *Config) CatalogPath() string { return filepath.Join(c.DataDir, "tools.json") }

// IndexPath is the persisted semantic index snapshot.
func (c *Config) IndexPath() string { return filepath.Join(c.DataDir, "semantic_index.json") }

// AuditPath is the SQLite dispatch journal.
func (c *Config) AuditPath() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.DataDir, "audit.db")
}
