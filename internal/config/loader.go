package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"volc", "deepgram"},
	"tts": {"volc", "elevenlabs"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Environment references like "${VAR}" in the file are expanded
// before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	// Secrets come in as "${VAR}" placeholders.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Gateway.MaxConnections == 0 {
		cfg.Gateway.MaxConnections = 1000
	}
	if cfg.Gateway.IdleTimeoutSeconds == 0 {
		cfg.Gateway.IdleTimeoutSeconds = 3600
	}
	if cfg.Gateway.MonitorIntervalSeconds == 0 {
		cfg.Gateway.MonitorIntervalSeconds = 30
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = "zh-CN"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Gateway
	if cfg.Gateway.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("gateway.max_connections %d must not be negative", cfg.Gateway.MaxConnections))
	}
	if cfg.Gateway.IdleTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("gateway.idle_timeout_seconds %d must not be negative", cfg.Gateway.IdleTimeoutSeconds))
	}

	// VAD
	if a := cfg.Providers.VAD.Aggressiveness; a < 0 || a > 3 {
		errs = append(errs, fmt.Errorf("providers.vad.aggressiveness %d is out of range [0, 3]", a))
	}

	// Provider chains
	errs = append(errs, validateChain("providers.asr", "asr", cfg.Providers.ASR)...)
	errs = append(errs, validateChain("providers.tts", "tts", cfg.Providers.TTS)...)
	errs = append(errs, validateChain("providers.llm.lite", "llm", cfg.Providers.LLM.Lite)...)
	errs = append(errs, validateChain("providers.llm.think", "llm", cfg.Providers.LLM.Think)...)

	// Chat mode needs all three stages; warn rather than fail so
	// transcriptions-only or speech-only deployments stay valid.
	if len(cfg.Providers.ASR) == 0 {
		slog.Warn("providers.asr is empty; chat and transcriptions modes will be unavailable")
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("providers.tts is empty; chat and speech modes will be unavailable")
	}
	if len(cfg.Providers.LLM.Think) == 0 {
		slog.Warn("providers.llm.think is empty; chat mode will be unavailable")
	}
	if len(cfg.Providers.LLM.Lite) == 0 && len(cfg.Providers.LLM.Think) > 0 {
		slog.Warn("providers.llm.lite is empty; the think chain will also serve intent classification")
	}

	// Storage
	if cfg.Storage.Bucket != "" && cfg.Storage.PublicBaseURL == "" {
		errs = append(errs, errors.New("storage.public_base_url is required when storage.bucket is set"))
	}

	return errors.Join(errs...)
}

// validateChain checks one provider fallback chain: every entry needs a name
// and names must not repeat within the chain.
func validateChain(prefix, kind string, chain []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(chain))
	for i, entry := range chain {
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s[%d].name is required", prefix, i))
			continue
		}
		if prev, ok := seen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s[%d].name %q is a duplicate of %s[%d]", prefix, i, entry.Name, prefix, prev))
		}
		seen[entry.Name] = i
		validateProviderName(kind, entry.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
