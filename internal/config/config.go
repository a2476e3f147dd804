// Package config provides the configuration schema, loader, and provider
// registry for the voxgate voice gateway.
package config

// LogLevel controls log verbosity for the voxgate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler used for server logs.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure for voxgate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Session   SessionConfig   `yaml:"session"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds network and logging settings for the voxgate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects text or JSON log output.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// RedisConfig holds the connection settings for the Redis instance backing
// connection routing, cross-node event streams, and device state.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates against Redis. Empty means no AUTH.
	Password string `yaml:"password"`

	// DB selects the logical Redis database.
	DB int `yaml:"db"`
}

// GatewayConfig tunes the WebSocket gateway.
type GatewayConfig struct {
	// ServerID identifies this node in the cross-node routing tables.
	// Empty means a random id is generated at startup.
	ServerID string `yaml:"server_id"`

	// MaxConnections caps concurrent WebSocket sessions on this node.
	MaxConnections int `yaml:"max_connections"`

	// IdleTimeoutSeconds is how long a session may sit without traffic
	// before the monitor evicts it.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`

	// MonitorIntervalSeconds is how often the idle monitor runs.
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds"`

	// AuthToken is the bearer token expected on new connections. Empty
	// disables token validation.
	AuthToken string `yaml:"auth_token"`
}

// SessionConfig holds per-session dialogue defaults.
type SessionConfig struct {
	// Language is the BCP-47 dialogue language used for sentence chunking
	// and recognition defaults (e.g., "zh-CN", "en-US").
	Language string `yaml:"language"`
}

// ProvidersConfig declares the provider chains for each pipeline stage.
// For ASR, TTS, and the two LLM slots the first entry is the primary and any
// further entries are fallbacks tried in order behind circuit breakers.
type ProvidersConfig struct {
	ASR []ProviderEntry `yaml:"asr"`
	TTS []ProviderEntry `yaml:"tts"`
	LLM LLMConfig       `yaml:"llm"`
	VAD VADConfig       `yaml:"vad"`
}

// LLMConfig declares the two model slots the dialogue pipeline uses.
type LLMConfig struct {
	// Lite is the chain of fast models used for intent classification.
	Lite []ProviderEntry `yaml:"lite"`

	// Think is the chain of models used for long-form generation.
	Think []ProviderEntry `yaml:"think"`
}

// VADConfig tunes the voice activity detector.
type VADConfig struct {
	// Aggressiveness selects the detection mode in [0, 3]; higher values
	// are more likely to classify a frame as speech.
	Aggressiveness int `yaml:"aggressiveness"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "volc",
	// "deepgram", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	// Values like "${DEEPGRAM_API_KEY}" are expanded from the environment
	// at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g.,
	// "gpt-4o-mini", "nova-3").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by
	// the standard fields above. Values may be strings, numbers, booleans,
	// or nested maps.
	Options map[string]any `yaml:"options"`
}

// StringOption returns the named option as a string, or def when absent or
// not a string.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// IntOption returns the named option as an int, or def when absent. YAML
// decodes integers as int, so only that case is handled.
func (e ProviderEntry) IntOption(key string, def int) int {
	if v, ok := e.Options[key].(int); ok {
		return v
	}
	return def
}

// StorageConfig holds the S3-compatible object storage settings used by the
// text-to-speech upload endpoint.
type StorageConfig struct {
	// Bucket is the target bucket name. Empty disables uploads.
	Bucket string `yaml:"bucket"`

	// Region is the bucket region.
	Region string `yaml:"region"`

	// Endpoint overrides the S3 endpoint for S3-compatible stores
	// (e.g., MinIO). Empty means AWS.
	Endpoint string `yaml:"endpoint"`

	// PublicBaseURL is the URL prefix under which uploaded objects are
	// reachable. Object keys are appended to it.
	PublicBaseURL string `yaml:"public_base_url"`
}
