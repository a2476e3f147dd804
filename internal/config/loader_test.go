package config

import (
	"strings"
	"testing"
)

const fullConfig = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
redis:
  addr: "redis.internal:6379"
  db: 2
gateway:
  server_id: "node-a"
  max_connections: 500
  idle_timeout_seconds: 1800
session:
  language: en-US
providers:
  vad:
    aggressiveness: 2
  asr:
    - name: volc
      api_key: tok
      options:
        app_id: app1
        cluster: volcengine_streaming
    - name: deepgram
      api_key: dg
      model: nova-3
  tts:
    - name: volc
      api_key: tok
      options:
        app_id: app1
        cluster: volcano_tts
  llm:
    lite:
      - name: openai
        api_key: sk-1
        model: gpt-4o-mini
    think:
      - name: openai
        api_key: sk-1
        model: gpt-4o
storage:
  bucket: voxgate-audio
  region: us-east-1
  public_base_url: "https://cdn.example.com"
`

func TestLoadFromReaderFull(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(fullConfig))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug || cfg.Server.LogFormat != LogFormatJSON {
		t.Errorf("log settings = %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
	if cfg.Redis.Addr != "redis.internal:6379" || cfg.Redis.DB != 2 {
		t.Errorf("redis = %+v", cfg.Redis)
	}
	if cfg.Gateway.ServerID != "node-a" || cfg.Gateway.MaxConnections != 500 {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if len(cfg.Providers.ASR) != 2 || cfg.Providers.ASR[1].Name != "deepgram" {
		t.Errorf("asr chain = %+v", cfg.Providers.ASR)
	}
	if got := cfg.Providers.ASR[0].StringOption("cluster", ""); got != "volcengine_streaming" {
		t.Errorf("asr cluster option = %q", got)
	}
	if cfg.Providers.LLM.Think[0].Model != "gpt-4o" {
		t.Errorf("think model = %q", cfg.Providers.LLM.Think[0].Model)
	}
	if cfg.Storage.Bucket != "voxgate-audio" {
		t.Errorf("storage bucket = %q", cfg.Storage.Bucket)
	}
}

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("default listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("default log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.LogFormat != LogFormatText {
		t.Errorf("default log_format = %q", cfg.Server.LogFormat)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("default redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Gateway.MaxConnections != 1000 {
		t.Errorf("default max_connections = %d", cfg.Gateway.MaxConnections)
	}
	if cfg.Gateway.IdleTimeoutSeconds != 3600 {
		t.Errorf("default idle_timeout_seconds = %d", cfg.Gateway.IdleTimeoutSeconds)
	}
	if cfg.Gateway.MonitorIntervalSeconds != 30 {
		t.Errorf("default monitor_interval_seconds = %d", cfg.Gateway.MonitorIntervalSeconds)
	}
	if cfg.Session.Language != "zh-CN" {
		t.Errorf("default language = %q", cfg.Session.Language)
	}
}

func TestLoadFromReaderEnvExpansion(t *testing.T) {
	t.Setenv("VOXGATE_TEST_KEY", "sk-from-env")

	cfg, err := LoadFromReader(strings.NewReader(`
providers:
  llm:
    think:
      - name: openai
        api_key: "${VOXGATE_TEST_KEY}"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.Providers.LLM.Think[0].APIKey; got != "sk-from-env" {
		t.Errorf("api_key = %q, want env value", got)
	}
}

func TestLoadFromReaderUnknownField(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  listne_addr: ":8080"
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  log_level: loud
providers:
  vad:
    aggressiveness: 7
  asr:
    - name: volc
    - name: volc
  tts:
    - api_key: tok
`))
	if err == nil {
		t.Fatal("expected validation errors")
	}

	msg := err.Error()
	for _, want := range []string{
		"server.log_level",
		"providers.vad.aggressiveness",
		"duplicate",
		"providers.tts[0].name is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidateStorageNeedsBaseURL(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
storage:
  bucket: voxgate-audio
`))
	if err == nil || !strings.Contains(err.Error(), "public_base_url") {
		t.Fatalf("err = %v, want public_base_url error", err)
	}
}

func TestValidateTLSNeedsBothFiles(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
server:
  tls:
    cert_file: /etc/voxgate/tls.crt
`))
	if err == nil || !strings.Contains(err.Error(), "key_file") {
		t.Fatalf("err = %v, want tls error", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/voxgate.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
