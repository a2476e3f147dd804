// Command voxgate is the main entry point for the voxgate voice gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxgatehq/voxgate/internal/app"
	"github.com/voxgatehq/voxgate/internal/config"
	"github.com/voxgatehq/voxgate/pkg/provider/asr"
	asrdeepgram "github.com/voxgatehq/voxgate/pkg/provider/asr/deepgram"
	asrvolc "github.com/voxgatehq/voxgate/pkg/provider/asr/volc"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
	"github.com/voxgatehq/voxgate/pkg/provider/llm/anyllm"
	"github.com/voxgatehq/voxgate/pkg/provider/llm/openai"
	"github.com/voxgatehq/voxgate/pkg/provider/tts"
	ttselevenlabs "github.com/voxgatehq/voxgate/pkg/provider/tts/elevenlabs"
	ttsvolc "github.com/voxgatehq/voxgate/pkg/provider/tts/volc"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(cfg.Server.LogFormat, level)
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, reg,
		app.WithLogger(logger),
		app.WithObservability())
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher: hot log-level reload ──────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.LanguageChanged {
			slog.Info("session language changed, applies to new sessions on restart",
				"language", diff.NewLanguage)
		}
		if len(diff.RestartRequired) > 0 {
			slog.Warn("config sections changed that need a restart",
				"sections", diff.RestartRequired)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("volc", func(entry config.ProviderEntry) (asr.Driver, error) {
		var opts []asrvolc.Option
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, asrvolc.WithLanguage(lang))
		}
		if rate := entry.IntOption("sample_rate", 0); rate > 0 {
			opts = append(opts, asrvolc.WithSampleRate(rate))
		}
		return asrvolc.New(
			entry.BaseURL,
			entry.StringOption("app_id", ""),
			entry.StringOption("cluster", ""),
			entry.APIKey,
			opts...,
		)
	})

	reg.RegisterASR("deepgram", func(entry config.ProviderEntry) (asr.Driver, error) {
		var opts []asrdeepgram.Option
		if entry.Model != "" {
			opts = append(opts, asrdeepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, asrdeepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, asrdeepgram.WithEndpoint(entry.BaseURL))
		}
		return asrdeepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("volc", func(entry config.ProviderEntry) (tts.Driver, error) {
		var opts []ttsvolc.Option
		if voice := entry.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsvolc.WithVoice(voice))
		}
		if enc := entry.StringOption("encoding", ""); enc != "" {
			opts = append(opts, ttsvolc.WithEncoding(enc))
		}
		return ttsvolc.New(
			entry.BaseURL,
			entry.StringOption("app_id", ""),
			entry.StringOption("cluster", ""),
			entry.APIKey,
			opts...,
		)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Driver, error) {
		var opts []ttselevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, ttselevenlabs.WithModel(entry.Model))
		}
		if format := entry.StringOption("output_format", ""); format != "" {
			opts = append(opts, ttselevenlabs.WithOutputFormat(format))
		}
		return ttselevenlabs.New(entry.APIKey, entry.StringOption("voice_id", ""), opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the OpenAI API directly; the remaining vendors share the
	// any-llm abstraction: optional APIKey + optional BaseURL.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         voxgate — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printChain("ASR", cfg.Providers.ASR)
	printChain("TTS", cfg.Providers.TTS)
	printChain("LLM lite", cfg.Providers.LLM.Lite)
	printChain("LLM think", cfg.Providers.LLM.Think)
	if cfg.Storage.Bucket != "" {
		fmt.Printf("║  Storage         : %-19s ║\n", cfg.Storage.Bucket)
	} else {
		fmt.Printf("║  Storage         : %-19s ║\n", "(disabled)")
	}
	fmt.Printf("║  Redis           : %-19s ║\n", cfg.Redis.Addr)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printChain(kind string, entries []config.ProviderEntry) {
	value := "(not configured)"
	if len(entries) > 0 {
		value = entries[0].Name
		if len(entries) > 1 {
			value = fmt.Sprintf("%s +%d fallback", entries[0].Name, len(entries)-1)
		}
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(format config.LogFormat, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
