// Package app wires all voxgate subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithRedis, WithPools,
// WithUploader). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/voxgatehq/voxgate/internal/config"
	"github.com/voxgatehq/voxgate/internal/devstate"
	"github.com/voxgatehq/voxgate/internal/gateway"
	"github.com/voxgatehq/voxgate/internal/health"
	"github.com/voxgatehq/voxgate/internal/httpapi"
	"github.com/voxgatehq/voxgate/internal/observe"
	"github.com/voxgatehq/voxgate/internal/resilience"
	"github.com/voxgatehq/voxgate/internal/session"
	"github.com/voxgatehq/voxgate/internal/storage"
	"github.com/voxgatehq/voxgate/pkg/pool"
	"github.com/voxgatehq/voxgate/pkg/provider/asr"
	"github.com/voxgatehq/voxgate/pkg/provider/llm"
	"github.com/voxgatehq/voxgate/pkg/provider/tts"
	"github.com/voxgatehq/voxgate/pkg/provider/vad"
)

// wsRoute is the WebSocket upgrade endpoint clients dial.
const wsRoute = "/api/v1/vce/coze/chat"

// shutdownTimeout bounds the HTTP server drain during Shutdown.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes for one voxgate node.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	rdb      redis.UniversalClient
	ownsRdb  bool
	pools    session.Pools
	gw       *gateway.Gateway
	server   *http.Server
	uploader httpapi.SpeechUploader

	// shutdownObserve flushes the telemetry providers. Nil when telemetry
	// was not initialised (tests).
	shutdownObserve func(context.Context) error
	initObserve     bool

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRedis injects a Redis client instead of dialing cfg.Redis.Addr.
func WithRedis(rdb redis.UniversalClient) Option {
	return func(a *App) { a.rdb = rdb }
}

// WithPools injects pre-built provider pools instead of constructing them
// from the registry.
func WithPools(pools session.Pools) Option {
	return func(a *App) { a.pools = pools }
}

// WithUploader injects the speech uploader instead of building an S3 client
// from cfg.Storage.
func WithUploader(u httpapi.SpeechUploader) Option {
	return func(a *App) { a.uploader = u }
}

// WithObservability initialises the global OTel providers. Left off in tests
// so parallel packages do not fight over the global meter.
func WithObservability() Option {
	return func(a *App) { a.initObserve = true }
}

// New creates an App by wiring all subsystems together. The registry maps
// provider names from the config to their constructors; main registers the
// built-in set before calling New.
func New(ctx context.Context, cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config must not be nil")
	}
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "app")

	if a.initObserve {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxgate"})
		if err != nil {
			return nil, fmt.Errorf("app: init telemetry: %w", err)
		}
		a.shutdownObserve = shutdown
	}

	if a.rdb == nil {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.ownsRdb = true
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("app: redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	if a.pools == (session.Pools{}) {
		if registry == nil {
			return nil, fmt.Errorf("app: registry must not be nil when pools are not injected")
		}
		a.pools = buildPools(cfg, registry)
	}

	a.gw = gateway.New(a.rdb, a.sessionFactory(), a.gatewayOptions()...)

	if a.uploader == nil && cfg.Storage.Bucket != "" {
		client := storage.NewClient(cfg.Storage.Region, cfg.Storage.Endpoint)
		uploader, err := storage.NewUploader(client, cfg.Storage.Bucket, cfg.Storage.PublicBaseURL,
			storage.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("app: init storage: %w", err)
		}
		a.uploader = uploader
	}

	mux, err := a.buildMux()
	if err != nil {
		return nil, err
	}
	a.server = &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	return a, nil
}

// sessionFactory binds a fresh Session to every registered connection.
func (a *App) sessionFactory() gateway.SessionFactory {
	return func(conn *gateway.ClientConnection) (gateway.Session, error) {
		repo, err := devstate.NewRepository(conn.UID(), a.rdb, devstate.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("app: device repository for %s: %w", conn.UID(), err)
		}
		sess := session.New(conn.UID(), conn.Enqueue, a.pools, repo,
			session.WithLogger(a.logger),
			session.WithLanguage(a.cfg.Session.Language))
		return sess, nil
	}
}

// gatewayOptions maps the gateway config block onto gateway options.
func (a *App) gatewayOptions() []gateway.Option {
	opts := []gateway.Option{
		gateway.WithLogger(a.logger),
		gateway.WithCapacity(a.cfg.Gateway.MaxConnections),
	}
	if a.cfg.Gateway.ServerID != "" {
		opts = append(opts, gateway.WithServerID(a.cfg.Gateway.ServerID))
	}
	if a.cfg.Gateway.IdleTimeoutSeconds > 0 {
		opts = append(opts, gateway.WithIdleTimeout(time.Duration(a.cfg.Gateway.IdleTimeoutSeconds)*time.Second))
	}
	if a.cfg.Gateway.MonitorIntervalSeconds > 0 {
		opts = append(opts, gateway.WithMonitorInterval(time.Duration(a.cfg.Gateway.MonitorIntervalSeconds)*time.Second))
	}
	if a.cfg.Gateway.AuthToken != "" {
		opts = append(opts, gateway.WithTokenValidator(sharedTokenValidator(a.cfg.Gateway.AuthToken)))
	}
	return opts
}

// sharedTokenValidator accepts only the configured bearer token; the client
// uid then comes from the uid query parameter.
func sharedTokenValidator(token string) gateway.TokenValidator {
	return func(r *http.Request) (string, error) {
		presented, err := gateway.BearerUID(r)
		if err != nil {
			return "", err
		}
		if presented != token {
			return "", fmt.Errorf("app: bearer token mismatch")
		}
		uid := r.URL.Query().Get("uid")
		if uid == "" {
			return "", fmt.Errorf("app: uid query parameter is required")
		}
		return uid, nil
	}
}

// buildMux assembles the full HTTP surface: WebSocket upgrade, audio
// endpoints, health, and metrics, all behind the telemetry middleware.
func (a *App) buildMux() (http.Handler, error) {
	mux := http.NewServeMux()
	mux.Handle("GET "+wsRoute, a.gw)

	apiOpts := []httpapi.Option{httpapi.WithLogger(a.logger)}
	if a.pools.TTS != nil {
		synth, err := httpapi.NewPoolSynthesizer(a.pools.TTS, a.logger)
		if err != nil {
			return nil, fmt.Errorf("app: init synthesizer: %w", err)
		}
		apiOpts = append(apiOpts, httpapi.WithSynthesizer(synth))
	}
	if a.uploader != nil {
		apiOpts = append(apiOpts, httpapi.WithUploader(a.uploader))
	}
	api, err := httpapi.New(poolCacheResolver{pool: a.gw.Pool()}, apiOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: init http api: %w", err)
	}
	api.Register(mux)

	health.New(health.Checker{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		},
	}).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(observe.DefaultMetrics())(mux), nil
}

// poolCacheResolver maps uids onto the TTS cache of their live session.
type poolCacheResolver struct {
	pool *gateway.Pool
}

func (p poolCacheResolver) TTSCache(uid string) *tts.Cache {
	conn := p.pool.Get(uid)
	if conn == nil {
		return nil
	}
	sess, ok := conn.Session().(*session.Session)
	if !ok || sess == nil {
		return nil
	}
	return sess.TTSCache()
}

// ─── Provider pools ──────────────────────────────────────────────────────────

// buildPools constructs the shared provider pools from the configured
// chains. An empty chain leaves the corresponding pool nil; sessions then
// report resource-unavailable for operations needing it.
func buildPools(cfg *config.Config, registry *config.Registry) session.Pools {
	var pools session.Pools

	pools.VAD = pool.New(0, func(context.Context) (vad.Engine, error) {
		return vad.New(vad.Config{Aggressiveness: cfg.Providers.VAD.Aggressiveness})
	}, func(e vad.Engine) error { return e.Close() })

	if len(cfg.Providers.ASR) > 0 {
		entries := cfg.Providers.ASR
		pools.ASR = pool.New(0, func(context.Context) (asr.Driver, error) {
			return buildASRChain(registry, entries)
		}, func(d asr.Driver) error { return d.Close() })
	}

	if len(cfg.Providers.TTS) > 0 {
		entries := cfg.Providers.TTS
		pools.TTS = pool.New(0, func(context.Context) (tts.Driver, error) {
			return buildTTSChain(registry, entries)
		}, func(d tts.Driver) error { return d.Close() })
	}

	if len(cfg.Providers.LLM.Lite) > 0 || len(cfg.Providers.LLM.Think) > 0 {
		lite, think := cfg.Providers.LLM.Lite, cfg.Providers.LLM.Think
		pools.LLM = pool.New(0, func(context.Context) (*llm.Client, error) {
			liteProvider, err := buildLLMChain(registry, lite)
			if err != nil {
				return nil, err
			}
			thinkProvider, err := buildLLMChain(registry, think)
			if err != nil {
				return nil, err
			}
			return llm.NewClient(liteProvider, thinkProvider), nil
		}, func(c *llm.Client) error { return c.Close() })
	}

	return pools
}

// buildASRChain builds one recognition driver, wrapping multi-entry chains
// in a circuit-breaking fallback.
func buildASRChain(registry *config.Registry, entries []config.ProviderEntry) (asr.Driver, error) {
	primary, err := registry.CreateASR(entries[0])
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 {
		return primary, nil
	}
	chain := resilience.NewASRFallback(primary, entries[0].Name, resilience.FallbackConfig{})
	for _, entry := range entries[1:] {
		driver, err := registry.CreateASR(entry)
		if err != nil {
			return nil, err
		}
		chain.AddFallback(entry.Name, driver)
	}
	return chain, nil
}

// buildTTSChain builds one synthesis driver, wrapping multi-entry chains in
// a fallback that shares a single audio cache across backends.
func buildTTSChain(registry *config.Registry, entries []config.ProviderEntry) (tts.Driver, error) {
	primary, err := registry.CreateTTS(entries[0])
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 {
		return primary, nil
	}
	chain := resilience.NewTTSFallback(primary, entries[0].Name, resilience.FallbackConfig{})
	for _, entry := range entries[1:] {
		driver, err := registry.CreateTTS(entry)
		if err != nil {
			return nil, err
		}
		chain.AddFallback(entry.Name, driver)
	}
	return chain, nil
}

// buildLLMChain builds one LLM provider slot. An empty chain yields nil,
// which llm.NewClient treats as slot-not-configured.
func buildLLMChain(registry *config.Registry, entries []config.ProviderEntry) (llm.Provider, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	primary, err := registry.CreateLLM(entries[0])
	if err != nil {
		return nil, err
	}
	if len(entries) == 1 {
		return primary, nil
	}
	chain := resilience.NewLLMFallback(primary, entries[0].Name, resilience.FallbackConfig{})
	for _, entry := range entries[1:] {
		provider, err := registry.CreateLLM(entry)
		if err != nil {
			return nil, err
		}
		chain.AddFallback(entry.Name, provider)
	}
	return chain, nil
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Gateway exposes the node's gateway, mainly for tests.
func (a *App) Gateway() *gateway.Gateway { return a.gw }

// Handler exposes the full HTTP surface, mainly for tests.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run starts the gateway loops and serves HTTP until ctx is cancelled, then
// shuts down. It returns the first fatal error, or nil on a clean stop.
func (a *App) Run(ctx context.Context) error {
	if err := a.gw.Start(); err != nil {
		return fmt.Errorf("app: start gateway: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			a.logger.Info("listening", "addr", a.server.Addr, "tls", true)
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			a.logger.Info("listening", "addr", a.server.Addr)
			err = a.server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears everything down: HTTP server first so no new work arrives,
// then the gateway and its sessions, then the provider pools, telemetry, and
// Redis. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down")

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := a.gw.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("gateway: %w", err))
		}

		for _, closer := range []func() error{
			closePool(a.pools.VAD),
			closePool(a.pools.ASR),
			closePool(a.pools.TTS),
			closePool(a.pools.LLM),
		} {
			if err := closer(); err != nil {
				errs = append(errs, err)
			}
		}

		if a.shutdownObserve != nil {
			if err := a.shutdownObserve(ctx); err != nil {
				errs = append(errs, fmt.Errorf("telemetry: %w", err))
			}
		}
		if a.ownsRdb {
			if err := a.rdb.Close(); err != nil {
				errs = append(errs, fmt.Errorf("redis: %w", err))
			}
		}

		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}

// closePool adapts a possibly-nil pool into a closer.
func closePool[T any](p *pool.Pool[T]) func() error {
	if p == nil {
		return func() error { return nil }
	}
	return p.Close
}
