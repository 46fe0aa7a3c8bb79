// Package bootstrap wires all dependencies and starts the gateway.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/auth"
	apihttp "github.com/ConduitPlatform/Conduit-sub006/adapters/http"
	"github.com/ConduitPlatform/Conduit-sub006/adapters/memory"
	"github.com/ConduitPlatform/Conduit-sub006/adapters/metrics"
	"github.com/ConduitPlatform/Conduit-sub006/adapters/redis"
	"github.com/ConduitPlatform/Conduit-sub006/adapters/sqlite"
	"github.com/ConduitPlatform/Conduit-sub006/app"
	"github.com/ConduitPlatform/Conduit-sub006/config"
	"github.com/ConduitPlatform/Conduit-sub006/core/cache"
	restchannel "github.com/ConduitPlatform/Conduit-sub006/core/channel/http"
	mcpchannel "github.com/ConduitPlatform/Conduit-sub006/core/channel/mcp"
	"github.com/ConduitPlatform/Conduit-sub006/core/graphql"
	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/openapi"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/rpc"
	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

// Options configures New.
type Options struct {
	// ConfigPath is the YAML config file. Empty uses defaults and env only.
	ConfigPath string

	// Version is reported on /version and by the tool server.
	Version string
}

// App represents the running gateway.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	DB         *sqlite.DB
	Metrics    *metrics.Collector
	Router     *app.Router
	REST       *restchannel.Channel
	MCP        *mcpchannel.Channel
	HTTPServer *http.Server
	GRPCServer *grpc.Server
	Tokens     *auth.TokenService

	restRegistry *registry.Registry
	toolRegistry *registry.Registry
	middlewares  *middleware.Registry
	limiter      *middleware.Limiter
	cacheStore   io.Closer

	sdl      atomic.Pointer[string]
	services map[string]bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates and initializes the gateway.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.Logging)

	holder, err := config.NewHolder(opts.ConfigPath, logger.With().Str("component", "config").Logger())
	if err != nil {
		return nil, err
	}
	cfg = holder.Get()

	logger.Info().Msg("initializing conduit")

	a := &App{
		Logger:   logger,
		Config:   holder,
		services: make(map[string]bool),
	}
	if err := a.init(cfg, opts); err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func (a *App) init(cfg *config.Config, opts Options) error {
	ctx := context.Background()

	var (
		m          ports.Metrics = ports.NopMetrics{}
		metricsReg *prometheus.Registry
	)
	if cfg.Metrics.Enabled {
		metricsReg = prometheus.NewRegistry()
		a.Metrics = metrics.NewWithRegistry(metricsReg)
		a.Config.Observe(a.Metrics.ConfigReloaded)
		m = a.Metrics
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	var store ports.RouteStore
	if cfg.Database.DSN != "" {
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		store = sqlite.NewRouteStore(db)
	}

	respCache, err := a.initCache(ctx, cfg.Cache, m)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	a.middlewares = middleware.NewRegistry(a.Logger.With().Str("component", "middleware").Logger())
	if cfg.Auth.JWTSecret != "" {
		a.Tokens = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
		a.middlewares.Register(middleware.AuthName, middleware.Auth(a.Tokens.Verifier()))
	} else {
		a.Logger.Warn().Msg("auth.jwt_secret not set, authMiddleware disabled")
	}
	a.limiter = middleware.NewLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	a.applyRateLimit(cfg.RateLimit)

	a.restRegistry = registry.New(registry.Options{
		Name:    "rest",
		Delay:   cfg.Router.RebuildDelay,
		Logger:  a.Logger,
		Metrics: m,
	})
	a.REST = restchannel.New(restchannel.Options{
		Logger:      a.Logger,
		Registry:    a.restRegistry,
		Middlewares: a.middlewares,
		Cache:       respCache,
		Info: openapi.Info{
			Title:       cfg.OpenAPI.Title,
			Version:     cfg.OpenAPI.Version,
			Description: cfg.OpenAPI.Description,
		},
		Servers: cfg.OpenAPI.Servers,
	})
	a.restRegistry.Subscribe(a.buildGraphQL)

	if cfg.MCP.Enabled {
		a.toolRegistry = registry.New(registry.Options{
			Name:    "mcp",
			Delay:   cfg.Router.RebuildDelay,
			Logger:  a.Logger,
			Metrics: m,
		})
		a.MCP, err = mcpchannel.New(mcpchannel.Options{
			Logger:        a.Logger,
			Registry:      a.toolRegistry,
			Middlewares:   a.middlewares,
			OpenAPI:       a.REST.Doc(),
			Path:          cfg.MCP.Path,
			CoreModule:    cfg.MCP.CoreModule,
			Prefixes:      cfg.MCP.Prefixes,
			ServerName:    cfg.MCP.ServerName,
			ServerVersion: opts.Version,
		})
		if err != nil {
			return fmt.Errorf("init mcp: %w", err)
		}
	}

	a.Router = app.NewRouter(app.RouterOptions{
		REST:        a.restRegistry,
		Tools:       a.toolRegistry,
		Middlewares: a.middlewares,
		Store:       store,
		Logger:      a.Logger,
		Metrics:     m,
		CallTimeout: cfg.Router.CallTimeout,
	})

	if err := a.Router.Recover(ctx); err != nil {
		a.Logger.Error().Err(err).Msg("recover persisted routes failed")
	}
	a.loadServices(ctx, cfg.Services)
	a.Flush()

	a.initHTTPServer(cfg, opts, metricsReg)

	if cfg.GRPC.Enabled {
		a.GRPCServer = grpc.NewServer()
		rpc.RegisterRouterServer(a.GRPCServer, a.Router)
	}

	a.Config.OnChange(a.onConfigChange)
	return nil
}

func (a *App) initCache(ctx context.Context, cfg config.CacheConfig, m ports.Metrics) (*cache.Cache, error) {
	var store ports.ResponseCache
	switch cfg.Driver {
	case "memory":
		mem := memory.NewResponseCache(memory.ResponseCacheConfig{})
		a.cacheStore = mem
		store = mem
	case "redis":
		rc, err := redis.NewResponseCache(ctx, redis.Config{
			Addrs:     cfg.Redis.Addrs,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		a.cacheStore = rc
		store = rc
	default:
		a.Logger.Info().Msg("response cache disabled")
		return nil, nil
	}
	a.Logger.Info().Str("driver", cfg.Driver).Msg("response cache enabled")
	return cache.New(store, a.Logger, m), nil
}

func (a *App) initHTTPServer(cfg *config.Config, opts Options, metricsReg *prometheus.Registry) {
	rc := apihttp.RouterConfig{
		REST:    a.REST,
		Version: opts.Version,
		GraphQLSchema: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if sdl := a.sdl.Load(); sdl != nil {
				io.WriteString(w, *sdl)
			}
		}),
		Checks: map[string]apihttp.ReadinessCheck{},
	}
	if a.MCP != nil {
		rc.MCP = a.MCP
		rc.MCPPath = a.MCP.Path()
	}
	if metricsReg != nil {
		rc.MetricsHandler = promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{})
		rc.MetricsPath = cfg.Metrics.Path
	}
	if a.DB != nil {
		rc.Checks["database"] = a.DB.PingContext
	}

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      apihttp.NewRouter(a.Logger, rc),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

func (a *App) applyRateLimit(cfg config.RateLimitConfig) {
	if !cfg.Enabled {
		a.middlewares.Unregister(middleware.RateLimitName)
		return
	}
	a.limiter.SetLimit(cfg.PerSecond, cfg.Burst)
	a.middlewares.Register(middleware.RateLimitName, a.limiter.Middleware())
}

// loadServices registers the routes of statically configured services and
// removes the routes of services dropped from the list.
func (a *App) loadServices(ctx context.Context, services []config.ServiceConfig) {
	current := make(map[string]bool, len(services))
	for _, svc := range services {
		current[svc.Name] = true
		resp, err := a.Router.RegisterFile(ctx, svc.Name, svc.Address, svc.Routes)
		if err != nil {
			a.Logger.Error().Err(err).Str("service", svc.Name).Msg("load service routes failed")
			continue
		}
		for _, e := range resp.Errors {
			a.Logger.Warn().Str("service", svc.Name).Str("error", e).Msg("service route rejected")
		}
	}
	for name := range a.services {
		if !current[name] {
			a.Router.CleanupRoutes(name, nil)
			a.Logger.Info().Str("service", name).Msg("service removed from config")
		}
	}
	a.services = current
}

func (a *App) onConfigChange(cfg *config.Config) {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	a.applyRateLimit(cfg.RateLimit)
	a.loadServices(context.Background(), cfg.Services)
}

// buildGraphQL regenerates the SDL for every REST snapshot.
func (a *App) buildGraphQL(snap *registry.Snapshot) {
	doc := graphql.Build(snap.Routes)
	if len(doc.Dangling) > 0 {
		a.Logger.Warn().Strs("types", doc.Dangling).Msg("relations to unknown types rendered as ID")
	}
	if _, err := doc.Validate(); err != nil {
		a.Logger.Error().Err(err).Msg("generated graphql schema is invalid")
	}
	a.sdl.Store(&doc.SDL)
}

// SDL returns the GraphQL schema of the current REST snapshot.
func (a *App) SDL() string {
	if sdl := a.sdl.Load(); sdl != nil {
		return *sdl
	}
	return ""
}

// Flush rebuilds every controller immediately.
func (a *App) Flush() {
	a.restRegistry.Flush()
	if a.toolRegistry != nil {
		a.toolRegistry.Flush()
	}
}

// Run serves HTTP and gRPC until ctx is canceled or a server fails, then
// shuts down.
func (a *App) Run(ctx context.Context) error {
	if path := a.Config.Path(); path != "" {
		if err := a.Config.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
	}
	a.Config.WatchSignals()

	var grpcLis net.Listener
	if a.GRPCServer != nil {
		lis, err := net.Listen("tcp", a.Config.Get().GRPC.Addr())
		if err != nil {
			a.Shutdown()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcLis = lis
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info().Str("addr", a.HTTPServer.Addr).Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		g.Go(func() error {
			a.Logger.Info().Str("addr", grpcLis.Addr().String()).Msg("starting grpc server")
			if err := a.GRPCServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops the gateway. It is safe to call more than once.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown()
	})
	return a.shutdownErr
}

func (a *App) shutdown() error {
	timeout := 10 * time.Second
	if a.Config != nil {
		timeout = a.Config.Get().Server.ShutdownTimeout
		a.Config.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
		}
	}
	if a.GRPCServer != nil {
		a.GRPCServer.GracefulStop()
	}

	if a.Router != nil {
		if err := a.Router.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close service clients: %w", err))
		}
	}
	if a.toolRegistry != nil {
		a.toolRegistry.Close()
	}
	if a.restRegistry != nil {
		a.restRegistry.Close()
	}

	if a.cacheStore != nil {
		if err := a.cacheStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	for _, err := range errs {
		a.Logger.Error().Err(err).Msg("shutdown error")
	}
	a.Logger.Info().Msg("shutdown complete")
	return errors.Join(errs...)
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
