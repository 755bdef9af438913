package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skosovsky/toolserve"
	"github.com/skosovsky/toolserve/config"
	"github.com/skosovsky/toolserve/durable"
	"github.com/skosovsky/toolserve/ext/toolserveotel"
	"github.com/skosovsky/toolserve/internal/metrics"
)

const defaultShutdownTimeout = 30 * time.Second

// App is one running toolserve instance. It owns the engine, the durable client and worker (when
// enabled) and the HTTP server; nothing is shared with other App values in the process.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	engine  *toolserve.Engine
	client  *durable.Client
	worker  *durable.Worker
	metrics *metrics.Metrics
	server  *Server
	http    *http.Server
}

// NewApp wires reg into a serving App according to cfg. Extra options are applied to the Server.
func NewApp(cfg *config.Config, reg *toolserve.Registry, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(cfg.Server.Mode)

	a := &App{cfg: cfg, logger: logger}
	engineOpts := []toolserve.EngineOption{
		toolserve.WithDefaultPolicy(cfg.Tools.Policy()),
		toolserve.WithMaxConcurrency(cfg.Tools.MaxConcurrency),
		toolserve.WithBatchConcurrency(cfg.Tools.BatchConcurrency),
		toolserve.WithLogger(logger.Named("engine")),
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		a.metrics.ToolsRegistered.Set(float64(reg.Len()))
		engineOpts = append(engineOpts, a.metrics.EngineOptions()...)
	}
	if cfg.Durable.Enabled {
		a.client = durable.NewClient(durableConfig(cfg.Durable), durable.WithLogger(logger))
		engineOpts = append(engineOpts, toolserve.WithDurable(a.client))
	}
	a.engine = toolserve.NewEngine(reg, engineOpts...)

	middlewares := []toolserve.Middleware{toolserve.WithRecovery(), toolserve.WithLogging(logger.Named("tool"))}
	if cfg.Tracing.Enabled {
		middlewares = append(middlewares, toolserveotel.Middleware(toolserveotel.WithPolicyResolver(a.engine.EffectivePolicy)))
	}
	a.engine.Use(middlewares...)

	if cfg.Durable.Enabled && cfg.Durable.RunWorker {
		a.worker = durable.NewWorker(a.engine, durableConfig(cfg.Durable), durable.WithLogger(logger))
	}

	srvOpts := []Option{
		WithBasePath(cfg.Server.BasePath),
		WithLogger(logger),
		WithMaxBatchSize(cfg.Tools.MaxBatchSize),
	}
	if a.metrics != nil {
		srvOpts = append(srvOpts, WithMetrics(a.metrics, cfg.Metrics.Path))
	}
	a.server = New(a.engine, append(srvOpts, opts...)...)
	a.http = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.server.Handler(),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeout),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeout),
	}
	return a, nil
}

func durableConfig(c config.DurableConfig) durable.Config {
	return durable.Config{
		Addr:        c.Addr,
		Password:    c.Password,
		DB:          c.DB,
		Queue:       c.Queue,
		Namespace:   c.Namespace,
		Concurrency: c.Concurrency,
		Retention:   config.Seconds(c.Retention),
		WaitSlack:   config.Seconds(c.WaitSlack),
	}
}

// Engine returns the engine serving calls.
func (a *App) Engine() *toolserve.Engine { return a.engine }

// Handler returns the HTTP handler, for tests or embedding into another server.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run serves on the configured address until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.http.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	if a.client != nil {
		pingCtx, cancel := context.WithTimeout(ctx, healthPingTimeout)
		if err := a.client.Ping(pingCtx); err != nil {
			a.logger.Warn("durable backend not reachable at startup", zap.String("addr", a.cfg.Durable.Addr), zap.Error(err))
		}
		cancel()
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}
	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", ln.Addr().String()),
			zap.String("base_path", a.cfg.Server.BasePath), zap.Int("tools", a.engine.Registry().Len()),
			zap.Bool("durable", a.engine.DurableEnabled()))
		if err := a.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down")
	timeout := config.Seconds(a.cfg.Server.ShutdownTimeout)
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	errs := []error{a.http.Shutdown(ctx), a.engine.Shutdown(ctx)}
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	return errors.Join(errs...)
}
