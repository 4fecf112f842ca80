package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"subwatch/internal/common/cache"
	commonmw "subwatch/internal/common/http/middleware"
	"subwatch/internal/common/httpclient"
	"subwatch/internal/tracker/controller"
	"subwatch/internal/tracker/metrics"
	"subwatch/internal/tracker/proxy"
	"subwatch/internal/tracker/repository"
	"subwatch/internal/tracker/service"
	"subwatch/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// daemon is the wired set of components behind one running process.
type daemon struct {
	cache      cache.Cache
	tracker    *service.TrackerService
	observer   *service.Observer
	controller *controller.TrackerController
	registry   *prometheus.Registry
}

func runDaemon(ctx context.Context, cmd *cli.Command) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	d, err := buildDaemon(cfg)
	if err != nil {
		logger.Error(ctx, "init daemon failed", zap.Error(err))
		return err
	}
	defer func() {
		_ = d.cache.Close()
	}()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	d.tracker.Start(runCtx)

	servers := []*http.Server{buildHTTPServer(cfg.Server, d)}
	if !cfg.Proxy.Disabled {
		proxyServer, err := buildProxyServer(cfg.Proxy, d)
		if err != nil {
			logger.Error(ctx, "init proxy failed", zap.Error(err))
			return err
		}
		servers = append(servers, proxyServer)
	}

	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info(ctx, "listening", zap.String("addr", srv.Addr))
			errCh <- srv.ListenAndServe()
		}(srv)
	}
	logger.Info(ctx, "watching submissions", zap.String("judge", cfg.Judge.Host))

	var serveErr error
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", zap.Error(err))
			serveErr = err
		}
	case <-runCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "server shutdown failed", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	if err := d.tracker.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "tracker shutdown incomplete", zap.Error(err))
	}
	return serveErr
}

func buildDaemon(cfg *AppConfig) (*daemon, error) {
	statusCache, err := buildStatusCache(cfg.Redis)
	if err != nil {
		return nil, err
	}
	statusRepo := repository.NewStatusRepository(statusCache, cfg.Notifier.StatusTTL)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(promRegistry)

	judgeClient := httpclient.New(cfg.Judge.RequestTimeout, cfg.Judge.UserAgent, nil)
	observer := service.NewObserver(service.ObserverConfig{
		JudgeHost:           cfg.Judge.Host,
		TokenHeader:         cfg.Judge.TokenHeader,
		StatusTableTemplate: cfg.Judge.StatusTableTemplate,
	})

	pageCfg := service.PageProviderConfig{
		JudgeHost:  cfg.Judge.Host,
		StaleAfter: cfg.Tracker.PageStaleAfter,
	}
	if cfg.Tracker.FetchProblemPage {
		pageCfg.Client = judgeClient
	}
	pages := service.NewPageProblemProvider(pageCfg)

	var desktop service.Notifier
	if !cfg.Notifier.DesktopDisabled {
		desktop = service.NewDesktopNotifier(service.DesktopConfig{
			Title:    cfg.Notifier.Title,
			IconPath: cfg.Notifier.IconPath,
			Priority: service.Priority(cfg.Notifier.Priority),
		})
	}

	registry := repository.NewRegistry()
	poller, err := service.NewPoller(service.PollerConfig{
		Registry: registry,
		Notifier: service.NewMultiNotifier(desktop, service.NewStatusNotifier(statusRepo)),
		Strategies: []service.StatusStrategy{
			service.NewClassicStrategy(judgeClient, cfg.Judge.TokenHeader),
			service.NewIDEStrategy(judgeClient),
		},
		Metrics:            m,
		Interval:           cfg.Tracker.PollInterval,
		AttemptTimeout:     cfg.Tracker.AttemptTimeout,
		MaxAttempts:        cfg.Tracker.MaxAttempts,
		MaxConcurrentPolls: cfg.Tracker.MaxConcurrentPolls,
	})
	if err != nil {
		_ = statusCache.Close()
		return nil, err
	}

	tracker, err := service.NewTrackerService(service.Config{
		Registry:        registry,
		Observer:        observer,
		Provider:        pages,
		Poller:          poller,
		Metrics:         m,
		EnrichTimeout:   cfg.Tracker.EnrichTimeout,
		Retention:       cfg.Tracker.Retention,
		JanitorInterval: cfg.Tracker.JanitorInterval,
	})
	if err != nil {
		poller.Stop()
		_ = statusCache.Close()
		return nil, err
	}

	return &daemon{
		cache:      statusCache,
		tracker:    tracker,
		observer:   observer,
		controller: controller.NewTrackerController(tracker, pages, statusRepo),
		registry:   promRegistry,
	}, nil
}

// buildStatusCache connects to redis, or starts an in-process one when no
// address is configured.
func buildStatusCache(cfg cache.RedisConfig) (cache.Cache, error) {
	if cfg.Addr == "" {
		embedded, err := cache.NewEmbeddedCache()
		if err != nil {
			return nil, fmt.Errorf("start embedded status store failed: %w", err)
		}
		return embedded, nil
	}
	redisCache, err := cache.NewRedisCacheWithConfig(&cfg)
	if err != nil {
		return nil, fmt.Errorf("init redis failed: %w", err)
	}
	return redisCache, nil
}

func buildHTTPServer(cfg ServerConfig, d *daemon) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(cfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	d.controller.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// buildProxyServer has no read or write timeouts since tunnels are long lived.
func buildProxyServer(cfg ProxyConfig, d *daemon) (*http.Server, error) {
	var certs *proxy.CertManager
	if !cfg.NoIntercept {
		var err error
		certs, err = proxy.NewCertManager(cfg.CertsDir)
		if err != nil {
			return nil, err
		}
	}
	p, err := proxy.New(proxy.Config{
		Observer: d.tracker,
		Matcher:  d.observer,
		Certs:    certs,
	})
	if err != nil {
		return nil, err
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           p,
		ReadHeaderTimeout: defaultReadTimeout,
	}, nil
}
