package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/christianparpart/x0-sub000/internal/config"
	"github.com/christianparpart/x0-sub000/internal/director"
	"github.com/christianparpart/x0-sub000/internal/director/cachestore"
	"github.com/christianparpart/x0-sub000/internal/obs"
	"github.com/christianparpart/x0-sub000/internal/redisclient"
	"github.com/christianparpart/x0-sub000/internal/statusserver"
)

var version = "dev"

func main() {
	var configPath string
	var showVersion bool
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/director.ini", "Path to INI config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(obs.TracingConfig{
		Enabled:          cfg.Observability.Tracing.Enabled,
		Endpoint:         cfg.Observability.Tracing.Endpoint,
		Environment:      cfg.Observability.Tracing.Environment,
		SamplingStrategy: cfg.Observability.Tracing.SamplingStrategy,
		SamplingRate:     cfg.Observability.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	cluster, pool, err := buildCluster(cfg)
	if err != nil {
		logger.Fatal("failed to build cluster", obs.Err(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	readyCheck := func(context.Context) error {
		if len(pool.Backends()) == 0 {
			return fmt.Errorf("no backends configured")
		}
		return nil
	}
	metricsSrv := obs.StartHTTPServer(cfg.Observability.MetricsPort, readyCheck)
	defer func() { _ = metricsSrv.Shutdown(context.Background()) }()

	status := statusserver.New(cluster, pool)
	statusSrv := &http.Server{Addr: ":9200", Handler: status}
	go func() { _ = statusSrv.ListenAndServe() }()
	defer func() { _ = statusSrv.Shutdown(context.Background()) }()

	for _, b := range pool.Backends() {
		go b.RunHealthMonitor(ctx)
	}

	go cluster.Run(ctx)

	logger.Info("directord running", obs.String("config", configPath))
	<-ctx.Done()
	logger.Info("directord stopped")
}

// buildCluster wires the token shaper, backend pool and optional object
// cache from configuration into a running Cluster.
func buildCluster(cfg *config.Config) (*director.Cluster, *director.BackendPool, error) {
	shaper := director.NewTokenShaper()
	for name, bucket := range cfg.Buckets {
		if _, err := shaper.CreateNode(name, bucket.Parent, bucket.Rate, bucket.Ceil); err != nil {
			return nil, nil, fmt.Errorf("bucket %q: %w", name, err)
		}
	}
	if _, ok := shaper.Node("default"); !ok {
		if _, err := shaper.CreateNode("default", "", -1, -1); err != nil {
			return nil, nil, err
		}
	}

	var policy director.SchedulePolicy
	switch config.SchedulerName(cfg.Director.Scheduler) {
	case config.SchedulerChance:
		policy = director.NewChancePolicy(1)
	default:
		policy = director.NewRoundRobinPolicy()
	}
	pool := director.NewBackendPool(policy)

	for name, b := range cfg.Backends {
		role := director.RoleActive
		switch b.Role {
		case "backup":
			role = director.RoleBackup
		case "terminate":
			role = director.RoleTerminate
		}
		transport := director.NewHTTPTransport(b.Host, b.Port, cfg.Director.ConnectTimeout, cfg.Director.ReadTimeout)
		backend := director.NewBackend(name, role, b.Capacity, transport)
		if !b.Enabled {
			backend.SetEnabled(false)
		}

		mode := healthCheckModeFromString(b.HealthCheckMode)
		prober := director.NewHTTPProber(cfg.Director.HealthCheckReqPath, cfg.Director.HealthCheckHostHeader, cfg.Director.ConnectTimeout+cfg.Director.ReadTimeout)
		backend.AttachHealthMonitor(director.NewHealthMonitor(
			backend, mode, b.HealthCheckInterval, 2, cfg.Director.StickyOfflineMode, prober,
		))
		pool.Add(backend)
	}

	abortAction, err := config.ParseClientAbortAction(cfg.Director.OnClientAbort)
	if err != nil {
		return nil, nil, err
	}

	cluster := director.NewCluster(director.ClusterConfig{
		Name:                 "default",
		Enabled:              cfg.Director.Enabled,
		QueueLimit:           cfg.Director.QueueLimit,
		QueueTimeout:         cfg.Director.QueueTimeout,
		MaxRetryCount:        cfg.Director.MaxRetryCount,
		OnClientAbort:        translateAbortAction(abortAction),
		EnqueueOnUnavailable: cfg.Director.EnqueueOnUnavailable,
	}, shaper, pool)

	if cfg.Cache.Enabled {
		store, err := buildCacheStore(cfg)
		if err != nil {
			return nil, nil, err
		}
		cache, err := director.NewObjectCache(director.CacheConfig{
			Enabled:         true,
			LockOnUpdate:    cfg.Cache.LockOnUpdate,
			DefaultTTL:      cfg.Cache.DefaultTTL,
			MaxObjectSize:   cfg.Cache.MaxObjectSize,
			CompressMinSize: cfg.Cache.CompressMinSize,
			NoCachePaths:    cfg.Cache.NoCachePaths,
		}, store)
		if err != nil {
			return nil, nil, err
		}
		cluster.AttachCache(cache)
	}

	return cluster, pool, nil
}

func buildCacheStore(cfg *config.Config) (cachestore.Store, error) {
	if cfg.Cache.Backend != "redis" {
		return cachestore.NewMemoryStore(), nil
	}
	client := redisclient.New(redisclient.Options{
		Addr:               cfg.Cache.RedisAddr,
		PoolSizeMultiplier: 4,
		DialTimeout:        cfg.Director.ConnectTimeout,
		ReadTimeout:        cfg.Director.ReadTimeout,
		WriteTimeout:       cfg.Director.WriteTimeout,
	})
	return cachestore.NewRedisStore(client, "director:cache:"), nil
}

func healthCheckModeFromString(s string) director.HealthCheckMode {
	switch s {
	case "opportunistic":
		return director.Opportunistic
	case "lazy":
		return director.Lazy
	default:
		return director.Paranoid
	}
}

func translateAbortAction(a config.ClientAbortAction) director.ClientAbortAction {
	switch a {
	case config.AbortClose:
		return director.AbortClose
	case config.AbortNotify:
		return director.AbortNotify
	default:
		return director.AbortIgnore
	}
}
