// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authgate/internal/auth"
	"github.com/holomush/authgate/internal/auth/postgres"
	"github.com/holomush/authgate/internal/authcache"
	"github.com/holomush/authgate/internal/bridge"
	"github.com/holomush/authgate/internal/config"
	"github.com/holomush/authgate/internal/gate"
	"github.com/holomush/authgate/internal/logging"
	"github.com/holomush/authgate/internal/messages"
	"github.com/holomush/authgate/internal/proxy"
	"github.com/holomush/authgate/internal/security"
	"github.com/holomush/authgate/internal/security/redisaudit"
	"github.com/holomush/authgate/internal/store"
	"github.com/holomush/authgate/internal/tls"
	"github.com/holomush/authgate/pkg/errutil"
)

const (
	serviceName     = "authgate"
	shutdownTimeout = 5 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication gate",
		Long: `Run the authentication gate. The hosting proxy connects to the bridge
address and forwards player commands, server switches and disconnects.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until ctx is cancelled or a signal
// arrives. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	cfg, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	if cfg.Secrets.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("AUTHGATE_DATABASE_URL environment variable is required")
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.LogFormat, level, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	catalog, err := messages.Bundled(cfg.Language)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var registerer prometheus.Registerer = prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, version, ready.Load)
		registerer = obsServer.Registerer()
	}

	cacheCfg, err := cfg.Cache()
	if err != nil {
		return err
	}
	cache := authcache.New(cacheCfg,
		authcache.WithLogger(logger.With("component", "authcache")),
		authcache.WithRegistry(registerer))
	sweeper := authcache.NewSweeper(cache, cfg.SweepInterval)
	defer sweeper.Close()

	gate.RegisterMetrics(registerer)
	g, err := gate.New(cache, cfg.Gate(), gate.WithLogger(logger.With("component", "gate")))
	if err != nil {
		return err
	}

	pool, err := deps.PoolFactory(ctx, store.ConnectConfig{URL: cfg.Secrets.DatabaseURL, Logger: logger})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	sink, closeSinks, err := buildAuditSink(cfg, pool, registerer, logger, deps)
	if err != nil {
		return err
	}
	defer closeSinks()

	incidents := security.NewIncidentHandler(cache, sink,
		security.WithLogger(logger.With("component", "security")),
		security.WithMetrics(security.NewIncidentMetrics(registerer)))

	svc, err := auth.NewAuthService(
		postgres.NewPlayerRepository(pool),
		auth.NewBcryptHasher(cfg.BcryptCost),
		cache,
		incidents,
		auth.WithCredentialConfig(cfg.Credentials()),
		auth.WithLogger(logger.With("component", "auth")),
	)
	if err != nil {
		return err
	}

	throttle := proxy.NewThrottle(cfg.Throttle(), proxy.WithThrottleRegistry(registerer))
	defer throttle.Close()

	listener, err := proxy.NewListener(g, svc, cache, incidents, catalog,
		proxy.WithLogger(logger.With("component", "proxy")),
		proxy.WithLogoutCommands(cfg.LogoutCommands...),
		proxy.WithThrottle(throttle))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bridgeOpts, err := bridgeOptions(cfg, logger)
	if err != nil {
		return err
	}
	bridgeServer := bridge.NewServer(cfg.BridgeAddr, listener, logger.With("component", "bridge"), bridgeOpts...)
	if err := bridgeServer.Listen(); err != nil {
		return err
	}
	bridgeDone := make(chan error, 1)
	go func() { bridgeDone <- bridgeServer.Run(ctx) }()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			cancel()
			<-bridgeDone
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				errutil.LogError(logger, "error stopping observability server", err)
			}
		}()
	}

	ready.Store(true)
	deps.Ready(bridgeServer.Addr())
	cmd.Println("authgate started")
	logger.Info("authgate ready",
		"bridge_addr", bridgeServer.Addr(),
		"authentication_server", cfg.AuthenticationServer,
		"audit_sinks", cfg.AuditSinks,
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	ready.Store(false)
	if err := <-bridgeDone; err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// bridgeOptions enables mutual TLS when configured, generating the
// certificates on first use.
func bridgeOptions(cfg *config.Config, logger *slog.Logger) ([]bridge.Option, error) {
	if !cfg.BridgeTLS {
		return nil, nil
	}
	dir, err := cfg.BridgeCertsDir()
	if err != nil {
		return nil, err
	}
	var hosts []string
	if host, _, err := net.SplitHostPort(cfg.BridgeAddr); err == nil && host != "" {
		if ip := net.ParseIP(host); ip == nil || !ip.IsUnspecified() {
			hosts = append(hosts, host)
		}
	}
	if _, err := tls.EnsureCertificates(dir, hosts, logger); err != nil {
		return nil, err
	}
	tlsConfig, err := tls.LoadServerTLS(dir)
	if err != nil {
		return nil, err
	}
	return []bridge.Option{bridge.WithTLS(tlsConfig)}, nil
}

// buildAuditSink assembles the configured sinks. The log sink is written
// inline; database and redis sinks sit behind one Dispatcher so incident
// handling never waits on I/O. The returned func drains and closes them.
func buildAuditSink(cfg *config.Config, pool Pool, reg prometheus.Registerer, logger *slog.Logger, deps *ServeDeps) (security.Sink, func(), error) {
	var inline, slow security.MultiSink
	var closers []func()

	if cfg.UsesSink(config.SinkLog) {
		inline = append(inline, security.NewLogSink(logger))
	}
	if cfg.UsesSink(config.SinkPostgres) {
		slow = append(slow, store.NewAuditSink(pool))
	}
	if cfg.UsesSink(config.SinkRedis) {
		redisSink, err := redisaudit.New(redisaudit.Config{
			Client: deps.RedisClientFactory(cfg.Secrets.RedisAddr, cfg.Secrets.RedisPassword),
			Stream: cfg.RedisStream,
		})
		if err != nil {
			return nil, nil, err
		}
		slow = append(slow, redisSink)
		closers = append(closers, func() {
			if err := redisSink.Close(); err != nil {
				errutil.LogError(logger, "error closing redis client", err)
			}
		})
	}

	sinks := inline
	if len(slow) > 0 {
		dispatcher := security.NewDispatcher(security.DispatcherConfig{
			BufferSize: cfg.AuditBuffer,
			Logger:     logger.With("component", "audit"),
			Registry:   reg,
		}, slow)
		sinks = append(sinks, dispatcher)
		// Drain before the clients underneath close.
		closers = append([]func(){dispatcher.Close}, closers...)
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return security.NopSink{}, closeAll, nil
	}
	return sinks, closeAll, nil
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed, initiating shutdown", "server", serverName, "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
