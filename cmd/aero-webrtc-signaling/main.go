package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/policy"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/relay"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting aero-webrtc-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"signaling_mode", cfg.SignalingMode,
		"signaling_transport", cfg.SignalingTransport,
		"poll_liveness_timeout", cfg.PollLivenessTimeout,
		"max_connections", cfg.MaxConnections,
		"max_mailbox_messages", cfg.MaxMailboxMessages,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"ice_servers", len(cfg.ICEServers),
	)

	logStartupWarnings(logger, cfg)

	pol, err := policy.New(policy.Mode(cfg.SignalingMode))
	if err != nil {
		logger.Error("failed to configure signaling policy", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	clk := clock.New()
	m := metrics.New()
	reg := registry.New(registry.Config{
		MaxConnections:      cfg.MaxConnections,
		MaxMailboxMessages:  cfg.MaxMailboxMessages,
		PollLivenessTimeout: cfg.PollLivenessTimeout,
		Clock:               clk,
		Logger:              logger,
		Metrics:             m,
	})
	rel := relay.New(relay.Config{
		Registry:     reg,
		Policy:       pol,
		ReapInterval: cfg.ReapInterval,
		Clock:        clk,
		Logger:       logger,
		Metrics:      m,
	})
	sig := signaling.NewServer(signaling.Config{
		Relay:           rel,
		Transport:       registry.Transport(cfg.SignalingTransport),
		Limiter:         ratelimit.NewKeyedLimiter(clk, cfg.MaxSignalingMessagesPerSecond),
		MaxMessageBytes: cfg.MaxSignalingMessageBytes,
		WSIdleTimeout:   cfg.SignalingWSIdleTimeout,
		WSPingInterval:  cfg.SignalingWSPingInterval,
		Logger:          logger,
		Metrics:         m,
	})

	commit, buildTime := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: buildTime})
	sig.RegisterRoutes(srv.Mux())
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server exited: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return rel.RunReaper(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutdown signal received")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked sockets are not tracked by http.Server, so they are closed
		// explicitly once new requests stop arriving.
		err := srv.Shutdown(shutdownCtx)
		sig.Close()
		rel.Shutdown()
		if err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("signaling server stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("signaling server stopped")
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
