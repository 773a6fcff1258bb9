package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocx/uaal/internal/api"
	"github.com/ocx/uaal/internal/config"
	"github.com/ocx/uaal/internal/middleware"
	"github.com/ocx/uaal/internal/websocket"
)

const limiterSweepInterval = time.Minute

func newServeCommand(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the firewall HTTP API and live dashboard",
		Long: `Serves log ingestion, reports, shadow metrics, the policy test endpoint,
Prometheus metrics and a websocket decision stream. SIGHUP reloads the
config file and applies mode and rollout changes without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), gf)
		},
	}
}

func runServe(parent context.Context, gf *globalFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewManager(gf.configPath)
	if err != nil {
		return err
	}
	cfg := withOverrides(mgr.Get(), gf)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Server.Env == "production" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}

	rt, err := buildRuntime(ctx, cfg, buildOptions{localBus: true})
	if err != nil {
		return err
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := rt.close(drainCtx); err != nil {
			slog.Warn("Shutdown incomplete", "error", err)
		}
	}()

	mgr.OnChange(func(c *config.Config) {
		rt.apply(withOverrides(c, gf))
	})
	go watchReload(ctx, mgr)

	streamer := websocket.NewDecisionStreamer(rt.bus)
	go streamer.Run(ctx)

	if err := rt.forwardChannel(ctx, cfg.Sinks.Redis.Channel); err != nil {
		slog.Warn("Decision channel subscription failed", "error", err)
	}

	opts := api.Options{Streamer: streamer, Gatherer: rt.registry}
	if cfg.Server.RateLimit > 0 {
		opts.Limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.Server.RateLimit,
			BurstSize:         cfg.Server.RateBurst,
		})
		go sweepLimiter(ctx, opts.Limiter)
	}

	server, err := api.NewServer(rt.fw, opts)
	if err != nil {
		return err
	}
	return server.ListenAndServe(ctx, ":"+cfg.Server.Port)
}

// withOverrides returns a copy of c with command-line flags applied.
func withOverrides(c *config.Config, gf *globalFlags) *config.Config {
	cp := *c
	gf.applyOverrides(&cp)
	return &cp
}

func watchReload(ctx context.Context, mgr *config.Manager) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			mgr.Reload()
		}
	}
}

func sweepLimiter(ctx context.Context, rl *middleware.RateLimiter) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep()
		}
	}
}
