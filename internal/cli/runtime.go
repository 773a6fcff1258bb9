package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/api/option"

	"github.com/ocx/uaal/internal/config"
	"github.com/ocx/uaal/internal/drift"
	"github.com/ocx/uaal/internal/enforce"
	"github.com/ocx/uaal/internal/events"
	"github.com/ocx/uaal/internal/firewall"
	"github.com/ocx/uaal/internal/infra"
	"github.com/ocx/uaal/internal/metrics"
	"github.com/ocx/uaal/internal/policy"
	"github.com/ocx/uaal/internal/risk"
	"github.com/ocx/uaal/internal/store"
	"github.com/ocx/uaal/internal/webhooks"
)

// runtime is a fully wired firewall plus everything that must be closed
// with it.
type runtime struct {
	fw       *firewall.Firewall
	bus      *events.EventBus
	redis    *infra.GoRedisAdapter
	gradual  *enforce.GradualEnforcer
	registry *prometheus.Registry
	sinks    []string
	closers  []func() error
}

// buildOptions selects the optional parts of a runtime.
type buildOptions struct {
	// localBus feeds decisions into an in-process bus for the dashboard.
	localBus bool
}

func buildRuntime(ctx context.Context, cfg *config.Config, bo buildOptions) (_ *runtime, err error) {
	rt := &runtime{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			rt.closeAll()
		}
	}()

	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(rt.registry)

	thresholds, err := cfg.Firewall.DriftThresholds()
	if err != nil {
		return nil, err
	}

	engine := policy.DefaultEngine()
	if cfg.Policy.RulesFile != "" {
		engine, err = policy.LoadFile(cfg.Policy.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
	}

	if cfg.Sinks.Redis.Addr != "" {
		adapter, err := infra.NewGoRedisAdapter(cfg.Sinks.Redis.Addr, cfg.Sinks.Redis.Password, cfg.Sinks.Redis.DB)
		if err != nil {
			slog.Warn("Redis unavailable, continuing without it", "addr", cfg.Sinks.Redis.Addr, "error", err)
		} else {
			rt.redis = adapter
			rt.closers = append(rt.closers, adapter.Close)
		}
	}

	var window risk.Window
	if rt.redis != nil && cfg.Sinks.Redis.SharedWindow {
		window = risk.NewRedisWindow(rt.redis, cfg.Sinks.Redis.WindowKey)
	}
	coordinated := risk.NewCoordinatedDetector(window,
		risk.WithSpan(cfg.Firewall.CoordinatedWindow),
		risk.WithEntityThreshold(cfg.Firewall.CoordinatedThreshold),
	)

	var anomaly risk.AnomalyModel
	if cfg.Anomaly.Endpoint != "" {
		anomaly = risk.NewHTTPAnomalyModel(cfg.Anomaly.Endpoint, cfg.Anomaly.Timeout)
	}

	sinks, err := rt.buildSinks(ctx, cfg, bo)
	if err != nil {
		return nil, err
	}

	mode, err := enforce.ParseMode(cfg.Firewall.Mode)
	if err != nil {
		return nil, err
	}
	opts := []enforce.Option{
		enforce.WithSinks(sinks...),
		enforce.WithSinkTimeout(cfg.Sinks.Timeout),
		enforce.WithMetrics(m),
	}
	if cfg.Rollout.Enabled {
		rt.gradual = newGradual(cfg.Rollout)
		opts = append(opts, enforce.WithBlocker(rt.gradual))
	}
	enforcer := enforce.NewEnforcer(mode, opts...)

	st, err := openStore(ctx, cfg.Firewall.Store)
	if err != nil {
		return nil, err
	}

	aggregator := risk.Aggregator{ZScoreThreshold: cfg.Firewall.ZScoreThreshold}
	rt.fw = firewall.New(firewall.Options{
		Detector:    drift.NewDetector(thresholds),
		Policy:      engine,
		Coordinated: coordinated,
		Aggregator:  &aggregator,
		Anomaly:     anomaly,
		Enforcer:    enforcer,
		Store:       st,
		Metrics:     m,
	})

	slog.Info("Firewall ready",
		"mode", mode,
		"policy_version", engine.Version(),
		"store", cfg.Firewall.Store.Kind,
		"sinks", rt.sinks,
		"shared_window", window != nil,
	)
	return rt, nil
}

func (rt *runtime) buildSinks(ctx context.Context, cfg *config.Config, bo buildOptions) ([]enforce.Sink, error) {
	var sinks []enforce.Sink
	add := func(s enforce.Sink) {
		sinks = append(sinks, s)
		rt.sinks = append(rt.sinks, s.Name())
	}

	sc := cfg.Sinks
	if sc.Webhook.URL != "" {
		add(enforce.NewDeliverySink("webhook", webhooks.NewSender(sc.Webhook.URL, sc.Webhook.Secret, sc.Timeout)))
	}

	if sc.CloudTasks.ProjectID != "" {
		sender, err := webhooks.NewCloudTasksSender(ctx,
			sc.CloudTasks.ProjectID, sc.CloudTasks.LocationID, sc.CloudTasks.QueueID,
			sc.CloudTasks.TargetURL, sc.Webhook.Secret)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, sender.Close)
		add(enforce.NewDeliverySink("cloudtasks", sender))
	}

	if sc.PubSub.ProjectID != "" {
		var opts []option.ClientOption
		if sc.PubSub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(sc.PubSub.CredentialsFile))
		}
		bus, err := events.NewPubSubEventBus(ctx, sc.PubSub.ProjectID, sc.PubSub.TopicID, opts...)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, bus.Close)
		add(enforce.NewEventSink("pubsub", bus))
	}

	if rt.redis != nil && sc.Redis.Channel != "" {
		add(enforce.NewChannelSink(sc.Redis.Channel, rt.redis))
	}

	if bo.localBus {
		rt.bus = events.NewEventBus()
		// With Redis the dashboard is fed from the shared channel instead,
		// so every instance's decisions reach it exactly once.
		if rt.redis == nil || sc.Redis.Channel == "" {
			add(enforce.NewEventSink("bus", rt.bus))
		}
	}

	return sinks, nil
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Kind {
	case "", "memory":
		return store.NewRingStore(sc.Capacity), nil
	default:
		return store.OpenSQL(ctx, sc.Kind, sc.DSN)
	}
}

func newGradual(rc config.RolloutConfig) *enforce.GradualEnforcer {
	seed := rc.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return enforce.NewGradualEnforcer(rc.CurrentPercentage, rc.Exceptions, seed)
}

// apply pushes reloadable settings into a running firewall.
func (rt *runtime) apply(cfg *config.Config) {
	enforcer := rt.fw.Enforcer()

	if mode, err := enforce.ParseMode(cfg.Firewall.Mode); err == nil {
		enforcer.SetMode(mode)
	}

	switch {
	case !cfg.Rollout.Enabled:
		rt.gradual = nil
		enforcer.SetBlocker(nil)
	case rt.gradual == nil:
		rt.gradual = newGradual(cfg.Rollout)
		enforcer.SetBlocker(rt.gradual)
	default:
		rt.gradual.Update(cfg.Rollout.CurrentPercentage, cfg.Rollout.Exceptions)
	}
}

// forwardChannel relays decision events from the shared Redis channel into
// the local bus.
func (rt *runtime) forwardChannel(ctx context.Context, channel string) error {
	if rt.redis == nil || rt.bus == nil || channel == "" {
		return nil
	}
	unsubscribe, err := rt.redis.Subscribe(ctx, channel, func(msg []byte) {
		var ev events.CloudEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			slog.Warn("Dropping malformed decision event", "channel", channel, "error", err)
			return
		}
		rt.bus.Publish(ctx, &ev)
	})
	if err != nil {
		return err
	}
	rt.closers = append(rt.closers, func() error {
		unsubscribe()
		return nil
	})
	return nil
}

// close drains in-flight emissions, then releases resources in reverse
// order of creation.
func (rt *runtime) close(ctx context.Context) error {
	var errs []error
	if rt.fw != nil {
		errs = append(errs, rt.fw.Close(ctx))
	}
	errs = append(errs, rt.closeAll())
	return errors.Join(errs...)
}

func (rt *runtime) closeAll() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	return errors.Join(errs...)
}
