package main

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"keygate/internal/client"
	"keygate/internal/config"
	"keygate/internal/protection"
)

// runtime holds the agent components built from configuration
type runtime struct {
	cfg           *config.Config
	logger        *slog.Logger
	api           *client.API
	fingerprinter *client.Fingerprinter
	cache         *client.FileCache
	engine        *client.Engine
	controller    *protection.Controller
}

func newRuntime(cfg *config.Config, logger *slog.Logger, enforcer string) (*runtime, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	checksum, err := client.NewChecksummer(cfg.Client.ChecksumSecret)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:           cfg,
		logger:        logger,
		fingerprinter: client.NewFingerprinter(logger),
		cache:         client.NewFileCache(cfg.Client.CachePath),
		api: client.NewAPI(client.APIConfig{
			BaseURL:    cfg.Client.ServerURL,
			SignSecret: cfg.Security.SignSecret,
			Timeout:    cfg.Client.HTTPTimeout,
			Logger:     logger,
		}),
	}

	rt.engine = client.NewEngine(client.EngineConfig{
		Verifier: rt.api,
		Cache:    rt.cache,
		Checksum: checksum,
		DeviceID: rt.fingerprinter.DeviceID(),
		Retry: client.RetryPolicy{
			Retries:   cfg.Client.RetryAttempts,
			BaseDelay: cfg.Client.RetryBaseDelay,
		},
		CacheTrustWindow: cfg.Client.CacheTrustWindow,
		Logger:           logger,
	})

	var enf protection.Enforcer
	switch enforcer {
	case "marker", "":
		enf = protection.NewMarkerEnforcer(cfg.Client.MarkerPath)
	case "log":
		enf = protection.NewLogEnforcer(logger)
	default:
		return nil, fmt.Errorf("unknown enforcer %q", enforcer)
	}
	rt.controller = protection.NewController(enf, rt.engine, logger)

	return rt, nil
}

// companion builds the hardware agent for key. A kill verdict also drops
// enforcement.
func (rt *runtime) companion(key string) (*client.Agent, error) {
	hw, err := rt.fingerprinter.HardwareID()
	if err != nil {
		return nil, err
	}
	return rt.newAgent(key, hw), nil
}

func (rt *runtime) newAgent(key, hardwareID string) *client.Agent {
	return client.NewAgent(client.AgentConfig{
		API:        rt.api,
		Key:        key,
		HardwareID: hardwareID,
		Interval:   rt.cfg.Client.CompanionInterval,
		Version:    rt.cfg.Client.AppVersion,
		Cache:      rt.cache,
		OnKill: func(ctx context.Context, code string) {
			rt.logger.ErrorContext(ctx, "license killed by server", slog.String("code", code))
			_ = rt.controller.Reconcile(ctx, client.StateBlocked)
		},
		Logger: rt.logger,
	})
}

// run restores the session and keeps it and the protection state current
// until ctx is done.
func (rt *runtime) run(ctx context.Context) error {
	rt.engine.OnChange(rt.controller.Listener(ctx))

	if _, err := rt.engine.Startup(ctx); err != nil {
		rt.logger.WarnContext(ctx, "startup verification failed", slog.String("error", err.Error()))
	}

	sched := client.NewScheduler(rt.logger, nil)
	sched.ScheduleEngine(rt.engine, rt.cfg.Client.HeartbeatInterval, rt.cfg.Client.ReverifyInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(ctx) })
	g.Go(func() error { return rt.controller.Run(ctx, rt.cfg.Client.HeartbeatInterval, nil) })
	err := g.Wait()

	// Leave enforcement off once nothing is keeping the verdict current.
	_ = rt.controller.Reconcile(context.Background(), client.StateNoLicense)
	return err
}
