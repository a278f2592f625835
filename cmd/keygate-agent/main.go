package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"keygate/internal/client"
	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/pkg/contracts"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "keygate-agent",
		Usage:   "keygate license client: verification engine, protection controller and hardware companion",
		Version: contracts.GetFullVersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{"KEYGATE_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "server",
				Usage:   "license server base URL (overrides client.server_url)",
				EnvVars: []string{"KEYGATE_CLIENT_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:  "enforcer",
				Value: "marker",
				Usage: "protection enforcer: marker or log",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "activate",
				Usage:     "activate a license key on this device",
				ArgsUsage: "KEY",
				Action:    activateCmd,
			},
			{
				Name:   "status",
				Usage:  "show the local license status",
				Action: statusCmd,
			},
			{
				Name:   "verify",
				Usage:  "re-verify the cached license now",
				Action: verifyCmd,
			},
			{
				Name:   "deactivate",
				Usage:  "forget the license on this device",
				Action: deactivateCmd,
			},
			{
				Name:   "run",
				Usage:  "keep the license verified and protection reconciled until interrupted",
				Action: runCmd,
			},
			{
				Name:  "companion",
				Usage: "run the hardware companion heartbeat loop",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "license key (defaults to the cached key)"},
					&cli.BoolFlag{Name: "check-only", Usage: "validate the hardware binding and exit"},
				},
				Action: companionCmd,
			},
			{
				Name:  "report-tamper",
				Usage: "report local tampering; disables the license",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "key", Usage: "license key (defaults to the cached key)"},
					&cli.StringFlag{Name: "reason", Usage: "free-text reason"},
				},
				Action: reportTamperCmd,
			},
			{
				Name:  "check-update",
				Usage: "compare this agent with the published version",
				Action: func(c *cli.Context) error {
					return withRuntime(c, func(ctx context.Context, rt *runtime) error {
						info, err := rt.newAgent("", "").CheckForUpdate(ctx)
						if err != nil {
							return err
						}
						return printJSON(c.App.Writer, info)
					})
				},
			},
			{
				Name:  "fingerprint",
				Usage: "print this device's identifiers",
				Action: func(c *cli.Context) error {
					fp := client.NewFingerprinter(logger(c))
					hw, err := fp.HardwareID()
					if err != nil {
						hw = ""
					}
					return printJSON(c.App.Writer, map[string]interface{}{
						"deviceId":   fp.DeviceID(),
						"hardwareId": hw,
						"attributes": fp.Info(),
					})
				},
			},
		},
	}
}

func activateCmd(c *cli.Context) error {
	key := c.Args().First()
	if key == "" {
		return cli.Exit("a license key is required", 2)
	}
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		st, err := rt.engine.Activate(ctx, key)
		_ = rt.controller.Reconcile(ctx, st.State)
		if perr := printJSON(c.App.Writer, st); perr != nil {
			return perr
		}
		return err
	})
}

func statusCmd(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		if _, err := rt.engine.Startup(ctx); err != nil {
			rt.logger.WarnContext(ctx, "status refresh failed", slog.String("error", err.Error()))
		}
		st := rt.engine.Status(ctx)
		_ = rt.controller.Reconcile(ctx, st.State)
		return printJSON(c.App.Writer, st)
	})
}

func verifyCmd(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		st, err := rt.engine.ForceVerify(ctx)
		_ = rt.controller.Reconcile(ctx, st.State)
		if perr := printJSON(c.App.Writer, st); perr != nil {
			return perr
		}
		return err
	})
}

func deactivateCmd(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		if err := rt.engine.Deactivate(ctx); err != nil {
			return err
		}
		return rt.controller.Reconcile(ctx, client.StateNoLicense)
	})
}

func runCmd(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		return rt.run(ctx)
	})
}

func companionCmd(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		agent, err := rt.companion(resolveKey(ctx, c, rt))
		if err != nil {
			return err
		}
		if c.Bool("check-only") {
			resp, err := agent.Activate(ctx, true)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, resp)
		}

		if info, err := agent.CheckForUpdate(ctx); err == nil && info.Available {
			rt.logger.WarnContext(ctx, "update available",
				slog.String("latest_version", info.LatestVersion),
				slog.String("update_url", info.UpdateURL))
		}
		return agent.Run(ctx)
	})
}

func reportTamperCmd(c *cli.Context) error {
	return withRuntime(c, func(ctx context.Context, rt *runtime) error {
		agent, err := rt.companion(resolveKey(ctx, c, rt))
		if err != nil {
			return err
		}
		if err := agent.ReportTamper(ctx, c.String("reason")); err != nil {
			return err
		}
		if err := rt.engine.Deactivate(ctx); err != nil {
			return err
		}
		return rt.controller.Reconcile(ctx, client.StateNoLicense)
	})
}

func resolveKey(ctx context.Context, c *cli.Context, rt *runtime) string {
	if key := c.String("key"); key != "" {
		return key
	}
	key, _ := rt.engine.CachedKey(ctx)
	return key
}

// withRuntime loads configuration, builds the runtime and runs fn with a
// context cancelled on SIGINT or SIGTERM.
func withRuntime(c *cli.Context, fn func(ctx context.Context, rt *runtime) error) error {
	if path := c.String("config"); path != "" {
		if err := os.Setenv(config.EnvPrefix+"_CONFIG", path); err != nil {
			return err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if server := c.String("server"); server != "" {
		cfg.Client.ServerURL = server
	}

	rt, err := newRuntime(cfg, logger(c), c.String("enforcer"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, rt)
}

func logger(c *cli.Context) *slog.Logger {
	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	return infrastructure.NewLogger(c.App.ErrWriter, level)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
