package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"keygate/internal/client"
	"keygate/internal/infrastructure"
	"keygate/pkg/contracts"
	api "keygate/pkg/contracts/api/v1"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	keyArg := func(name, usage string, action func(ctx context.Context, c *cli.Context, admin *client.Admin, key string) (interface{}, error)) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     usage,
			ArgsUsage: "KEY",
			Action: adminAction(func(ctx context.Context, c *cli.Context, admin *client.Admin) (interface{}, error) {
				key := c.Args().First()
				if key == "" {
					return nil, cli.Exit("a license key is required", 2)
				}
				return action(ctx, c, admin, key)
			}),
		}
	}

	return &cli.App{
		Name:    "keygatectl",
		Usage:   "administer a keygate license server",
		Version: contracts.GetFullVersionString(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Value:   "http://localhost:8080",
				Usage:   "license server base URL",
				EnvVars: []string{"KEYGATE_SERVER_URL"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "admin bearer token",
				EnvVars: []string{"KEYGATE_ADMIN_TOKEN"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 15 * time.Second,
				Usage: "request timeout",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "issue a new license key",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "days", Usage: "validity in days (server default when 0)"},
					&cli.StringFlag{Name: "label", Usage: "free-text label"},
				},
				Action: adminAction(func(ctx context.Context, c *cli.Context, admin *client.Admin) (interface{}, error) {
					return admin.Create(ctx, api.CreateKeyRequest{
						ExpiresInDays: c.Int("days"),
						Label:         c.String("label"),
					})
				}),
			},
			{
				Name:  "list",
				Usage: "list every license",
				Action: adminAction(func(ctx context.Context, _ *cli.Context, admin *client.Admin) (interface{}, error) {
					return admin.List(ctx)
				}),
			},
			keyArg("get", "show one license", func(ctx context.Context, _ *cli.Context, admin *client.Admin, key string) (interface{}, error) {
				return admin.Get(ctx, key)
			}),
			keyArg("revoke", "revoke a license permanently", func(ctx context.Context, _ *cli.Context, admin *client.Admin, key string) (interface{}, error) {
				return admin.Revoke(ctx, key)
			}),
			{
				Name:  "kill",
				Usage: "set or clear a license's kill switch",
				Subcommands: []*cli.Command{
					keyArg("on", "kill the license on every device", func(ctx context.Context, _ *cli.Context, admin *client.Admin, key string) (interface{}, error) {
						return admin.ToggleKill(ctx, key, true)
					}),
					keyArg("off", "clear the kill switch", func(ctx context.Context, _ *cli.Context, admin *client.Admin, key string) (interface{}, error) {
						return admin.ToggleKill(ctx, key, false)
					}),
				},
			},
			func() *cli.Command {
				cmd := keyArg("reset", "clear a license's device or hardware binding", func(ctx context.Context, c *cli.Context, admin *client.Admin, key string) (interface{}, error) {
					return admin.Reset(ctx, key, c.String("target"))
				})
				cmd.Flags = []cli.Flag{
					&cli.StringFlag{Name: "target", Value: "all", Usage: "binding to clear: device, hardware or all"},
				}
				return cmd
			}(),
			{
				Name:  "export",
				Usage: "export every license as CSV or XLSX",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "csv", Usage: "csv or xlsx"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (stdout when empty)"},
				},
				Action: func(c *cli.Context) error {
					admin := newAdmin(c)
					data, err := admin.Export(c.Context, c.String("format"))
					if err != nil {
						return err
					}
					if out := c.String("out"); out != "" {
						return os.WriteFile(out, data, 0o644)
					}
					_, err = c.App.Writer.Write(data)
					return err
				},
			},
			{
				Name:  "settings",
				Usage: "read or update the published client settings",
				Subcommands: []*cli.Command{
					{
						Name:  "get",
						Usage: "show the current settings",
						Action: adminAction(func(ctx context.Context, _ *cli.Context, admin *client.Admin) (interface{}, error) {
							return admin.Settings(ctx)
						}),
					},
					{
						Name:  "set",
						Usage: "publish a new latest version",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "latest-version", Required: true},
							&cli.StringFlag{Name: "update-url"},
						},
						Action: adminAction(func(ctx context.Context, c *cli.Context, admin *client.Admin) (interface{}, error) {
							return admin.UpdateSettings(ctx, api.UpdateSettingsRequest{
								LatestVersion: c.String("latest-version"),
								UpdateURL:     c.String("update-url"),
							})
						}),
					},
				},
			},
			{
				Name:  "health",
				Usage: "check server and store health",
				Action: adminAction(func(ctx context.Context, _ *cli.Context, admin *client.Admin) (interface{}, error) {
					return admin.Health(ctx)
				}),
			},
		},
	}
}

// adminAction runs fn against an admin client and prints its result as JSON
func adminAction(fn func(ctx context.Context, c *cli.Context, admin *client.Admin) (interface{}, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		out, err := fn(c.Context, c, newAdmin(c))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, out)
	}
}

func newAdmin(c *cli.Context) *client.Admin {
	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	logger := infrastructure.NewLogger(c.App.ErrWriter, level)
	return client.NewAdmin(c.String("server"), c.String("token"), c.Duration("timeout"), logger)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
