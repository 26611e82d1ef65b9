package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/pagesync/internal"
	pkgconfig "github.com/starford/pagesync/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// interruptible cancels ctx on SIGINT or SIGTERM. serve installs its own
// handler so it can drain the HTTP server first.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func syncOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Bool("trust-timestamps") {
		cfg.Sync.TrustTimestamps = true
	}
	if cmd.Bool("no-build") {
		cfg.Hugo.Build = false
		cfg.Hugo.Deploy = false
	}
	ctx, stop := interruptible(ctx)
	defer stop()
	if _, err := internal.Sync(ctx, cmd.String("mode"), internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := interruptible(ctx)
	defer stop()
	return internal.ServeMCP(ctx, internal.WithConfig(cfg))
}

func status(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := interruptible(ctx)
	defer stop()
	return internal.PrintStatus(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:  "pagesync",
		Usage: "Mirror Notion databases into a Hugo content tree",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "sync",
				Usage:  "Run one sync pass and print its summary",
				Action: syncOnce,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Usage: "incremental or full (defaults to sync.mode from config)",
					},
					&cli.BoolFlag{
						Name:  "trust-timestamps",
						Usage: "Skip fetching pages whose last edit time is unchanged",
					},
					&cli.BoolFlag{
						Name:  "no-build",
						Usage: "Do not build or deploy the site after the pass",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and run scheduled and drift-triggered passes",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
			},
			{
				Name:   "status",
				Usage:  "Print the current sync status and last run",
				Action: status,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
