package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/auditsync/internal/app"
	"github.com/atvirokodosprendimai/auditsync/internal/config"
	"github.com/atvirokodosprendimai/auditsync/internal/platform/logger"
)

func main() {
	cmd := &cli.Command{
		Name:  "auditsync",
		Usage: "Collect Domo activity logs across instances into one dataset",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Value: config.DefaultEnvFiles,
				Usage: "Env files to load when present; variables already set win",
			},
			&cli.StringFlag{
				Name:  "db-path",
				Usage: "SQLite run ledger path (overrides DB_PATH)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (overrides LOG_LEVEL)",
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			downloadCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Fetch every instance's activity log for a date range and upload it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Required: true, Usage: "Start date, YYYY-MM-DD"},
			&cli.StringFlag{Name: "end", Required: true, Usage: "End date, YYYY-MM-DD"},
			&cli.StringFlag{Name: "dataset-id", Usage: "Target dataset; created when empty (overrides DATASET_ID)"},
			&cli.StringFlag{Name: "credentials", Usage: "Instance credentials CSV (overrides CREDENTIALS_FILE)"},
			&cli.StringFlag{Name: "output", Usage: "Local CSV output path (overrides OUTPUT_PATH)"},
			&cli.IntFlag{Name: "batch-size", Usage: "Audit page size (overrides BATCH_SIZE)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, l, err := openApp(ctx, c, func(cfg *config.Config) {
				if c.IsSet("dataset-id") {
					cfg.DatasetID = c.String("dataset-id")
				}
				if c.IsSet("credentials") {
					cfg.CredentialsFile = c.String("credentials")
				}
				if c.IsSet("output") {
					cfg.OutputPath = c.String("output")
				}
				if c.IsSet("batch-size") {
					cfg.BatchSize = c.Int("batch-size")
				}
			})
			if err != nil {
				return err
			}
			defer closeApp(a, l)

			report, err := a.Sync(ctx, a.SyncRequest(c.String("start"), c.String("end")))
			if report.ID != "" {
				fmt.Fprintf(os.Stdout, "run %s %s records=%d dataset=%s failed_tenants=%d\n",
					report.ID, report.Status, report.TotalRecords, report.DatasetID, len(report.Failed()))
			}
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			return nil
		},
	}
}

func downloadCommand() *cli.Command {
	return &cli.Command{
		Name:  "download",
		Usage: "Download a dataset's data as CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dataset-id", Usage: "Dataset to download (defaults to DATASET_ID)"},
			&cli.StringFlag{Name: "output", Value: "data/dataset_download.csv", Usage: "Local CSV output path"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, l, err := openApp(ctx, c, nil)
			if err != nil {
				return err
			}
			defer closeApp(a, l)

			path, err := a.Download(ctx, c.String("dataset-id"), c.String("output"))
			if err != nil {
				return fmt.Errorf("download: %w", err)
			}
			fmt.Fprintln(os.Stdout, path)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the run status API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "HTTP listen address (overrides ADDR)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			a, l, err := openApp(ctx, c, func(cfg *config.Config) {
				if c.IsSet("addr") {
					cfg.Addr = c.String("addr")
				}
			})
			if err != nil {
				return err
			}
			defer closeApp(a, l)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := a.Server(ctx)
			errCh := make(chan error, 1)
			go func() {
				l.Info("listening", zap.String("addr", server.Addr))
				errCh <- server.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				l.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func openApp(ctx context.Context, c *cli.Command, override func(*config.Config)) (*app.App, *zap.Logger, error) {
	cfg, err := config.Load(c.StringSlice("env-file")...)
	if err != nil {
		return nil, nil, err
	}
	if c.IsSet("db-path") {
		cfg.DBPath = c.String("db-path")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	l, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, l)
	if err != nil {
		_ = l.Sync()
		return nil, nil, fmt.Errorf("create app: %w", err)
	}
	return a, l, nil
}

func closeApp(a *app.App, l *zap.Logger) {
	if err := a.Close(); err != nil {
		l.Error("close resources", zap.Error(err))
	}
	_ = l.Sync()
}
