package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/clientmail/cmd"
	"github.com/dhcgn/clientmail/config"
	"github.com/dhcgn/clientmail/correlate"
	"github.com/dhcgn/clientmail/filter"
	"github.com/dhcgn/clientmail/imap"
	"github.com/dhcgn/clientmail/ingest"
	"github.com/dhcgn/clientmail/model"
	"github.com/dhcgn/clientmail/output"
	"github.com/dhcgn/clientmail/progress"
	"github.com/dhcgn/clientmail/runner"
	"github.com/dhcgn/clientmail/stats"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clientmail",
		Short: "Correlate mail with the client directory and bundle it per client",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting clientmail", "directory", cfg.DirectoryPath, "policy", string(cfg.Policy), "shards", cfg.Shards, "imap", cfg.UsesIMAP())

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(
		cmd.NewAddressStatsCommand(setupLogger),
		cmd.NewDirectoryCommand(setupLogger),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	book, closeBook, err := cmd.OpenBook(ctx, cfg.DirectoryPath)
	if err != nil {
		return err
	}
	defer func() { _ = closeBook() }()
	snap, err := book.Snapshot()
	if err != nil {
		return fmt.Errorf("client directory: %w", err)
	}

	inbound, outbound, err := loadMail(ctx, cfg, logger)
	if err != nil {
		return err
	}

	f, err := filter.New(cfg.FilterOptions())
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	r, err := runner.New(runner.Options{Shards: cfg.Shards, Workers: cfg.Workers}, correlate.Options{
		Policy:        cfg.Policy,
		EagerPackages: cfg.Eager,
		Filter:        f,
	}, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	barLevel := cfg.Level
	if cfg.OutputDir == "" {
		// stdout carries the JSON result
		barLevel = "off"
	}
	bar := progress.New(r.Shards(), len(inbound), len(outbound), snap.Len(), barLevel)
	progress.NewProgressReporter(r, bar, logger)
	reporter := stats.NewReporter(r, logger)

	packages, err := r.Run(ctx, inbound, outbound, snap)
	bar.Stop()
	if err != nil {
		return err
	}
	logger.Debug("run summary", reporter.Summary().LogAttrs()...)

	dedupStats := stats.NewCollector()
	writer := output.NewWriter(output.Options{Dir: cfg.OutputDir, Dedup: cfg.Dedup}, os.Stdout, dedupStats, logger)
	if err := writer.Write(packages); err != nil {
		return err
	}
	logger.Info("bundles written", "packages", len(packages), "duplicatesRemoved", dedupStats.Snapshot().Duplicates)
	return nil
}

func loadMail(ctx context.Context, cfg config.Config, logger *slog.Logger) (inbound, outbound []model.RawMessage, err error) {
	if cfg.UsesIMAP() {
		fetcher, err := imap.NewFetcher(cfg.IMAPOptions(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("imap.NewFetcher: %w", err)
		}
		return fetcher.FetchAll(ctx)
	}

	inbound, err = ingest.LoadFile(ctx, cfg.InboundPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load inbound: %w", err)
	}
	outbound, err = ingest.LoadFile(ctx, cfg.OutboundPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load outbound: %w", err)
	}
	return inbound, outbound, nil
}

func setupLogger(cfg config.Logging) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.Level {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	// Results go to stdout when no --output is set; logs use stderr.
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.Dir, fmt.Sprintf("clientmail-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
