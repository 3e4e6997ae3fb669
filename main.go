package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/sync/errgroup"

	"tilde/broker/internal/config"
	"tilde/broker/internal/core"
	"tilde/broker/internal/httpapi"
	"tilde/broker/internal/router"
	"tilde/broker/internal/store"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "err", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.ListenAddr, "listen address")
	dsn := flag.String("history-dsn", cfg.HistoryDSN, "SQLite DSN for chat history (\":memory:\" keeps it in-process)")
	debug := flag.Bool("debug", cfg.Debug, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if RunCLI(flag.Args()) {
		return
	}

	slog.Info("starting broker", "version", Version, "addr", *addr, "history_dsn", *dsn)

	hist, err := store.Open(*dsn)
	if err != nil {
		slog.Error("open history store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := hist.Close(); closeErr != nil {
			slog.Error("close history store", "err", closeErr)
		}
	}()

	reg := core.NewRegistry(cfg.SendBuffer)
	rt := router.New(reg, hist)
	server := httpapi.New(reg, rt, hist)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("listening", "addr", *addr)
		return server.Run(ctx, *addr)
	})
	g.Go(func() error {
		RunMetrics(ctx, reg, hist, rt, cfg.MetricsInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("broker error", "err", err)
		os.Exit(1)
	}
	slog.Info("broker stopped")
}
