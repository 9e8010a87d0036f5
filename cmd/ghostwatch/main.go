// Command ghostwatch observes an editor's inline-suggestion overlay and
// aggregates it into interest-area intervals.
//
// Usage:
//
//	ghostwatch -remote http://127.0.0.1:9222      # observe + serve HTTP API
//	ghostwatch -config ghostwatch.yaml            # full configuration
//	ghostwatch -export                            # print the session TSV and exit
//	ghostwatch -summary                           # print the summary JSON and exit
//	ghostwatch -mcp                               # serve MCP tools on stdio
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/ghostwatch/bus"
	"github.com/hazyhaar/ghostwatch/ghostdom"
	"github.com/hazyhaar/ghostwatch/store"
	"github.com/hazyhaar/ghostwatch/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to ghostwatch.yaml config file")
	dbPath := flag.String("db", "", "session database path (overrides config)")
	remote := flag.String("remote", "", "DevTools URL of the editor to observe (overrides config)")
	listen := flag.String("listen", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	doExport := flag.Bool("export", false, "print the session's interest-area TSV and exit")
	doSummary := flag.Bool("summary", false, "print the summary JSON and exit")
	doStatus := flag.Bool("status", false, "print the session status and exit")
	doClear := flag.Bool("clear", false, "drop all session data and exit")
	doMCP := flag.Bool("mcp", false, "serve MCP tools on stdio instead of running the daemon")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := tracker.LoadConfig(*configPath)
	if err != nil {
		logger.Error("ghostwatch: config", "error", err)
		os.Exit(1)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *remote != "" {
		cfg.Remote = *remote
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	if err := run(ctx, logger, cfg, *doExport, *doSummary, *doStatus, *doClear, *doMCP); err != nil {
		logger.Error("ghostwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg tracker.Config, doExport, doSummary, doStatus, doClear, doMCP bool) error {
	st, err := store.Open(cfg.DBPath, store.WithMkdirAll())
	if err != nil {
		return err
	}
	defer st.Close()

	tr := tracker.New(st, cfg, tracker.WithLogger(logger))

	switch {
	case doExport:
		return runExport(ctx, tr)
	case doSummary:
		return printJSON(func() (any, error) {
			records, err := tr.Summary(ctx)
			return map[string]any{"records": records}, err
		})
	case doStatus:
		return printJSON(func() (any, error) {
			return tr.Status(ctx), nil
		})
	case doClear:
		return tr.Clear(ctx)
	case doMCP:
		return runMCP(ctx, logger, tr)
	}

	return runDaemon(ctx, logger, cfg, tr)
}

func runDaemon(ctx context.Context, logger *slog.Logger, cfg tracker.Config, tr *tracker.Tracker) error {
	router := bus.NewRouter(bus.WithLogger(logger))
	tracker.RegisterHandlers(router, tr)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           tracker.NewHTTPHandler(tr, router, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		if err := tr.RunPeriodic(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic update", "error", err)
		}
	}()

	if cfg.Remote != "" {
		src, err := ghostdom.Attach(ctx, ghostdom.Config{
			Remote:       cfg.Remote,
			Selectors:    cfg.Selectors,
			PollInterval: cfg.PollInterval,
			Logger:       logger,
		}, router)
		if err != nil {
			return fmt.Errorf("attach: %w", err)
		}
		go func() {
			if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("observer stopped", "error", err)
			}
		}()
	} else {
		logger.Info("no remote configured, serving API only")
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

func runMCP(ctx context.Context, logger *slog.Logger, tr *tracker.Tracker) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "ghostwatch",
		Version: "1.0.0",
	}, nil)
	tracker.RegisterMCP(srv, tr, logger)
	logger.Info("mcp serving on stdio")
	return srv.Run(ctx, &mcp.StdioTransport{})
}

func runExport(ctx context.Context, tr *tracker.Tracker) error {
	res, err := tr.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Print(res.TSV)
	return nil
}

func printJSON(f func() (any, error)) error {
	v, err := f()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
