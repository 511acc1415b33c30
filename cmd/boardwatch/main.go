// Command boardwatch watches a live chess board and prints each confirmed
// position change.
//
// Usage:
//
//	boardwatch -config boardwatch.yaml           # run from a YAML config
//	boardwatch -url https://example.org/tv        # quick browser watch, stdout sink
//	boardwatch -url https://example.org/tv -static -selector '#board' -attr data-fen
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/boardwatch/boardwatch"
)

func main() {
	configPath := flag.String("config", "", "path to boardwatch.yaml config file")
	pageURL := flag.String("url", "", "watch a single board URL (stdout sink)")
	static := flag.Bool("static", false, "with -url: read static HTML instead of a browser")
	selector := flag.String("selector", "", "with -url: CSS selector of the board element")
	attr := flag.String("attr", "", "with -url: attribute holding the position")
	addr := flag.String("addr", "", "HTTP API listen address (overrides config)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
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

	var cfg *boardwatch.Config
	var err error
	switch {
	case *configPath != "":
		cfg, err = boardwatch.LoadConfigFile(*configPath)
		if err != nil {
			logger.Error("boardwatch: load config", "error", err)
			os.Exit(1)
		}
	case *pageURL != "":
		cfg = &boardwatch.Config{
			Browser: boardwatch.BrowserConfig{Disabled: *static},
			Page: boardwatch.PageConfig{
				URL:       *pageURL,
				Selector:  *selector,
				Attribute: *attr,
			},
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			logger.Error("boardwatch: invalid flags", "error", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "usage: boardwatch -config <file> | -url <url> [-static -selector <css> -attr <name>]")
		os.Exit(2)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("boardwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *boardwatch.Config) error {
	w, err := boardwatch.New(cfg, logger, boardwatch.SinksFromConfig(cfg, logger))
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	if cfg.HTTP.Addr == "" {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("boardwatch: http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
