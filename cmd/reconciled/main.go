// Command reconciled serves the collaborative document API.
// Usage: reconciled [-config FILE] [-listen ADDR]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raysh454/reconcile/internal/app"
	"github.com/raysh454/reconcile/internal/config"
	"github.com/raysh454/reconcile/internal/logging"
	"github.com/raysh454/reconcile/internal/metrics"
	"github.com/raysh454/reconcile/internal/server"
	"github.com/raysh454/reconcile/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "reconciled:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("reconciled", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to the YAML configuration file")
	listen := fs.String("listen", "", "Override server.listen_addr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}

	logger, err := logging.New(cfg.Log, "reconciled")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc, err := app.NewService(&cfg.Service, st, logger, app.WithMetrics(m))
	if err != nil {
		_ = st.Close()
		return err
	}
	application := app.NewApplication(&cfg.Service, logger, svc, st)

	srv, err := server.NewServer(cfg.Server, svc, logger, server.WithMetrics(m, reg))
	if err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}
	httpServer := srv.HTTPServer()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", logging.Field{Key: "addr", Value: cfg.Server.ListenAddr})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err = <-serveErr:
		logger.Error("server failed", logging.Field{Key: "error", Value: err})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by http.Server; they end when
	// the application closes their subscriptions.
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if e := application.Shutdown(shutdownCtx); e != nil {
		shutdownErr = errors.Join(shutdownErr, e)
	}
	return errors.Join(err, shutdownErr)
}
