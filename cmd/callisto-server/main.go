package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callisto/internal/app"
	"callisto/internal/config"
	"callisto/internal/httpapi"
	"callisto/internal/util"
)

func main() {
	cfgPath := "config/callisto.yaml"
	if p := os.Getenv("CALLISTO_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logFileName := fmt.Sprintf("/tmp/callisto-server-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := util.NewTextLogger(w, cfg.Logging.Level)
	util.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to assemble engine: %v", err)
	}
	defer a.Close()

	api := httpapi.NewServer(httpapi.Deps{
		Engine:   a.Exec,
		Manager:  a.Manager,
		Tracker:  a.Tracker,
		Broker:   a.Broker,
		Gate:     a.Gate,
		Prices:   a.Cache,
		Limits:   a.Limits,
		Registry: a.Registry,
		Orch:     a.Orch,
		Bus:      a.Bus,
		Mode:     cfg.Trading.Mode,
		Timeout:  cfg.Trading.BrokerTimeout(),
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Handler(),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		logger.Info("callisto-server listening", "addr", httpServer.Addr, "mode", cfg.Trading.Mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	if err := a.Run(ctx); err != nil {
		log.Fatalf("engine error: %v", err)
	}

	logger.Info("shutting down callisto-server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
