package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trace-triage/intake"
	"trace-triage/logger"
	"trace-triage/store"
	"trace-triage/tracker"
	"trace-triage/triage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// Load config
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	level := logger.ParseLevel(cfg.Logger.Level)
	var loggers []logger.Logger
	loggers = append(loggers, logger.NewConsole(level, cfg.Logger.Console.Color))

	if cfg.Logger.Structured.Enabled {
		structLog, err := logger.NewStructured(cfg.Logger.Structured.Path, level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to init structured logger: %v\n", err)
			os.Exit(1)
		}
		loggers = append(loggers, structLog)
	}

	var log logger.Logger
	if len(loggers) == 1 {
		log = loggers[0]
	} else {
		log = logger.Multi(loggers...)
	}
	defer log.Close()

	log.Info("triage.starting", logger.String("config", *configPath))

	// Resolve tracker credentials
	password := cfg.Tracker.Password
	if password == "" {
		password = os.Getenv("TRACKER_PASSWORD")
	}
	if password == "" {
		log.Error("config.missing_password",
			logger.String("hint", "set tracker.password in config or the TRACKER_PASSWORD env var"))
		os.Exit(1)
	}

	// Initialize archive store
	var archive store.Store
	switch cfg.Store.Type {
	case "mysql":
		archive, err = store.NewMySQLStore(store.MySQLConfig{
			DSN:             cfg.Store.MySQL.DSN,
			MaxOpenConns:    cfg.Store.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MySQL.MaxIdleConns,
			ConnMaxLifetime: ParseDuration(cfg.Store.MySQL.ConnMaxLifetime, 5*time.Minute),
		}, log)
	case "none":
		archive = nil
	default:
		dbPath := cfg.Store.SQLite.Path
		if dir := filepath.Dir(dbPath); dir != "." {
			os.MkdirAll(dir, 0755)
		}
		archive, err = store.NewSQLiteStore(dbPath, log)
	}
	if err != nil {
		log.Error("store.init_failed", logger.Err(err))
		os.Exit(1)
	}
	if archive != nil {
		defer archive.Close()
	}

	// Initialize components
	trackerClient := tracker.NewClient(tracker.Config{
		BaseURL:            cfg.Tracker.BaseURL,
		Username:           cfg.Tracker.Username,
		Password:           password,
		Project:            cfg.Tracker.Project,
		BoardID:            cfg.Tracker.BoardID,
		IssueType:          cfg.Tracker.IssueType,
		Labels:             cfg.Tracker.Labels,
		TransitionReopenID: cfg.Tracker.TransitionReopenID,
		Timeout:            ParseDuration(cfg.Tracker.Timeout, 30*time.Second),
	}, log)

	resolver := triage.NewResolver(trackerClient, cfg.Tracker.TitlePrefix, log)
	syncer := triage.NewSyncer(trackerClient, cfg.Tracker.TitlePrefix, log)
	pipeline := triage.NewPipeline(resolver, syncer)

	handler := intake.NewHandler(intake.HandlerConfig{
		AuthToken:      cfg.Intake.AuthToken,
		MaxPayloadSize: cfg.Intake.MaxPayloadSize,
	}, pipeline, trackerClient, archive, log)

	// HTTP server
	mux := http.NewServeMux()
	mux.Handle("/", handler)
	mux.HandleFunc("/healthz", handler.ServeHealth)
	mux.HandleFunc("/api/v1/reports", handler.ServeRecords)

	server := &http.Server{
		Addr:              cfg.Intake.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start HTTP server
	fatalCh := make(chan error, 1)
	go func() {
		log.Info("intake.listening", logger.String("addr", cfg.Intake.Listen))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("intake.listen_failed", logger.Err(err))
			fatalCh <- err
		}
	}()

	log.Info("triage.ready",
		logger.String("project", cfg.Tracker.Project),
		logger.String("tracker", cfg.Tracker.BaseURL),
		logger.String("listen", cfg.Intake.Listen),
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("triage.shutdown", logger.String("signal", sig.String()))
	case err := <-fatalCh:
		log.Error("triage.fatal", logger.Err(err))
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server.Shutdown(ctx)

	log.Info("triage.stopped")
}
