package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tasktracker/internal/auth"
	"tasktracker/internal/config"
	"tasktracker/internal/server"
	"tasktracker/internal/storage/sqlite"
	"tasktracker/internal/tasks"
	"tasktracker/internal/util"
)

func main() {
	configFlag := pflag.String("config", util.EnvOrDefault("TASKTRACKER_CONFIG", ""), "Path to YAML config file")
	config.RegisterFlags(pflag.CommandLine)
	pflag.Parse()

	cfg, err := config.Load(*configFlag, pflag.CommandLine)
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	level, err := cfg.Level()
	if err != nil {
		slog.Error("invalid log level", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	logger.Info("task tracker starting", slog.String("addr", cfg.Addr), slog.String("db", cfg.DBPath))

	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = randomSecret()
		logger.Warn("jwt secret not configured; using a random secret, sessions will not survive a restart")
	}

	store, err := sqlite.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("unable to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()

	authSvc, err := auth.NewService(store, auth.Options{
		Secret:     secret,
		TokenTTL:   cfg.TokenTTL,
		BcryptCost: cfg.BcryptCost,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("unable to configure authentication", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if cfg.Admin.Email != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := authSvc.EnsureAdmin(ctx, cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password)
		cancel()
		if err != nil {
			logger.Error("unable to ensure admin account", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	taskSvc := tasks.NewService(store, tasks.Options{
		AuditAttempts: cfg.AuditRetries,
		Logger:        logger,
	})

	srv := server.New(authSvc, taskSvc, logger, server.Options{
		StaticDir:       cfg.StaticDir,
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		CORSOrigins:     cfg.CORSOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", slog.String("error", err.Error()))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("failed to shutdown server", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return []byte(hex.EncodeToString(buf))
}
