package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("Failed to load the config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     cfg.SlogLevel(),
	}))

	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Server run error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config) error {
	db, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := NewFileStore(cfg.PublicDir, cfg.MaxImageSize)
	if err != nil {
		return err
	}

	renderer, err := NewTemplateRenderer()
	if err != nil {
		return err
	}

	metrics := NewMetrics()
	auth := NewAuthService(db, NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL), cfg.BcryptCost)
	gallery := NewGallery(db, files, metrics, cfg.FreeTierLimit)

	server := NewAPIServer(cfg, auth, gallery, renderer, metrics)

	return server.Run(ctx)
}
