package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nfrund/collegeos/internal/app"
	"github.com/nfrund/collegeos/internal/config"
	"github.com/nfrund/collegeos/internal/logging"
)

func main() {
	cfg := config.MustNew()
	logging.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := app.New(ctx, cfg)
	defer c.Close(context.Background())

	s, err := c.Server()
	if err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	if err := s.Start(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
}
