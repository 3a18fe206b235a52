package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/tubelink/internal/app"
	"github.com/dropDatabas3/tubelink/internal/config"
	"github.com/dropDatabas3/tubelink/internal/http/server"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "ruta al config.yaml (opcional)")
	envFile := flag.String("env-file", ".env", "archivo .env a cargar si existe")
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
			log.Printf("env file %s: %v", *envFile, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.App.LogLevel,
		ServiceName: "tubelink",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.L().Error("service stopped with error", logger.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.L().Info("service stopped")
}

// run bloquea hasta SIGINT/SIGTERM o hasta que el server o el scanner fallen.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg, app.Options{})
	if err != nil {
		return fmt.Errorf("wiring: %w", err)
	}
	defer c.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, c.Handler, server.Options{
			Addr:            cfg.Server.Addr,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		})
	})
	if cfg.Scan.Enabled {
		g.Go(func() error { return c.Scanner.Run(gctx) })
	} else {
		logger.L().Info("background scan disabled")
	}
	return g.Wait()
}
