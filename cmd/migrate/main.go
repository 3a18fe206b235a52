package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dropDatabas3/tubelink/internal/config"
	"github.com/dropDatabas3/tubelink/internal/store/pg"
	migrations "github.com/dropDatabas3/tubelink/migrations/postgres"
)

// uso: migrate [-config path] [up|down] [steps]
func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to YAML config")
	flag.Parse()
	_ = godotenv.Load()

	action := "up"
	steps := 1
	args := flag.Args()
	if len(args) >= 1 && args[0] != "" {
		action = strings.ToLower(args[0])
	}
	if len(args) >= 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			log.Fatalf("steps must be a positive integer: %q", args[1])
		}
		steps = n
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}
	if cfg.Storage.DSN == "" {
		log.Fatal("STORAGE_DSN is required")
	}

	ctx := context.Background()
	store, err := pg.New(ctx, cfg.Storage.DSN, pg.Options{TenantTable: cfg.Storage.Postgres.TenantTable})
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer store.Close()

	switch action {
	case "up":
		n, err := pg.Migrate(ctx, store.Pool(), migrations.FS, migrations.Dir)
		if err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Printf("applied %d migration(s)", n)
	case "down":
		n, err := pg.Rollback(ctx, store.Pool(), migrations.FS, migrations.Dir, steps)
		if err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Printf("rolled back %d migration(s)", n)
	default:
		log.Fatalf("unknown action %q (up|down)", action)
	}
}
