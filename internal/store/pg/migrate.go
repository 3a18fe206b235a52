package pg

import (
	"context"
	"fmt"
	"hash/fnv"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

const migrationLockName = "tubelink:migrate"

func migrationLockID() int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(migrationLockName))
	return int64(h.Sum64())
}

// withMigrationLock toma un advisory lock en una conexión dedicada y lo libera al salir.
// Evita que dos réplicas apliquen la misma migración a la vez.
func withMigrationLock(ctx context.Context, pool *pgxpool.Pool, wait time.Duration, fn func(ctx context.Context) error) error {
	lockID := migrationLockID()
	log := logger.L().With(logger.Layer("store"), logger.Component("migrate"))

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if wait <= 0 {
		wait = 30 * time.Second
	}
	lctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var got bool
	if err := conn.QueryRow(lctx, "select pg_try_advisory_lock($1)", lockID).Scan(&got); err != nil {
		return err
	}
	if !got {
		log.Info("migration lock held, waiting", zap.Int64("lock_id", lockID))
		if _, err := conn.Exec(lctx, "select pg_advisory_lock($1)", lockID); err != nil {
			return err
		}
	}
	defer func() {
		if _, err := conn.Exec(context.Background(), "select pg_advisory_unlock($1)", lockID); err != nil {
			log.Warn("migration lock release failed", zap.Int64("lock_id", lockID), logger.Err(err))
		}
	}()

	return fn(ctx)
}

// listMigrations devuelve los scripts con el sufijo dado, ordenados lexicográficamente.
func listMigrations(fsys fs.FS, dir, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate aplica los *_up.sql pendientes de fsys/dir. Cada script corre en su propia
// transacción y queda registrado en schema_migrations por nombre de archivo.
func Migrate(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string) (int, error) {
	var applied int
	err := withMigrationLock(ctx, pool, 30*time.Second, func(ctx context.Context) error {
		if _, err := pool.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version TEXT PRIMARY KEY,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`); err != nil {
			return fmt.Errorf("ensure schema_migrations: %w", err)
		}

		done, err := appliedVersions(ctx, pool)
		if err != nil {
			return err
		}
		files, err := listMigrations(fsys, dir, "_up.sql")
		if err != nil {
			return err
		}

		log := logger.L().With(logger.Layer("store"), logger.Component("migrate"))
		for _, name := range files {
			if done[name] {
				continue
			}
			b, err := fs.ReadFile(fsys, path.Join(dir, name))
			if err != nil {
				return err
			}
			tx, err := pool.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin tx: %w", err)
			}
			if _, err := tx.Exec(ctx, string(b)); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("exec %s: %w", name, err)
			}
			if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("record version %s: %w", name, err)
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit tx: %w", err)
			}
			log.Info("migration applied", zap.String("version", name))
			applied++
		}
		return nil
	})
	return applied, err
}

// Rollback revierte las últimas steps migraciones aplicadas usando su *_down.sql.
func Rollback(ctx context.Context, pool *pgxpool.Pool, fsys fs.FS, dir string, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	var reverted int
	err := withMigrationLock(ctx, pool, 30*time.Second, func(ctx context.Context) error {
		done, err := appliedVersions(ctx, pool)
		if err != nil {
			return err
		}
		files, err := listMigrations(fsys, dir, "_up.sql")
		if err != nil {
			return err
		}
		for i := len(files) - 1; i >= 0 && reverted < steps; i-- {
			up := files[i]
			if !done[up] {
				continue
			}
			down := strings.TrimSuffix(up, "_up.sql") + "_down.sql"
			b, err := fs.ReadFile(fsys, path.Join(dir, down))
			if err != nil {
				return fmt.Errorf("missing %s: %w", down, err)
			}
			tx, err := pool.Begin(ctx)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, string(b)); err != nil {
				_ = tx.Rollback(ctx)
				return fmt.Errorf("exec %s: %w", down, err)
			}
			if _, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", up); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return err
			}
			reverted++
		}
		return nil
	})
	return reverted, err
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}
