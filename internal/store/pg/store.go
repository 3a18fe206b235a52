// Package pg implementa el CredentialRepository y el TenantRegistry sobre Postgres (pgxpool).
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

type Store struct {
	pool        *pgxpool.Pool
	tenantTable string
	now         func() time.Time
}

// Options ajusta el pool. Los ceros toman defaults.
type Options struct {
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
	// TenantTable es la tabla del registro de tenants (default "store").
	TenantTable string
}

// Pool expone el pool interno (migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// PoolStats devuelve un snapshot del estado del pool (puede ser nil).
func (s *Store) PoolStats() *pgxpool.Stat {
	if s == nil || s.pool == nil {
		return nil
	}
	return s.pool.Stat()
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func New(ctx context.Context, dsn string, opts Options) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		pcfg.MaxConns = int32(opts.MaxConns)
	}
	// MaxIdle → MinConns (pgxpool)
	if opts.MinConns > 0 {
		pcfg.MinConns = int32(opts.MinConns)
	}
	if opts.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = opts.ConnMaxLifetime
		pcfg.MaxConnIdleTime = opts.ConnMaxLifetime
	}
	if pcfg.MaxConns == 0 {
		pcfg.MaxConns = 8
	}
	if pcfg.MinConns > pcfg.MaxConns {
		pcfg.MinConns = pcfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	log := logger.L().With(logger.Layer("store"), logger.Component("pg"))
	// Arranque no bloqueante: si la DB no responde todavía, /readyz lo va a reflejar.
	if err := pool.Ping(ctx); err != nil {
		log.Warn("pg_pool_startup_ping_failed", logger.Err(err))
	} else {
		log.Info("pg_pool_ready", zap.Int32("max_conns", pcfg.MaxConns))
	}

	return NewWithPool(pool, opts.TenantTable), nil
}

// NewWithPool envuelve un pool ya abierto.
func NewWithPool(pool *pgxpool.Pool, tenantTable string) *Store {
	if tenantTable == "" {
		tenantTable = "store"
	}
	return &Store{pool: pool, tenantTable: tenantTable, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
