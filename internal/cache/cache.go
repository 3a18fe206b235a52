// Package cache provee un key-value compartido con soporte multi-backend.
//
// Soporta:
//   - Memory (go-cache, in-process: desarrollo, testing o una sola réplica)
//   - Redis (distribuido, para producción con varias réplicas)
//
// Se usa para el replay guard del state OAuth y para el lease del scanner;
// ambos solo necesitan SetNX con TTL.
package cache

import (
	"context"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// SetNX guarda el valor solo si la key no existe. Retorna true si lo guardó.
	// ttl 0 => no expira.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string // host:port; si está vacío se usa Host/Port
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string // Prefijo para todas las keys
}

// New crea un cliente de cache según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}

func prefixed(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + ":" + k
}
