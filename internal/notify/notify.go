// Package notify avisa a operaciones cuando una credencial sale de ACTIVE
// (ERROR o REVOKED) y el tenant necesita re-vincular su cuenta.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// Event describe una transición que requiere atención humana.
type Event struct {
	TenantID string
	Status   string
	Reason   string
	Email    string // cuenta de Google vinculada
	At       time.Time
}

// Notifier entrega eventos. Implementaciones deben ser seguras para uso concurrente.
type Notifier interface {
	CredentialFailed(ctx context.Context, ev Event) error
}

// Noop descarta todo.
type Noop struct{}

func (Noop) CredentialFailed(context.Context, Event) error { return nil }

// Log solo registra el evento.
type Log struct{}

func (Log) CredentialFailed(ctx context.Context, ev Event) error {
	logger.From(ctx).Warn("credential needs attention",
		logger.TenantID(ev.TenantID),
		logger.CredentialStatus(ev.Status),
		zap.String("reason", ev.Reason),
	)
	return nil
}

// Queue desacopla el envío: CredentialFailed encola y vuelve enseguida.
// Si la cola está llena el evento se descarta y se loguea.
type Queue struct {
	inner Notifier
	ch    chan Event
	wg    sync.WaitGroup
	once  sync.Once
}

// NewQueue arranca un worker que drena hacia inner.
func NewQueue(inner Notifier, size int) *Queue {
	if size <= 0 {
		size = 64
	}
	q := &Queue{inner: inner, ch: make(chan Event, size)}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	log := logger.L().With(logger.Component("notify"))
	for ev := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := q.inner.CredentialFailed(ctx, ev); err != nil {
			log.Error("notification failed", logger.TenantID(ev.TenantID), logger.Err(err))
		}
		cancel()
	}
}

func (q *Queue) CredentialFailed(ctx context.Context, ev Event) error {
	select {
	case q.ch <- ev:
	default:
		logger.From(ctx).Warn("notification queue full, dropping", logger.TenantID(ev.TenantID))
	}
	return nil
}

// Close deja de aceptar eventos y espera a que se entreguen los pendientes.
// No se debe llamar CredentialFailed después de Close.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.ch) })
	q.wg.Wait()
}
