package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/tubelink/internal/cache"
	"github.com/dropDatabas3/tubelink/internal/observability/logger"
)

// ScanReport resume un scan. Failed mapea tenant → causa.
type ScanReport struct {
	Selected  []string          `json:"selected"`
	Refreshed []string          `json:"refreshed"`
	Failed    map[string]string `json:"failed"`
	Duration  time.Duration     `json:"duration_ns"`
}

// ScanAndRefresh refresca las credenciales ACTIVE que vencen dentro de threshold
// (0 => RefreshThreshold). Una falla individual nunca corta el scan.
func (m *Manager) ScanAndRefresh(ctx context.Context, threshold time.Duration) (*ScanReport, error) {
	if threshold <= 0 {
		threshold = m.opts.RefreshThreshold
	}
	start := time.Now()
	log := logger.From(ctx).With(logger.Component("credentials"), logger.Op("scan"))

	due, err := m.store.ListActiveNearExpiry(ctx, m.now(), threshold)
	if err != nil {
		log.Error("scan listing failed", logger.Err(err))
		return nil, err
	}

	report := &ScanReport{
		Selected:  make([]string, 0, len(due)),
		Refreshed: make([]string, 0, len(due)),
		Failed:    make(map[string]string),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(m.opts.Workers)
	for _, c := range due {
		tenantID := c.TenantID
		report.Selected = append(report.Selected, tenantID)

		if err := ctx.Err(); err != nil {
			report.Failed[tenantID] = "scan cancelled: " + err.Error()
			continue
		}
		g.Go(func() error {
			// RefreshOne ya acota cada tenant con TenantTimeout
			_, err := m.RefreshOne(ctx, tenantID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[tenantID] = truncate(err.Error(), maxErrorMessage)
			} else {
				report.Refreshed = append(report.Refreshed, tenantID)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Refreshed)
	report.Duration = time.Since(start)
	m.metrics.Scan(len(report.Selected), len(report.Failed), report.Duration)

	log.Info("scan finished",
		logger.Count(len(report.Selected)),
		zap.Int("refreshed", len(report.Refreshed)),
		zap.Int("failed", len(report.Failed)),
		logger.Duration(report.Duration),
	)
	return report, nil
}

const scanLockKey = "scan:lock"

// ScannerOptions configura el loop periódico.
type ScannerOptions struct {
	Interval  time.Duration // default 2m
	Threshold time.Duration // 0 => RefreshThreshold del manager
	// Lock coordina réplicas: solo quien toma el lease escanea en cada intervalo.
	// nil => sin coordinación.
	Lock cache.Client
}

// Scanner corre ScanAndRefresh periódicamente y bajo demanda.
type Scanner struct {
	m       *Manager
	opts    ScannerOptions
	owner   string
	trigger chan struct{}
}

func NewScanner(m *Manager, opts ScannerOptions) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Minute
	}
	host, _ := os.Hostname()
	return &Scanner{
		m:       m,
		opts:    opts,
		owner:   fmt.Sprintf("%s/%s", host, uuid.NewString()[:8]),
		trigger: make(chan struct{}, 1),
	}
}

// Trigger pide un scan inmediato; no bloquea y colapsa pedidos repetidos.
func (s *Scanner) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// RunOnce toma el lease y escanea. ErrLeaseHeld si otra instancia lo tiene.
func (s *Scanner) RunOnce(ctx context.Context) (*ScanReport, error) {
	if s.opts.Lock != nil {
		// el lease dura un intervalo: como mucho un scan por intervalo en todo el cluster
		ok, err := s.opts.Lock.SetNX(ctx, scanLockKey, s.owner, s.opts.Interval)
		if err != nil {
			return nil, fmt.Errorf("scan lease: %w", err)
		}
		if !ok {
			return nil, ErrLeaseHeld
		}
	}
	return s.m.ScanAndRefresh(ctx, s.opts.Threshold)
}

// Run bloquea hasta que ctx se cancele.
func (s *Scanner) Run(ctx context.Context) error {
	log := logger.L().With(logger.Component("scanner"), zap.Duration("interval", s.opts.Interval))
	log.Info("scanner started")

	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("scanner stopped")
			return nil
		case <-t.C:
		case <-s.trigger:
		}
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrLeaseHeld) {
				log.Debug("scan skipped, lease held elsewhere")
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Error("scan failed", logger.Err(err))
		}
	}
}
