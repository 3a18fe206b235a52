// Package metrics define las métricas Prometheus del servicio: ciclo de vida de
// credenciales, scans, flujo OAuth, HTTP y pool de Postgres.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resultados de refresh.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRevoked  = "revoked"
	ResultConflict = "conflict"
	ResultSkipped  = "skipped"
)

// Metrics agrupa los collectors. Un *Metrics nil es válido y no registra nada.
type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	scanDuration    prometheus.Histogram
	scanSelected    prometheus.Gauge
	scanFailed      prometheus.Gauge
	flowTotal       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpInflight    prometheus.Gauge
	credentialState *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New crea y registra los collectors en reg. Con reg nil usa un registry propio
// (tests); en producción se pasa prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		r := prometheus.NewRegistry()
		reg, gatherer = r, r
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubelink_refresh_total",
			Help: "Refresh de tokens por resultado",
		}, []string{"result"}), // ok|error|revoked|conflict|skipped
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tubelink_scan_duration_seconds",
			Help:    "Duración de cada scan de credenciales por vencer",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		scanSelected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tubelink_scan_selected",
			Help: "Credenciales seleccionadas en el último scan",
		}),
		scanFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tubelink_scan_failed",
			Help: "Credenciales que fallaron en el último scan",
		}),
		flowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubelink_flow_total",
			Help: "Pasos del flujo de vinculación por resultado",
		}, []string{"stage", "result"}), // stage: initiate|complete
		credentialState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tubelink_credential_transitions_total",
			Help: "Transiciones de estado de credenciales",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Número total de requests procesadas",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latencia de los requests HTTP",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Requests en vuelo",
		}),
		gatherer: gatherer,
	}

	for _, c := range []prometheus.Collector{
		m.refreshTotal, m.scanDuration, m.scanSelected, m.scanFailed, m.flowTotal,
		m.credentialState, m.httpRequests, m.httpDuration, m.httpInflight,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler expone /metrics para el gatherer asociado.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Refresh(result string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Scan(selected, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.scanSelected.Set(float64(selected))
	m.scanFailed.Set(float64(failed))
	m.scanDuration.Observe(d.Seconds())
}

func (m *Metrics) Flow(stage, result string) {
	if m == nil {
		return
	}
	m.flowTotal.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.credentialState.WithLabelValues(status).Inc()
}

// WithMetrics instrumenta requests HTTP. El label path es el patrón de ruta de chi
// para no explotar la cardinalidad con tenant IDs.
func (m *Metrics) WithMetrics(next http.Handler) http.Handler {
	if m == nil || next == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.ToUpper(r.Method)
		m.httpInflight.Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			m.httpInflight.Dec()
			path := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// RegisterPool expone gauges del pool de Postgres.
func RegisterPool(reg prometheus.Registerer, pool func() *pgxpool.Pool) error {
	return registerCollector(reg, newPoolCollector(pool))
}

// registerCollector registra el collector ignorando duplicados.
func registerCollector(reg prometheus.Registerer, collector prometheus.Collector) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

type poolCollector struct {
	pool func() *pgxpool.Pool

	acquiredDesc *prometheus.Desc
	idleDesc     *prometheus.Desc
	totalDesc    *prometheus.Desc
}

func newPoolCollector(pool func() *pgxpool.Pool) *poolCollector {
	return &poolCollector{
		pool:         pool,
		acquiredDesc: prometheus.NewDesc("pg_pool_acquired", "Conexiones adquiridas", nil, nil),
		idleDesc:     prometheus.NewDesc("pg_pool_idle", "Conexiones inactivas", nil, nil),
		totalDesc:    prometheus.NewDesc("pg_pool_total", "Conexiones totales", nil, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredDesc
	ch <- c.idleDesc
	ch <- c.totalDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	if c.pool == nil {
		return
	}
	pool := c.pool()
	if pool == nil {
		return
	}
	stat := pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquiredDesc, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleDesc, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalDesc, prometheus.GaugeValue, float64(stat.TotalConns()))
}
