package reputation

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for committed and rejected
// operations.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ReputationMinted  prometheus.Counter
	EscrowLocked      prometheus.Gauge

	mu     sync.Mutex
	escrow uint64
}

// NewMetrics registers the ledger metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrep_operations_total",
				Help: "Ledger operations by outcome",
			},
			[]string{"op", "result"}, // result: ok or an error code name
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrep_operation_duration_seconds",
				Help:    "Wall time of ledger operations including commit",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		ReputationMinted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentrep_reputation_minted_total",
				Help: "Reputation tokens minted for completed tasks",
			},
		),
		EscrowLocked: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentrep_escrow_locked",
				Help: "Tokens held in open positive vouches, as of the last sync plus this process's changes",
			},
		),
	}
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, resultLabel(err)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// lockEscrow and releaseEscrow keep EscrowLocked at a running total that
// never drops below zero.
func (m *Metrics) lockEscrow(amount uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrow = saturatingAdd(m.escrow, amount)
	m.EscrowLocked.Set(float64(m.escrow))
}

func (m *Metrics) releaseEscrow(amount uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrow = saturatingSub(m.escrow, amount)
	m.EscrowLocked.Set(float64(m.escrow))
}

func (m *Metrics) setEscrow(amount uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escrow = amount
	m.EscrowLocked.Set(float64(amount))
}
