package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"qrattend/internal/attendance"
)

// Metrics exposes check-in counters to Prometheus.
type Metrics struct {
	codesIssued prometheus.Counter
	codesSwept  prometheus.Counter
	validations *prometheus.CounterVec
	ledgerSize  prometheus.Gauge
	exports     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "codes_issued_total",
			Help:      "QR codes issued.",
		}),
		codesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "codes_swept_total",
			Help:      "QR codes dropped after their validity window.",
		}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "validations_total",
			Help:      "Check-in submissions by outcome.",
		}, []string{"outcome"}),
		ledgerSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qrattend",
			Name:      "ledger_records",
			Help:      "Attendance records in the current session.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "exports_total",
			Help:      "Spreadsheet exports by format and result.",
		}, []string{"format", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.codesIssued, m.codesSwept, m.validations, m.ledgerSize, m.exports)
	}
	return m
}

func (m *Metrics) CodeIssued()      { m.codesIssued.Inc() }
func (m *Metrics) CodesSwept(n int) { m.codesSwept.Add(float64(n)) }
func (m *Metrics) LedgerSize(n int) { m.ledgerSize.Set(float64(n)) }

func (m *Metrics) Validated(outcome attendance.Outcome) {
	m.validations.WithLabelValues(string(outcome)).Inc()
}

// Exported records one export attempt.
func (m *Metrics) Exported(format string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.exports.WithLabelValues(format, result).Inc()
}

var _ attendance.Observer = (*Metrics)(nil)
