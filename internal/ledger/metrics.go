package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency with dashboards.
const (
	MetricTransactionsTotal = "plotline_ledger_transactions_total"
	MetricEscrowedAmount    = "plotline_ledger_escrowed_amount"
	MetricDistributedTotal  = "plotline_ledger_distributed_amount_total"
	MetricRefundedTotal     = "plotline_ledger_refunded_amount_total"
)

// Metrics holds Prometheus collectors for ledger operations. All operations
// are thread-safe. A nil *Metrics disables collection.
type Metrics struct {
	transactions *prometheus.CounterVec
	escrowed     prometheus.Gauge
	distributed  prometheus.Counter
	refunded     prometheus.Counter
}

// NewMetrics creates the collectors without registering them; call Register
// with the server's registry.
func NewMetrics() *Metrics {
	return &Metrics{
		transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTransactionsTotal,
				Help: "Total ledger transactions by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		escrowed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricEscrowedAmount,
				Help: "Amount currently held in active escrows, in base units",
			},
		),
		distributed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricDistributedTotal,
				Help: "Cumulative amount distributed to creators, owners and platform on confirmations",
			},
		),
		refunded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRefundedTotal,
				Help: "Cumulative amount paid back to buyers on refunds",
			},
		),
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.transactions, m.escrowed, m.distributed, m.refunded} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeTx(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = errorCode(err)
	}
	m.transactions.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) addEscrowed(delta int64) {
	if m == nil {
		return
	}
	m.escrowed.Add(float64(delta))
}

func (m *Metrics) addDistributed(amount int64) {
	if m == nil {
		return
	}
	m.distributed.Add(float64(amount))
}

func (m *Metrics) addRefunded(amount int64) {
	if m == nil {
		return
	}
	m.refunded.Add(float64(amount))
}
