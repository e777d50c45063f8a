package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type RedBankMetrics struct {
	operations       *prometheus.CounterVec
	operationErrors  *prometheus.CounterVec
	liquidations     prometheus.Counter
	debtRepaid       *prometheus.CounterVec
	collateralSeized *prometheus.CounterVec
}

var (
	redbankOnce     sync.Once
	redbankRegistry *RedBankMetrics
)

// RedBank returns the process-wide red bank metrics, registering them on
// first use.
func RedBank() *RedBankMetrics {
	redbankOnce.Do(func() {
		redbankRegistry = &RedBankMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redbank_operations_total",
				Help: "Count of executed ledger operations by kind.",
			}, []string{"operation"}),
			operationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redbank_operation_errors_total",
				Help: "Count of rejected ledger operations by kind.",
			}, []string{"operation"}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "redbank_liquidations_total",
				Help: "Count of completed liquidation calls.",
			}),
			debtRepaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redbank_liquidation_debt_repaid_total",
				Help: "Debt units repaid through liquidations per asset.",
			}, []string{"asset"}),
			collateralSeized: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "redbank_liquidation_collateral_seized_total",
				Help: "Collateral units seized through liquidations per asset.",
			}, []string{"asset"}),
		}
		prometheus.MustRegister(
			redbankRegistry.operations,
			redbankRegistry.operationErrors,
			redbankRegistry.liquidations,
			redbankRegistry.debtRepaid,
			redbankRegistry.collateralSeized,
		)
	})
	return redbankRegistry
}

// ObserveOperation records one executed or rejected operation.
func (m *RedBankMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.operationErrors.WithLabelValues(operation).Inc()
		return
	}
	m.operations.WithLabelValues(operation).Inc()
}

// ObserveLiquidation records the sizes of a completed liquidation.
func (m *RedBankMetrics) ObserveLiquidation(debtAsset, collateralAsset string, repaid, seized float64) {
	if m == nil {
		return
	}
	m.liquidations.Inc()
	m.debtRepaid.WithLabelValues(debtAsset).Add(repaid)
	m.collateralSeized.WithLabelValues(collateralAsset).Add(seized)
}
