package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pegvault"

// Collector bundles the engine's prometheus metrics. A nil *Collector is a
// valid no-op receiver, so the engine can run unmetered.
type Collector struct {
	OperationsTotal       *prometheus.CounterVec
	CollateralFlowTotal   *prometheus.CounterVec
	DebtFlowTotal         *prometheus.CounterVec
	LiquidationsTotal     prometheus.Counter
	DebtCoveredTotal      prometheus.Counter
	CollateralSeizedTotal *prometheus.CounterVec
	HealthFactor          prometheus.Histogram
}

var (
	defaultCollector *Collector
	once             sync.Once
)

// GetCollector returns the process-wide collector registered on the default
// prometheus registry.
func GetCollector() *Collector {
	once.Do(func() {
		defaultCollector = NewCollector(prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		OperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"operation", "status"}),
		CollateralFlowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collateral_flow_total",
			Help:      "Collateral moved through the vault, by asset and direction.",
		}, []string{"asset", "direction"}),
		DebtFlowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debt_flow_total",
			Help:      "Pegged units minted and burned.",
		}, []string{"direction"}),
		LiquidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Completed liquidations.",
		}),
		DebtCoveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_debt_covered_total",
			Help:      "Debt repaid by liquidators.",
		}),
		CollateralSeizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidation_collateral_seized_total",
			Help:      "Collateral seized in liquidations, bonus included, by asset.",
		}, []string{"asset"}),
		HealthFactor: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "health_factor",
			Help:      "Health factors observed during solvency checks.",
			Buckets:   []float64{0.25, 0.5, 0.75, 0.9, 1, 1.1, 1.25, 1.5, 2, 3, 5, 10},
		}),
	}

	reg.MustRegister(
		c.OperationsTotal,
		c.CollateralFlowTotal,
		c.DebtFlowTotal,
		c.LiquidationsTotal,
		c.DebtCoveredTotal,
		c.CollateralSeizedTotal,
		c.HealthFactor,
	)
	return c
}

func (c *Collector) RecordOperation(operation string, ok bool) {
	if c == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	c.OperationsTotal.WithLabelValues(operation, status).Inc()
}

func (c *Collector) RecordCollateralFlow(assetId, direction string, amount float64) {
	if c == nil {
		return
	}
	c.CollateralFlowTotal.WithLabelValues(assetId, direction).Add(amount)
}

func (c *Collector) RecordDebtFlow(direction string, amount float64) {
	if c == nil {
		return
	}
	c.DebtFlowTotal.WithLabelValues(direction).Add(amount)
}

func (c *Collector) RecordLiquidation(assetId string, debtCovered, collateralSeized float64) {
	if c == nil {
		return
	}
	c.LiquidationsTotal.Inc()
	c.DebtCoveredTotal.Add(debtCovered)
	c.CollateralSeizedTotal.WithLabelValues(assetId).Add(collateralSeized)
}

func (c *Collector) ObserveHealthFactor(factor float64) {
	if c == nil {
		return
	}
	c.HealthFactor.Observe(factor)
}
