// Package metrics exposes Prometheus instruments for units of work, order
// numbering and aggregate drift.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var Registry = prometheus.NewRegistry()

var (
	unitOfWorkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trattoria",
		Name:      "unit_of_work_total",
		Help:      "Transactional units of work by operation and outcome.",
	}, []string{"op", "outcome"})

	unitOfWorkDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trattoria",
		Name:      "unit_of_work_duration_seconds",
		Help:      "Wall time of transactional units of work.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	orderNumbersAllocated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "trattoria",
		Name:      "order_numbers_allocated_total",
		Help:      "Purchase-order numbers handed out by the sequence allocator.",
	})

	aggregateDrift = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "trattoria",
		Name:      "aggregate_drift_records",
		Help:      "Records whose stored derived value disagrees with recomputation at the last check.",
	}, []string{"entity"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		unitOfWorkTotal,
		unitOfWorkDuration,
		orderNumbersAllocated,
		aggregateDrift,
	)
}

// ObserveUnitOfWork records one finished transaction. outcome is "commit" or
// the error kind that caused the rollback.
func ObserveUnitOfWork(op, outcome string, elapsed time.Duration) {
	unitOfWorkTotal.WithLabelValues(op, outcome).Inc()
	unitOfWorkDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func OrderNumberAllocated() { orderNumbersAllocated.Inc() }

func SetDrift(entity string, n int) {
	aggregateDrift.WithLabelValues(entity).Set(float64(n))
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
