package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeengine_cycles_total", Help: "Control loop cycles by kind and outcome"},
		[]string{"cycle", "result"},
	)
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradeengine_cycle_duration_seconds",
			Help:    "Wall time of a control loop cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"cycle"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeengine_signals_total", Help: "Signal transitions by resulting status"},
		[]string{"status"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeengine_orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side", "result"},
	)
	PositionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeengine_position_events_total", Help: "Position lifecycle events"},
		[]string{"event"},
	)
	AnalysisFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tradeengine_analysis_failures_total", Help: "Timeframes excluded from confluence"},
		[]string{"timeframe"},
	)
)

func init() {
	prometheus.MustRegister(CyclesTotal, CycleDuration, SignalsTotal, OrdersTotal, PositionEvents, AnalysisFailures)
}

// ObserveCycle records one cycle; err == nil counts as ok.
func ObserveCycle(cycle string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CyclesTotal.WithLabelValues(cycle, result).Inc()
	CycleDuration.WithLabelValues(cycle).Observe(time.Since(started).Seconds())
}

func Handler() http.Handler {
	return promhttp.Handler()
}
