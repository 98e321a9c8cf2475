package infrastructure

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_jobs_total",
		Help: "Backtest jobs by terminal or initial status",
	}, []string{"status"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backtest_job_duration_seconds",
		Help:    "Wall time of backtest runs",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"strategy"})

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_jobs_running",
		Help: "Number of backtests currently running",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backtest_queue_depth",
		Help: "Number of pending backtests waiting for a worker",
	})

	BarsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_bars_processed_total",
		Help: "Total number of bars simulated",
	}, []string{"strategy"})

	TradesSimulated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backtest_trades_total",
		Help: "Total number of simulated trades",
	}, []string{"strategy"})

	BarCacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bar_cache_requests_total",
		Help: "Bar cache lookups by result",
	}, []string{"result"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_connections_total",
		Help: "Total number of active WebSocket connections",
	})
)
