package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	metricQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Requests waiting for dispatch.",
	})
	metricProcessing = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Subsystem: "queue",
		Name:      "processing",
		Help:      "Requests currently executing.",
	})
	metricCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "predictd",
		Subsystem: "queue",
		Name:      "completions_total",
		Help:      "Finished requests by outcome.",
	}, []string{"outcome"})
	metricPoolResident = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Subsystem: "pool",
		Name:      "resident",
		Help:      "Loaded resources resident in the pool.",
	})
	metricPoolMemoryMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Subsystem: "pool",
		Name:      "memory_mb",
		Help:      "Estimated memory of resident resources in MB.",
	})
	metricPoolEvictions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Subsystem: "pool",
		Name:      "evictions",
		Help:      "Resources evicted since process start.",
	})
	metricPoolLoads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "predictd",
		Subsystem: "pool",
		Name:      "loads",
		Help:      "Resource loads committed since process start.",
	})
)

func init() {
	prometheus.MustRegister(
		metricQueueDepth,
		metricProcessing,
		metricCompletions,
		metricPoolResident,
		metricPoolMemoryMB,
		metricPoolEvictions,
		metricPoolLoads,
	)
}

// refreshMetrics republishes gauge values from the live stats snapshots.
func (m *Manager) refreshMetrics() {
	qs := m.queue.Stats()
	ps := m.pool.Stats()
	metricQueueDepth.Set(float64(qs.QueueLength))
	metricProcessing.Set(float64(qs.ProcessingCount))
	metricPoolResident.Set(float64(ps.LoadedCount))
	metricPoolMemoryMB.Set(float64(ps.TotalMB))
	metricPoolEvictions.Set(float64(ps.EvictionsTotal))
	metricPoolLoads.Set(float64(ps.LoadsTotal))
}
