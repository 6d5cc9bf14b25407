package governor

import "github.com/prometheus/client_golang/prometheus"

var (
	abortsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gamehost_governor_aborts_total",
		Help: "Total number of hosted calls preempted for exceeding their budget.",
	})

	skippedSweepsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gamehost_governor_skipped_sweeps_total",
		Help: "Watchdog sweeps skipped because too many sweeps were already in flight.",
	})

	trackedWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gamehost_governor_tracked_workers",
		Help: "Budget records currently registered.",
	})

	slowWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gamehost_governor_slow_workers",
		Help: "Workers past the soft limit at the last sweep.",
	})

	hostedCallSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gamehost_governor_hosted_call_seconds",
		Help:    "Duration of outermost hosted calls in seconds.",
		Buckets: []float64{.001, .005, .01, .03, .09, .3, 1, 5, 20},
	})
)

func init() {
	prometheus.MustRegister(abortsTotal)
	prometheus.MustRegister(skippedSweepsTotal)
	prometheus.MustRegister(trackedWorkers)
	prometheus.MustRegister(slowWorkers)
	prometheus.MustRegister(hostedCallSeconds)
}
