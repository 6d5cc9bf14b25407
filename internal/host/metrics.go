package host

import "github.com/prometheus/client_golang/prometheus"

var (
	liveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gamehost_sessions_live",
		Help: "Sessions currently registered with the host.",
	})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_events_total",
		Help: "Connection events handled by the host, by action.",
	}, []string{"action"})

	sessionsClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_sessions_closed_total",
		Help: "Sessions torn down, by reason.",
	}, []string{"reason"})

	hostedFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gamehost_hosted_failures_total",
		Help: "Failed hosted logic calls, by kind (aborted, error, panic).",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(liveSessions)
	prometheus.MustRegister(eventsTotal)
	prometheus.MustRegister(sessionsClosedTotal)
	prometheus.MustRegister(hostedFailuresTotal)
}
