package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fieldsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		},
		[]string{"route", "status"},
	)

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Sync cycles by trigger reason.",
		},
		[]string{"reason"},
	)

	syncPushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_push_total",
			Help:      "Acts pushed to the remote record service by result.",
		},
		[]string{"result"},
	)

	syncPulled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_pull_records_total",
			Help:      "Records pulled into the local store by kind.",
		},
		[]string{"kind"},
	)

	remindersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_fired_total",
			Help:      "Reminders fired by scanner (client or server).",
		},
		[]string{"scanner"},
	)

	reminderDispatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminder_dispatch_total",
			Help:      "Per-recipient reminder dispatch attempts by result.",
		},
		[]string{"result"},
	)

	degradedMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "persistence_degraded",
			Help:      "1 while the server runs on the in-memory fallback store.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncCycles,
			syncPushed,
			syncPulled,
			remindersFired,
			reminderDispatch,
			degradedMode,
		)
	})
}

func IncHTTP(route, status string) {
	httpRequests.WithLabelValues(route, status).Inc()
}

func IncSyncCycle(reason string) {
	syncCycles.WithLabelValues(reason).Inc()
}

// IncPush counts one act push; result is "ok" or "error".
func IncPush(result string) {
	syncPushed.WithLabelValues(result).Inc()
}

func AddPulled(kind string, n int) {
	syncPulled.WithLabelValues(kind).Add(float64(n))
}

func IncReminderFired(scanner string) {
	remindersFired.WithLabelValues(scanner).Inc()
}

func IncDispatch(result string) {
	reminderDispatch.WithLabelValues(result).Inc()
}

func SetDegraded(degraded bool) {
	if degraded {
		degradedMode.Set(1)
		return
	}
	degradedMode.Set(0)
}
