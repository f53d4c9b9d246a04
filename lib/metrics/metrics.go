package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters emitted by the reconciliation tasks and scanners.
type Metrics struct {
	DoesNotExist   *prometheus.CounterVec
	IncorrectState *prometheus.CounterVec
	Repaired       prometheus.Counter
	DisabledBroken prometheus.Counter
	RegionPushes   *prometheus.CounterVec
	TaskRetries    *prometheus.CounterVec
	TaskFailures   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	opts := func(name, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace: "uptime",
			Subsystem: "subscriptions",
			Name:      name,
			Help:      help,
		}
	}

	m := &Metrics{
		DoesNotExist: prometheus.NewCounterVec(
			opts("subscription_does_not_exist_total", "Tasks that found their subscription already gone."),
			[]string{"op"},
		),
		IncorrectState: prometheus.NewCounterVec(
			opts("incorrect_status_total", "Tasks skipped because the subscription moved on to another status."),
			[]string{"op"},
		),
		Repaired:       prometheus.NewCounter(opts("repaired_total", "Stuck subscriptions re-enqueued by the repair scan.")),
		DisabledBroken: prometheus.NewCounter(opts("disabled_broken_total", "Auto detected monitors disabled for failing too long.")),
		RegionPushes: prometheus.NewCounterVec(
			opts("region_pushes_total", "Messages pushed to check regions."),
			[]string{"kind"},
		),
		TaskRetries: prometheus.NewCounterVec(
			opts("task_retries_total", "Task attempts that failed and were scheduled again."),
			[]string{"task"},
		),
		TaskFailures: prometheus.NewCounterVec(
			opts("task_failures_total", "Tasks that failed after exhausting their retries."),
			[]string{"task"},
		),
	}

	reg.MustRegister(
		m.DoesNotExist, m.IncorrectState, m.Repaired, m.DisabledBroken,
		m.RegionPushes, m.TaskRetries, m.TaskFailures,
	)
	return m
}

// NewForTest registers against a private registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
