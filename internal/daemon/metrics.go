package daemon

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mergegate-dev/mergegate/internal/storage"
)

// Metrics holds the daemon's Prometheus collectors
type Metrics struct {
	TasksEnqueued  prometheus.Counter
	TasksCompleted prometheus.Counter
	TasksFailed    prometheus.Counter
	TasksRetried   prometheus.Counter
	WebhooksSeen   *prometheus.CounterVec
	TaskDuration   prometheus.Histogram
}

// NewMetrics creates and registers the collectors on reg, including a
// queue-depth gauge backed by live store counts
func NewMetrics(reg *prometheus.Registry, store storage.Store) *Metrics {
	m := &Metrics{
		TasksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mergegate_tasks_enqueued_total",
			Help: "Tasks accepted into the queue.",
		}),
		TasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mergegate_tasks_completed_total",
			Help: "Tasks that finished successfully.",
		}),
		TasksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mergegate_tasks_failed_total",
			Help: "Tasks that reached the terminal failed state.",
		}),
		TasksRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mergegate_tasks_retried_total",
			Help: "Task requeues after a transient failure.",
		}),
		WebhooksSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mergegate_webhooks_total",
			Help: "Webhook deliveries by outcome.",
		}, []string{"outcome"}),
		TaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mergegate_task_duration_seconds",
			Help:    "Wall time of one gating pass.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	reg.MustRegister(m.TasksEnqueued, m.TasksCompleted, m.TasksFailed,
		m.TasksRetried, m.WebhooksSeen, m.TaskDuration)
	reg.MustRegister(newQueueDepthCollector(store))
	return m
}

// queueDepthCollector exposes per-status task counts as a gauge, read from
// the store at scrape time
type queueDepthCollector struct {
	store storage.Store
	desc  *prometheus.Desc
}

func newQueueDepthCollector(store storage.Store) *queueDepthCollector {
	return &queueDepthCollector{
		store: store,
		desc: prometheus.NewDesc(
			"mergegate_tasks",
			"Tasks currently in the store by status.",
			[]string{"status"}, nil,
		),
	}
}

func (c *queueDepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *queueDepthCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.store.Counts()
	if err != nil {
		return
	}
	for status, n := range map[string]int{
		string(storage.TaskStatusPending):    counts.Pending,
		string(storage.TaskStatusInProgress): counts.InProgress,
		string(storage.TaskStatusCompleted):  counts.Completed,
		string(storage.TaskStatusFailed):     counts.Failed,
		string(storage.TaskStatusCancelled):  counts.Cancelled,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(n), status)
	}
}
