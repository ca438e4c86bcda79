package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats gives the collector access to the job queue.
type QueueStats interface {
	Pending() int
	Running() int
}

// StatusSource reports whether a recording is in progress.
type StatusSource interface {
	Recording() bool
	SSESubscriberCount() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool   *pgxpool.Pool
	queue  QueueStats
	status StatusSource

	queuePending    *prometheus.Desc
	queueRunning    *prometheus.Desc
	recordingActive *prometheus.Desc
	sseSubscribers  *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
	dbIdleConns     *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any argument may be nil; its gauges then report 0.
func NewCollector(pool *pgxpool.Pool, queue QueueStats, status StatusSource) *Collector {
	return &Collector{
		pool:   pool,
		queue:  queue,
		status: status,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "pending_jobs"),
			"Jobs waiting for a worker.",
			nil, nil,
		),
		queueRunning: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "queue", "running_jobs"),
			"Jobs currently being transcribed.",
			nil, nil,
		),
		recordingActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "recording_active"),
			"1 while a recording is in progress.",
			nil, nil,
		),
		sseSubscribers: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sse_subscribers_active"),
			"Current number of SSE subscribers.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueRunning
	ch <- c.recordingActive
	ch <- c.sseSubscribers
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, running float64
	if c.queue != nil {
		pending, running = float64(c.queue.Pending()), float64(c.queue.Running())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.queueRunning, prometheus.GaugeValue, running)

	var recording, subs float64
	if c.status != nil {
		if c.status.Recording() {
			recording = 1
		}
		subs = float64(c.status.SSESubscriberCount())
	}
	ch <- prometheus.MustNewConstMetric(c.recordingActive, prometheus.GaugeValue, recording)
	ch <- prometheus.MustNewConstMetric(c.sseSubscribers, prometheus.GaugeValue, subs)

	// Database pool stats
	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
