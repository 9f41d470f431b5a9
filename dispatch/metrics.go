package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Collector exports dispatcher statistics to Prometheus.
type Collector struct {
	d *Dispatcher

	enqueued   *prometheus.Desc
	processed  *prometheus.Desc
	succeeded  *prometheus.Desc
	failed     *prometheus.Desc
	panicked   *prometheus.Desc
	cancelled  *prometheus.Desc
	dropped    *prometheus.Desc
	inflight   *prometheus.Desc
	queueDepth *prometheus.Desc
	duration   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector for d. Register it with a
// prometheus.Registerer.
func NewCollector(d *Dispatcher) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("git_bridge_dispatch_"+name, help, nil, nil)
	}

	return &Collector{
		d:          d,
		enqueued:   desc("tasks_enqueued_total", "Total number of tasks accepted by the dispatcher"),
		processed:  desc("tasks_processed_total", "Total number of tasks picked up by a worker"),
		succeeded:  desc("tasks_succeeded_total", "Total number of tasks that resolved"),
		failed:     desc("tasks_failed_total", "Total number of tasks that rejected"),
		panicked:   desc("tasks_panicked_total", "Total number of tasks whose panic was recovered"),
		cancelled:  desc("tasks_cancelled_total", "Total number of tasks cancelled before start"),
		dropped:    desc("tasks_dropped_total", "Total number of tasks refused with a full queue"),
		inflight:   desc("tasks_in_flight", "Number of tasks currently running"),
		queueDepth: desc("queue_depth", "Number of tasks waiting for a worker"),
		duration:   desc("task_duration_seconds_total", "Cumulative time spent running tasks"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.enqueued, c.processed, c.succeeded, c.failed, c.panicked,
		c.cancelled, c.dropped, c.inflight, c.queueDepth, c.duration,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.d.Stats()

	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}

	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.enqueued, float64(s.Enqueued))
	counter(c.processed, float64(s.Processed))
	counter(c.succeeded, float64(s.Succeeded))
	counter(c.failed, float64(s.Failed))
	counter(c.panicked, float64(s.Panicked))
	counter(c.cancelled, float64(s.Cancelled))
	counter(c.dropped, float64(s.Dropped))
	gauge(c.inflight, float64(s.InFlight))
	gauge(c.queueDepth, float64(s.QueueDepth))
	counter(c.duration, s.TotalDuration.Seconds())
}
