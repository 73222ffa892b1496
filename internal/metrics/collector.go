// Package metrics exports pipeline counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/InfraSecConsult/dnscap-go/internal/pipeline"
)

const namespace = "dnscap"

// StatsFunc returns a snapshot of the pipeline counters.
type StatsFunc func() pipeline.Stats

// Collector reads the pipeline counters at scrape time.
type Collector struct {
	stats StatsFunc

	accepted  *prometheus.Desc
	dropped   *prometheus.Desc
	processed *prometheus.Desc
	dnsFrames *prometheus.Desc
	queries   *prometheus.Desc
	responses *prometheus.Desc
	faults    *prometheus.Desc
	queueLen  *prometheus.Desc
	queueCap  *prometheus.Desc
	workers   *prometheus.Desc
}

func NewCollector(stats StatsFunc) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil)
	}
	return &Collector{
		stats:     stats,
		accepted:  desc("frames_accepted_total", "Frames accepted into the queue."),
		dropped:   desc("frames_dropped_total", "Frames dropped because the queue was full."),
		processed: desc("frames_processed_total", "Frames taken from the queue by a worker."),
		dnsFrames: desc("dns_frames_total", "Frames that carried a DNS layer."),
		queries:   desc("queries_total", "DNS questions forwarded to the sink."),
		responses: desc("responses_total", "DNS responses seen and ignored."),
		faults:    desc("frame_faults_total", "Frames whose processing failed."),
		queueLen:  desc("queue_length", "Frames waiting in the queue."),
		queueCap:  desc("queue_capacity", "Capacity of the queue."),
		workers:   desc("workers", "Number of pipeline workers."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accepted
	ch <- c.dropped
	ch <- c.processed
	ch <- c.dnsFrames
	ch <- c.queries
	ch <- c.responses
	ch <- c.faults
	ch <- c.queueLen
	ch <- c.queueCap
	ch <- c.workers
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()
	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}
	counter(c.accepted, s.Accepted)
	counter(c.dropped, s.Dropped)
	counter(c.processed, s.Processed)
	counter(c.dnsFrames, s.DNSFrames)
	counter(c.queries, s.Queries)
	counter(c.responses, s.Responses)
	counter(c.faults, s.Faults)
	gauge(c.queueLen, s.QueueLen)
	gauge(c.queueCap, s.QueueCap)
	gauge(c.workers, s.Workers)
}

// NewRegistry returns a registry with the pipeline collector and the Go
// runtime and process collectors.
func NewRegistry(stats StatsFunc) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(stats),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
