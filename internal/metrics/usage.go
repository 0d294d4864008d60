package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// usageCollector reads filesystem usage at scrape time instead of mirroring
// it into gauges on every write.
type usageCollector struct {
	source UsageSource

	inodes      *prometheus.Desc
	bytes       *prometheus.Desc
	maxBytes    *prometheus.Desc
	openHandles *prometheus.Desc
}

func newUsageCollector(source UsageSource, labels prometheus.Labels) *usageCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}
	return &usageCollector{
		source:      source,
		inodes:      desc("inodes", "Live inodes, including the root directory."),
		bytes:       desc("bytes", "Bytes charged against the memory budget."),
		maxBytes:    desc("max_bytes", "Memory budget in bytes; 0 means unlimited."),
		openHandles: desc("open_handles", "Open descriptors held by network clients."),
	}
}

func (c *usageCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inodes
	ch <- c.bytes
	ch <- c.maxBytes
	ch <- c.openHandles
}

func (c *usageCollector) Collect(ch chan<- prometheus.Metric) {
	u := c.source.Usage()
	ch <- prometheus.MustNewConstMetric(c.inodes, prometheus.GaugeValue, float64(u.Inodes))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(u.Bytes))
	ch <- prometheus.MustNewConstMetric(c.maxBytes, prometheus.GaugeValue, float64(u.MaxBytes))
	ch <- prometheus.MustNewConstMetric(c.openHandles, prometheus.GaugeValue, float64(c.source.OpenHandles()))
}
