// Package metrics exports share activity and filesystem usage to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"ramfs/internal/ramfs"
)

const namespace = "ramfs"

// UsageSource reports live filesystem usage. *vfs.RamShare satisfies it.
type UsageSource interface {
	Usage() ramfs.Usage
	OpenHandles() int
}

// Metrics owns a private registry with the op counters, the latency
// histogram and the usage collector.
type Metrics struct {
	registry *prometheus.Registry
	ops      *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New builds the metrics for one share. labels are attached to every series.
func New(source UsageSource, labels prometheus.Labels) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ops_total",
			Help:        "Share operations by name and result (ok or the errno name).",
			ConstLabels: labels,
		}, []string{"op", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "op_duration_seconds",
			Help:        "Share operation latency.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.ops,
		m.latency,
		newUsageCollector(source, labels),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveOp records one finished share operation.
func (m *Metrics) ObserveOp(op string, err error, elapsed time.Duration) {
	m.ops.WithLabelValues(op, resultLabel(err)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve binds addr and serves /metrics in the background. The returned stop
// function shuts the server down.
func (m *Metrics) Serve(addr string) (net.Addr, func(context.Context) error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Handler:        mux,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("[metrics] server stopped: %v", err)
		}
	}()
	log.Infof("[metrics] Serving metrics at %s/metrics", listener.Addr())
	return listener.Addr(), server.Shutdown, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name := errnoNames[errno]; name != "" {
			return name
		}
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}

// errnoNames covers what the share returns. io.EOF from reads falls under
// "other" along with anything unexpected.
var errnoNames = map[syscall.Errno]string{
	syscall.EINVAL:       "EINVAL",
	syscall.ENOENT:       "ENOENT",
	syscall.EEXIST:       "EEXIST",
	syscall.ENOTDIR:      "ENOTDIR",
	syscall.EISDIR:       "EISDIR",
	syscall.ENOTEMPTY:    "ENOTEMPTY",
	syscall.ENAMETOOLONG: "ENAMETOOLONG",
	syscall.ENOMEM:       "ENOMEM",
	syscall.ENOSPC:       "ENOSPC",
	syscall.ENOTSUP:      "ENOTSUP",
	syscall.EBADF:        "EBADF",
	syscall.EIO:          "EIO",
}
