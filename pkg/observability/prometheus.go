package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/monorist/monorise/application/ports"
)

// Collector holds the Prometheus metrics of the local server
type Collector struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	Records         *prometheus.CounterVec
	RecordDuration  *prometheus.HistogramVec
	TableOperations *prometheus.CounterVec
	TableDuration   *prometheus.HistogramVec
}

var _ ports.ProcessorMetrics = (*Collector)(nil)

// NewCollector creates and registers all metrics in a private registry
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_processed_total",
			Help:      "Records handled by processors, by outcome.",
		}, []string{"processor", "outcome"}),
		RecordDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "record_duration_seconds",
			Help:      "Time spent on one record.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"processor"}),
		TableOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "table_operations_total",
			Help:      "Table operations by kind and status.",
		}, []string{"operation", "status"}),
		TableDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "table_operation_duration_seconds",
			Help:      "Table operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	c.registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.Records,
		c.RecordDuration,
		c.TableOperations,
		c.TableDuration,
	)
	return c
}

// Registry returns the registry to expose on /metrics
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, duration time.Duration) {
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordProcessed implements ports.ProcessorMetrics
func (c *Collector) RecordProcessed(_ context.Context, processor, outcome string, duration time.Duration) {
	c.Records.WithLabelValues(processor, outcome).Inc()
	c.RecordDuration.WithLabelValues(processor).Observe(duration.Seconds())
}

// ObserveTableOperation records one table call
func (c *Collector) ObserveTableOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.TableOperations.WithLabelValues(operation, status).Inc()
	c.TableDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
