package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/devserve"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Bundler metrics
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildDuration    metric.Float64Histogram

	// Watcher metrics
	FileChangesTotal metric.Int64Counter

	// Live reload metrics
	ReloadsTotal metric.Int64Counter
	HMRClients   metric.Int64UpDownCounter

	// Proxy metrics
	ProxyRequestsTotal metric.Int64Counter
	ProxyErrorsTotal   metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.BuildsTotal, _ = meter.Int64Counter(
		"devserve.builds.total",
		metric.WithDescription("Total number of asset builds"),
		metric.WithUnit("{build}"),
	)

	m.BuildErrorsTotal, _ = meter.Int64Counter(
		"devserve.builds.errors.total",
		metric.WithDescription("Total number of asset builds that failed"),
		metric.WithUnit("{build}"),
	)

	m.BuildDuration, _ = meter.Float64Histogram(
		"devserve.builds.duration",
		metric.WithDescription("Duration of asset builds"),
		metric.WithUnit("ms"),
	)

	m.FileChangesTotal, _ = meter.Int64Counter(
		"devserve.watch.changes.total",
		metric.WithDescription("Total number of source file changes detected"),
		metric.WithUnit("{file}"),
	)

	m.ReloadsTotal, _ = meter.Int64Counter(
		"devserve.hmr.reloads.total",
		metric.WithDescription("Total number of reload signals broadcast"),
		metric.WithUnit("{event}"),
	)

	m.HMRClients, _ = meter.Int64UpDownCounter(
		"devserve.hmr.clients",
		metric.WithDescription("Number of connected live reload clients"),
		metric.WithUnit("{client}"),
	)

	m.ProxyRequestsTotal, _ = meter.Int64Counter(
		"devserve.proxy.requests.total",
		metric.WithDescription("Total number of requests forwarded to proxy targets"),
		metric.WithUnit("{request}"),
	)

	m.ProxyErrorsTotal, _ = meter.Int64Counter(
		"devserve.proxy.errors.total",
		metric.WithDescription("Total number of proxied requests that failed to reach the target"),
		metric.WithUnit("{request}"),
	)

	return m
}
