package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/esimtools/esimgate"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Activation run metrics
	ActivationRunsTotal    metric.Int64Counter
	ActivationSuccessTotal metric.Int64Counter
	ActivationPendingTotal metric.Int64Counter
	ActivationDuration     metric.Float64Histogram

	// Carrier call metrics
	CarrierCallsTotal      metric.Int64Counter
	CarrierCallErrorsTotal metric.Int64Counter
	TokenRefreshesTotal    metric.Int64Counter

	// Polling metrics
	DownloadTokenPollsTotal metric.Int64Counter

	// Edge guard metrics
	RateLimitRejectionsTotal metric.Int64Counter
	GuardRejectionsTotal     metric.Int64Counter
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

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.ActivationRunsTotal, _ = meter.Int64Counter(
		"esimgate.activation.runs.total",
		metric.WithDescription("Total number of activation runs started"),
		metric.WithUnit("{run}"),
	)

	m.ActivationSuccessTotal, _ = meter.Int64Counter(
		"esimgate.activation.success.total",
		metric.WithDescription("Total number of activation runs that returned an LPA string"),
		metric.WithUnit("{run}"),
	)

	m.ActivationPendingTotal, _ = meter.Int64Counter(
		"esimgate.activation.pending.total",
		metric.WithDescription("Total number of activation runs that hit the polling deadline"),
		metric.WithUnit("{run}"),
	)

	m.ActivationDuration, _ = meter.Float64Histogram(
		"esimgate.activation.duration",
		metric.WithDescription("Duration of activation runs"),
		metric.WithUnit("ms"),
	)

	m.CarrierCallsTotal, _ = meter.Int64Counter(
		"esimgate.carrier.calls.total",
		metric.WithDescription("Total number of carrier API calls"),
		metric.WithUnit("{call}"),
	)

	m.CarrierCallErrorsTotal, _ = meter.Int64Counter(
		"esimgate.carrier.call_errors.total",
		metric.WithDescription("Total number of failed carrier API calls"),
		metric.WithUnit("{error}"),
	)

	m.TokenRefreshesTotal, _ = meter.Int64Counter(
		"esimgate.carrier.token_refreshes.total",
		metric.WithDescription("Total number of cookie-to-token refreshes"),
		metric.WithUnit("{refresh}"),
	)

	m.DownloadTokenPollsTotal, _ = meter.Int64Counter(
		"esimgate.activation.polls.total",
		metric.WithDescription("Total number of download-token poll iterations"),
		metric.WithUnit("{poll}"),
	)

	m.RateLimitRejectionsTotal, _ = meter.Int64Counter(
		"esimgate.guard.rate_limit_rejections.total",
		metric.WithDescription("Total number of requests rejected by the rate limiter"),
		metric.WithUnit("{request}"),
	)

	m.GuardRejectionsTotal, _ = meter.Int64Counter(
		"esimgate.guard.rejections.total",
		metric.WithDescription("Total number of requests rejected by origin or access-key checks"),
		metric.WithUnit("{request}"),
	)

	return m
}
