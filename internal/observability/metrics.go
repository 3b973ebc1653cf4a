package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the service metrics along the golden signals:
// latency, traffic, errors and saturation for HTTP requests, simulation
// runs, output preparation and callback delivery.
type Metrics struct {
	meter metric.Meter

	// HTTP
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Simulations
	SimulationsCreated  metric.Int64Counter
	SimulationsStarted  metric.Int64Counter
	SimulationsFinished metric.Int64Counter
	SimulationDuration  metric.Float64Histogram
	SimulationsActive   metric.Int64UpDownCounter

	// Output preparation
	OutputPreparations metric.Int64Counter
	OutputDuration     metric.Float64Histogram

	// Dispatcher
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
}

// NewMetrics creates all metrics on a dedicated Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("simcontroller")}
	if err := m.init(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) init() error {
	var err error
	histogram := func(name, desc string, bounds ...float64) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = m.meter.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(bounds...),
		)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = m.meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}

	m.HTTPRequestDuration = histogram("http_request_duration_seconds", "HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.HTTPRequestsTotal = counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPErrorsTotal = counter("http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	m.SimulationsCreated = counter("simulations_created_total", "Total number of simulations created")
	m.SimulationsStarted = counter("simulations_started_total", "Total number of simulation runs started")
	m.SimulationsFinished = counter("simulations_finished_total", "Total number of simulation runs finished, by final state")
	m.SimulationDuration = histogram("simulation_duration_seconds", "Simulation run duration in seconds",
		1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 14400, 43200)

	m.OutputPreparations = counter("output_preparations_total", "Total number of output conversions")
	m.OutputDuration = histogram("output_preparation_duration_seconds", "Output conversion duration in seconds",
		0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60)

	m.DispatcherDuration = histogram("dispatcher_duration_seconds", "Callback delivery latency in seconds",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	m.DispatcherDelivered = counter("dispatcher_delivered_total", "Total events successfully delivered")
	m.DispatcherFailed = counter("dispatcher_failed_total", "Total events failed after retries")
	m.DispatcherDropped = counter("dispatcher_dropped_total", "Total events dropped because the buffer was full")
	if err != nil {
		return err
	}

	m.SimulationsActive, err = m.meter.Int64UpDownCounter(
		"simulations_active",
		metric.WithDescription("Number of simulation processes currently running (saturation)"),
	)
	return err
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordSimulationCreated records a newly registered simulation.
func (m *Metrics) RecordSimulationCreated(ctx context.Context) {
	m.SimulationsCreated.Add(ctx, 1)
}

// RecordSimulationStarted records a process launch.
func (m *Metrics) RecordSimulationStarted(ctx context.Context) {
	m.SimulationsStarted.Add(ctx, 1)
	m.SimulationsActive.Add(ctx, 1)
}

// RecordSimulationFinished records the end of a run in its final state.
func (m *Metrics) RecordSimulationFinished(ctx context.Context, state string, durationSeconds float64) {
	attrs := WithState(state)
	m.SimulationsFinished.Add(ctx, 1, attrs)
	m.SimulationDuration.Record(ctx, durationSeconds, attrs)
	m.SimulationsActive.Add(ctx, -1)
}

// RecordOutputPrepared records one output conversion.
func (m *Metrics) RecordOutputPrepared(ctx context.Context, success bool, durationSeconds float64) {
	attrs := WithSuccess(success)
	m.OutputPreparations.Add(ctx, 1, attrs)
	m.OutputDuration.Record(ctx, durationSeconds, attrs)
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}
