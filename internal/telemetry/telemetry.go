package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the bot's telemetry instruments and providers. The zero
// value (and a nil pointer) is a no-op, so telemetry can stay disabled
// without conditional wiring at the call sites.
//
// Attribute values on these instruments are all bounded sets (operation
// names, status values, command names); transfer hashes, chat ids and
// message texts never become attributes.
type Telemetry struct {
	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	meter         metric.Meter
	exporter      *prometheus.Exporter

	clientOperationsTotal metric.Int64Counter
	clientOperationTime   metric.Float64Histogram
	clientErrors          metric.Int64Counter
	notificationsTotal    metric.Int64Counter
	commandsTotal         metric.Int64Counter
	trackingActive        metric.Int64UpDownCounter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance backed by a Prometheus exporter.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		tracer:        otel.Tracer(cfg.ServiceName),
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.clientOperationsTotal, err = t.meter.Int64Counter(
		"daemon_client_operations_total",
		metric.WithDescription("Total daemon API operations"),
	); err != nil {
		return err
	}

	if t.clientOperationTime, err = t.meter.Float64Histogram(
		"daemon_client_operation_duration_seconds",
		metric.WithDescription("Daemon API operation duration"),
	); err != nil {
		return err
	}

	if t.clientErrors, err = t.meter.Int64Counter(
		"daemon_client_errors_total",
		metric.WithDescription("Total daemon API operation failures"),
	); err != nil {
		return err
	}

	if t.notificationsTotal, err = t.meter.Int64Counter(
		"notifications_total",
		metric.WithDescription("Total chat notifications sent or edited"),
	); err != nil {
		return err
	}

	if t.commandsTotal, err = t.meter.Int64Counter(
		"bot_commands_total",
		metric.WithDescription("Total bot commands handled"),
	); err != nil {
		return err
	}

	if t.trackingActive, err = t.meter.Int64UpDownCounter(
		"tracking_sessions_active",
		metric.WithDescription("Currently running progress tracking sessions"),
	); err != nil {
		return err
	}

	return nil
}

// Handler returns the Prometheus scrape handler.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracer
}

// InstrumentClientOperation wraps one daemon API call in a span and records
// operation count, duration and errors.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, clientType, operation string, fn func(ctx context.Context) error) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	ctx, span := t.tracer.Start(ctx, fmt.Sprintf("%s.%s", clientType, operation))
	defer span.End()

	span.SetAttributes(
		attribute.String("client.type", clientType),
		attribute.String("operation", operation),
	)

	err := fn(ctx)
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())

		if t.clientErrors != nil {
			t.clientErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("client.type", clientType),
				attribute.String("operation", operation),
			))
		}
	}

	attrs := metric.WithAttributes(
		attribute.String("client.type", clientType),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)

	if t.clientOperationsTotal != nil {
		t.clientOperationsTotal.Add(ctx, 1, attrs)
	}

	if t.clientOperationTime != nil {
		t.clientOperationTime.Record(ctx, duration.Seconds(), attrs)
	}

	return err
}

// RecordNotification counts one outbound chat notification.
func (t *Telemetry) RecordNotification(ctx context.Context, kind, status string) {
	if t == nil || t.notificationsTotal == nil {
		return
	}

	t.notificationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordCommand counts one handled bot command.
func (t *Telemetry) RecordCommand(ctx context.Context, command string) {
	if t == nil || t.commandsTotal == nil {
		return
	}

	t.commandsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
	))
}

// AddActiveSessions moves the active tracking session gauge by delta.
func (t *Telemetry) AddActiveSessions(ctx context.Context, delta int64) {
	if t == nil || t.trackingActive == nil {
		return
	}

	t.trackingActive.Add(ctx, delta)
}
