package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "keygate/internal/errors"
	"keygate/internal/infrastructure"
)

const (
	TracerName = "keygate/license"
	MeterName  = "keygate/license"
)

// Metrics holds the license service instruments
type Metrics struct {
	Operations   metric.Int64Counter
	Duration     metric.Float64Histogram
	Bindings     metric.Int64Counter
	KillVerdicts metric.Int64Counter
	KeysIssued   metric.Int64Counter
}

// NewMetrics creates the license instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Operations, err = meter.Int64Counter(
		"license_operations_total",
		metric.WithDescription("License operations by operation and result code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	m.Duration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	m.Bindings, err = meter.Int64Counter(
		"license_bindings_total",
		metric.WithDescription("Binding attempts by kind (device, hardware) and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bindings counter: %w", err)
	}

	m.KillVerdicts, err = meter.Int64Counter(
		"license_kill_verdicts_total",
		metric.WithDescription("Requests answered with the kill verdict"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kill verdict counter: %w", err)
	}

	m.KeysIssued, err = meter.Int64Counter(
		"license_keys_issued_total",
		metric.WithDescription("License keys issued"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keys issued counter: %w", err)
	}

	return m, nil
}

// observe starts a span for op and returns the function that closes it,
// records metrics and writes the operation log line.
func (s *Service) observe(ctx context.Context, op, key string) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("license.operation", op)}
	if key != "" {
		attrs = append(attrs, attribute.String("license.key_hash", infrastructure.HashKey(key)))
	}
	ctx, span := s.tracer.Start(ctx, "license."+op, trace.WithAttributes(attrs...))

	return ctx, func(err error) {
		defer span.End()
		duration := time.Since(start)

		code := "OK"
		if err != nil {
			code = apperrors.CodeOf(err)
		}

		if s.metrics != nil {
			opAttr := attribute.String("operation", op)
			s.metrics.Operations.Add(ctx, 1, metric.WithAttributes(opAttr, attribute.String("code", code)))
			s.metrics.Duration.Record(ctx, duration.Seconds(), metric.WithAttributes(opAttr))
			if code == apperrors.CodeKill {
				s.metrics.KillVerdicts.Add(ctx, 1, metric.WithAttributes(opAttr))
			}
		}

		span.SetAttributes(attribute.String("license.code", code))
		level := slog.LevelInfo
		switch {
		case err == nil:
			span.SetStatus(codes.Ok, "")
		case apperrors.KindOf(code) == apperrors.KindServerFault:
			level = slog.LevelError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			level = slog.LevelWarn
			span.SetStatus(codes.Error, code)
		}

		logAttrs := []slog.Attr{
			slog.String("operation", op),
			slog.String("code", code),
			slog.Duration("duration", duration),
		}
		if key != "" {
			logAttrs = append(logAttrs, slog.String("license_key", infrastructure.MaskKey(key)))
		}
		if err != nil && level == slog.LevelError {
			logAttrs = append(logAttrs, slog.String("error", err.Error()))
		}
		s.logger.LogAttrs(ctx, level, "license operation", logAttrs...)
	}
}

func (s *Service) recordBinding(ctx context.Context, kind, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Bindings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
