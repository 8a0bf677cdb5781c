package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"pulse/internal/ratelimit"
)

// InstrumentedLimiter wraps a ratelimit.Limiter with OpenTelemetry tracing
// and metrics. Spans and metric attributes carry the identifier kind only,
// never the address or key itself.
type InstrumentedLimiter struct {
	name         string
	inner        ratelimit.Limiter
	tracer       trace.Tracer
	decisions    metric.Int64Counter
	errors       metric.Int64Counter
	duration     metric.Float64Histogram
	registration metric.Registration
}

// NewInstrumentedLimiter creates a limiter wrapper that records a decision
// counter, check latency and errors for every Allow call. When inner reports
// its size the number of tracked identifiers is exported as a gauge.
func NewInstrumentedLimiter(name string, inner ratelimit.Limiter) (*InstrumentedLimiter, error) {
	tracer := otel.Tracer("pulse/ratelimit")
	meter := otel.Meter("pulse/ratelimit")

	decisions, err := meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	errCounter, err := meter.Int64Counter(
		"ratelimit.errors",
		metric.WithDescription("Rate limit checks that failed and were allowed through"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"ratelimit.check.duration",
		metric.WithDescription("Duration of rate limit checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	l := &InstrumentedLimiter{
		name:      name,
		inner:     inner,
		tracer:    tracer,
		decisions: decisions,
		errors:    errCounter,
		duration:  duration,
	}

	if sizer, ok := inner.(ratelimit.Sizer); ok {
		gauge, err := meter.Int64ObservableGauge(
			"ratelimit.identifiers",
			metric.WithDescription("Identifiers currently tracked by the limiter"),
			metric.WithUnit("{identifier}"),
		)
		if err != nil {
			return nil, err
		}
		attrs := metric.WithAttributes(attribute.String("limiter", name))
		l.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(gauge, int64(sizer.Len()), attrs)
			return nil
		}, gauge)
		if err != nil {
			return nil, err
		}
	}

	return l, nil
}

func (l *InstrumentedLimiter) Allow(ctx context.Context, id ratelimit.Identifier) (bool, ratelimit.Info, error) {
	ctx, span := l.tracer.Start(ctx, "ratelimit.Allow",
		trace.WithAttributes(
			attribute.String("ratelimit.limiter", l.name),
			attribute.String("ratelimit.kind", string(id.Kind)),
		),
	)
	defer span.End()

	start := time.Now()
	allowed, info, err := l.inner.Allow(ctx, id)
	elapsed := time.Since(start).Seconds()

	base := []attribute.KeyValue{
		attribute.String("limiter", l.name),
		attribute.String("kind", string(id.Kind)),
	}
	l.duration.Record(ctx, elapsed, metric.WithAttributes(base...))

	if err != nil {
		l.errors.Add(ctx, 1, metric.WithAttributes(base...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return allowed, info, err
	}

	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	l.decisions.Add(ctx, 1, metric.WithAttributes(append(base, attribute.String("outcome", outcome))...))

	span.SetAttributes(
		attribute.String("ratelimit.outcome", outcome),
		attribute.Int("ratelimit.limit", info.Limit),
		attribute.Int("ratelimit.remaining", info.Remaining),
	)
	span.SetStatus(codes.Ok, "")
	return allowed, info, nil
}

func (l *InstrumentedLimiter) Quota() ratelimit.Quota {
	return l.inner.Quota()
}

// Len reports the inner limiter's size, or -1 when it cannot tell.
func (l *InstrumentedLimiter) Len() int {
	if sizer, ok := l.inner.(ratelimit.Sizer); ok {
		return sizer.Len()
	}
	return -1
}

// Close unregisters the gauge callback and closes the inner limiter.
func (l *InstrumentedLimiter) Close() error {
	var errs []error
	if l.registration != nil {
		if err := l.registration.Unregister(); err != nil {
			errs = append(errs, err)
		}
		l.registration = nil
	}
	if err := l.inner.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
