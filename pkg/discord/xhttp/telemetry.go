package xhttp

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/splatterxl/twilight/xhttp"

	metricRequests         = "twilight.http.requests"
	metricRequestDuration  = "twilight.http.request.duration"
	metricRateLimitWait    = "twilight.ratelimit.wait.duration"
	metricTokenInvalidated = "twilight.token.invalidated"
)

// telemetry 调度的 trace 与指标。
type telemetry struct {
	tracer      trace.Tracer
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	wait        metric.Float64Histogram
	invalidated metric.Int64Counter
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) (*telemetry, error) {
	mp = orGlobalMeter(mp)
	tp = orGlobalTracer(tp)
	meter := mp.Meter(instrumentationName)

	requests, err := meter.Int64Counter(
		metricRequests,
		metric.WithDescription("调度的请求数"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("xhttp: create counter failed: %w", err)
	}

	duration, err := meter.Float64Histogram(
		metricRequestDuration,
		metric.WithDescription("从调度开始到得到结果的耗时"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("xhttp: create histogram failed: %w", err)
	}

	wait, err := meter.Float64Histogram(
		metricRateLimitWait,
		metric.WithDescription("等待限流许可的耗时"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("xhttp: create histogram failed: %w", err)
	}

	invalidated, err := meter.Int64Counter(
		metricTokenInvalidated,
		metric.WithDescription("token 被判定失效的次数"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("xhttp: create counter failed: %w", err)
	}

	return &telemetry{
		tracer:      tp.Tracer(instrumentationName),
		requests:    requests,
		duration:    duration,
		wait:        wait,
		invalidated: invalidated,
	}, nil
}

func (t *telemetry) start(ctx context.Context, route, method, requestID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "discord "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("discord.route", route),
			attribute.String("discord.request_id", requestID),
		),
	)
}

// finish 结束 span 并记录请求指标。
func (t *telemetry) finish(ctx context.Context, span trace.Span, route string, status int, err error, elapsed time.Duration) {
	outcome := KindOf(err).String()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		outcome = "ok"
		span.SetStatus(codes.Ok, "")
	}
	if status > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", status))
	}
	span.End()

	ctx = context.WithoutCancel(ctx)
	attrs := metric.WithAttributes(
		attribute.String("route", route),
		attribute.String("outcome", outcome),
	)
	t.requests.Add(ctx, 1, attrs)
	t.duration.Record(ctx, elapsed.Seconds(), attrs)
}

func (t *telemetry) recordWait(ctx context.Context, route string, d time.Duration) {
	t.wait.Record(context.WithoutCancel(ctx), d.Seconds(),
		metric.WithAttributes(attribute.String("route", route)))
}

func (t *telemetry) recordInvalidated(ctx context.Context) {
	t.invalidated.Add(context.WithoutCancel(ctx), 1)
}

func orGlobalMeter(mp metric.MeterProvider) metric.MeterProvider {
	if mp == nil {
		return otel.GetMeterProvider()
	}
	return mp
}

func orGlobalTracer(tp trace.TracerProvider) trace.TracerProvider {
	if tp == nil {
		return otel.GetTracerProvider()
	}
	return tp
}
