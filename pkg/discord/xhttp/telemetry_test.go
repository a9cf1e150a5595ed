package xhttp

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/splatterxl/twilight/pkg/discord/xroute"
)

func newTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return tp, sr
}

func findSpan(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, s := range spans {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

func spanAttr(s sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestTelemetry_Spans(t *testing.T) {
	tp, sr := newTracerProvider(t)
	srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v10/channels/1" {
			jsonHandler(http.StatusForbidden, `{"message":"Missing Access","code":50001}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{}`)(w, r)
	})
	c := newTestClient(t, srv, func(b *Builder) { b.TracerProvider(tp) })

	_, err := c.Request(context.Background(), NewRequest(xroute.GetGateway(), nil))
	require.NoError(t, err)
	_, err = c.Request(context.Background(), NewRequest(xroute.GetChannel(1), nil))
	require.Error(t, err)

	spans := sr.Ended()
	ok := findSpan(spans, "discord GetGateway")
	require.NotNil(t, ok)
	assert.Equal(t, codes.Ok, ok.Status().Code)
	v, found := spanAttr(ok, "discord.route")
	require.True(t, found)
	assert.Equal(t, "GetGateway", v.AsString())
	v, found = spanAttr(ok, "http.response.status_code")
	require.True(t, found)
	assert.Equal(t, int64(200), v.AsInt64())

	failed := findSpan(spans, "discord GetChannel")
	require.NotNil(t, failed)
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Contains(t, failed.Status().Description, "Missing Access")

	// transport 层的 span 是调度 span 的子 span
	var child bool
	for _, s := range spans {
		if s.Parent().SpanID() == ok.SpanContext().SpanID() {
			child = true
		}
	}
	assert.True(t, child)
}

func TestTelemetry_RequestMetrics(t *testing.T) {
	mp, reader := newMeterProvider(t)
	srv, _ := newRecordingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			jsonHandler(http.StatusTooManyRequests, `{"retry_after":1}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{}`)(w, r)
	})
	c := newTestClient(t, srv, func(b *Builder) { b.MeterProvider(mp) })
	ctx := context.Background()

	for range 2 {
		_, err := c.Request(ctx, NewRequest(xroute.GetGateway(), nil))
		require.NoError(t, err)
	}
	_, err := c.Request(ctx, NewRequest(xroute.CreateMessage(1), map[string]any{"content": "x"}))
	require.ErrorIs(t, err, ErrRateLimited)

	m, found := collectMetric(t, reader, metricRequests)
	require.True(t, found)
	sum, isSum := m.Data.(metricdata.Sum[int64])
	require.True(t, isSum)

	byOutcome := map[string]int64{}
	for _, dp := range sum.DataPoints {
		outcome, _ := dp.Attributes.Value("outcome")
		byOutcome[outcome.AsString()] += dp.Value
	}
	assert.Equal(t, int64(2), byOutcome["ok"])
	assert.Equal(t, int64(1), byOutcome["rate_limited"])

	_, found = collectMetric(t, reader, metricRequestDuration)
	assert.True(t, found)
}

func TestTelemetry_WaitMetric(t *testing.T) {
	mp, reader := newMeterProvider(t)
	srv, _ := newRecordingServer(t, jsonHandler(http.StatusOK, `{}`))
	c := newTestClient(t, srv, func(b *Builder) {
		b.MeterProvider(mp).RateLimiter(mustInMemory(t))
	})

	_, err := c.Request(context.Background(), NewRequest(xroute.GetGateway(), nil))
	require.NoError(t, err)

	m, found := collectMetric(t, reader, metricRateLimitWait)
	require.True(t, found)
	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.NotEmpty(t, hist.DataPoints)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}
