package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelFallback(t *testing.T) {
	t.Parallel()

	l, err := NewLogger(LogConfig{Level: "debug", App: "sessionkeeper"})
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger(LogConfig{Level: "nonsense", Pretty: true})
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.DebugLevel))
	require.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestWithTrace(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithTrace(context.Background(), base).Info("plain")
	require.Empty(t, logs.All()[0].ContextMap()["trace_id"])

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	WithTrace(ctx, base).Info("traced")
	got := logs.All()[1].ContextMap()
	require.Equal(t, sc.TraceID().String(), got["trace_id"])
	require.Equal(t, sc.SpanID().String(), got["span_id"])

	require.Nil(t, WithTrace(ctx, nil))
}

func TestSetupOTel_Disabled(t *testing.T) {
	o, err := SetupOTel(context.Background(), &OTELConfig{Enable: false})
	require.NoError(t, err)
	require.Nil(t, o.TracerProvider)
	require.NoError(t, o.Shutdown(context.Background()))
	require.Len(t, GRPCServerOpts(), 1)
}

func TestMetricsMux(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"})
	reg.MustRegister(c)
	c.Inc()

	healthy := true
	mux := MetricsMux(reg, func(context.Context) error {
		if healthy {
			return nil
		}
		return errors.New("db down")
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "probe_total 1")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestResource_Identity(t *testing.T) {
	t.Parallel()
	res := Resource(&OTELConfig{Env: "prod", Version: "1.4.0"})
	set := res.Set()

	name, ok := set.Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "sessionkeeper", name.AsString())
	ver, ok := set.Value(semconv.ServiceVersionKey)
	require.True(t, ok)
	require.Equal(t, "1.4.0", ver.AsString())
	env, ok := set.Value(semconv.DeploymentEnvironmentKey)
	require.True(t, ok)
	require.Equal(t, "prod", env.AsString())

	bare := Resource(&OTELConfig{ServiceName: "sk-edge"}).Set()
	_, ok = bare.Value(semconv.DeploymentEnvironmentKey)
	require.False(t, ok)
	name, _ = bare.Value(semconv.ServiceNameKey)
	require.Equal(t, "sk-edge", name.AsString())
}

func TestSampler_Ratio(t *testing.T) {
	t.Parallel()
	root := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0x01},
		Name:          "root",
	}
	require.Equal(t, sdktrace.RecordAndSample, Sampler(1).ShouldSample(root).Decision)
	require.Equal(t, sdktrace.RecordAndSample, Sampler(2).ShouldSample(root).Decision)
	require.Equal(t, sdktrace.Drop, Sampler(0).ShouldSample(root).Decision)
	require.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased")
}
