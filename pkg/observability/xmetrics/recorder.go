package xmetrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultInstrumentationName = "github.com/omeyang/xlogkit/xmetrics"

	metricRotationTotal    = "xlogkit.rotation.total"
	metricRotationDuration = "xlogkit.rotation.duration"
	metricRetentionRemoved = "xlogkit.retention.removed"
	metricRegistryEvents   = "xlogkit.registry.events"
	metricProxyUnresolved  = "xlogkit.proxy.unresolved"
	metricRouteFallback    = "xlogkit.route.fallback"

	// StatusOK 成功
	StatusOK = "ok"
	// StatusError 失败
	StatusError = "error"
)

type config struct {
	instrumentationName string
	meterProvider       metric.MeterProvider
}

// Option 定义 Recorder 的配置选项。
type Option func(*config)

// WithInstrumentationName 设置 OTel instrumentation 名称，空值被忽略。
func WithInstrumentationName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.instrumentationName = name
		}
	}
}

// WithMeterProvider 设置 MeterProvider，nil 被忽略（使用全局 provider）。
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *config) {
		if provider != nil {
			cfg.meterProvider = provider
		}
	}
}

// Recorder 记录日志配置核心的运行指标。
//
// nil *Recorder 是合法的空实现。
type Recorder struct {
	rotations        metric.Int64Counter
	rotationDuration metric.Float64Histogram
	removed          metric.Int64Counter
	events           metric.Int64Counter
	unresolved       metric.Int64Counter
	fallbacks        metric.Int64Counter
}

// NewRecorder 创建基于 OpenTelemetry 的 Recorder。
func NewRecorder(opts ...Option) (*Recorder, error) {
	cfg := &config{
		instrumentationName: defaultInstrumentationName,
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	meter := cfg.meterProvider.Meter(cfg.instrumentationName)

	r := &Recorder{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&r.rotations, metricRotationTotal, "log file rotations"},
		{&r.removed, metricRetentionRemoved, "archives removed by retention"},
		{&r.events, metricRegistryEvents, "registry notifications"},
		{&r.unresolved, metricProxyUnresolved, "proxy calls with no registered logger"},
		{&r.fallbacks, metricRouteFallback, "records redirected to another destination"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCreateCounter, c.name, err)
		}
		*c.dst = counter
	}

	hist, err := meter.Float64Histogram(
		metricRotationDuration,
		metric.WithDescription("background rotation duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCreateHistogram, metricRotationDuration, err)
	}
	r.rotationDuration = hist
	return r, nil
}

// Rotation 记录一次轮转的结果与耗时。
func (r *Recorder) Rotation(ctx context.Context, logger, trigger string, d time.Duration, err error) {
	if r == nil {
		return
	}
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	set := metric.WithAttributes(
		attribute.String("logger", logger),
		attribute.String("trigger", trigger),
		attribute.String("status", status),
	)
	r.rotations.Add(ctx, 1, set)
	r.rotationDuration.Record(ctx, d.Seconds(), set)
}

// ArchivesRemoved 记录保留策略删除的归档数量，n <= 0 时忽略。
func (r *Recorder) ArchivesRemoved(ctx context.Context, logger string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.removed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("logger", logger)))
}

// RegistryEvent 记录一次注册表通知。
func (r *Recorder) RegistryEvent(ctx context.Context, event string) {
	if r == nil {
		return
	}
	r.events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// Unresolved 记录一次代理解析失败。
func (r *Recorder) Unresolved(ctx context.Context, logger string) {
	if r == nil {
		return
	}
	r.unresolved.Add(ctx, 1, metric.WithAttributes(attribute.String("logger", logger)))
}

// Fallback 记录一次目的地回退。
func (r *Recorder) Fallback(ctx context.Context, logger, to string) {
	if r == nil {
		return
	}
	r.fallbacks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("logger", logger),
		attribute.String("to", to),
	))
}
