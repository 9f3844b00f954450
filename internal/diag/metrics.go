package diag

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// 指标：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}
type instrumentSet struct {
	opTotal  metric.Int64Counter
	errTotal metric.Int64Counter
	opDur    metric.Int64Histogram
}

var current atomic.Pointer[instrumentSet]

func newInstruments(mp metric.MeterProvider) *instrumentSet {
	m := mp.Meter("prefiremsk")
	s := &instrumentSet{}
	s.opTotal, _ = m.Int64Counter("op_total", metric.WithDescription("pipeline stage outcomes"))
	s.errTotal, _ = m.Int64Counter("error_total", metric.WithDescription("classified failures"))
	s.opDur, _ = m.Int64Histogram("op_duration_ms", metric.WithUnit("ms"))
	return s
}

func instruments() *instrumentSet {
	if s := current.Load(); s != nil {
		return s
	}
	s := newInstruments(otel.GetMeterProvider())
	if current.CompareAndSwap(nil, s) {
		return s
	}
	return current.Load()
}

// UseMeterProvider 以 mp 重建指标仪表；nil 恢复为全局 provider。
func UseMeterProvider(mp metric.MeterProvider) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	current.Store(newInstruments(mp))
}

// SetupMetrics 初始化 OTLP/HTTP 指标导出（周期推送）。endpoint 为空时
// 不注册 provider，返回 no-op 关闭函数。关闭函数会做最后一次推送。
func SetupMetrics(ctx context.Context, serviceName, endpoint string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop, nil
	}
	exporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	UseMeterProvider(mp)
	return mp.Shutdown, nil
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	s := instruments()
	if s.opTotal == nil {
		return
	}
	s.opTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("comp", comp), attribute.String("stage", stage), attribute.String("result", result)))
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	s := instruments()
	if s.errTotal == nil {
		return
	}
	s.errTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("comp", comp), attribute.String("code", code)))
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	s := instruments()
	if s.opDur == nil {
		return
	}
	s.opDur.Record(context.Background(), durMS, metric.WithAttributes(
		attribute.String("comp", comp), attribute.String("stage", stage)))
}
