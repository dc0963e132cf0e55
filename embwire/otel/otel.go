// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Package embotel provides OpenTelemetry instrumentation for embwire
// compiler servers. It implements the [embwire.CompileHook] interface to
// add distributed tracing and metrics to compilations.
//
// Usage:
//
//	server := embwire.NewServer()
//	embotel.InstrumentServer(server, embotel.DefaultConfig())
package embotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sheetcraft/embwire/embwire"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "embwire"

// OtelConfig configures OpenTelemetry instrumentation for a compiler server.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed
	// compilations. Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to
	// "EmbwireCompiler".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with sensible defaults.
// TracerProvider and MeterProvider are resolved from the global OTel SDK
// at instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentServer attaches OpenTelemetry instrumentation to a compiler
// server. The hook is installed via [embwire.Server.SetCompileHook].
func InstrumentServer(server *embwire.Server, cfg OtelConfig) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "EmbwireCompiler"
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.compileCounter, _ = meter.Int64Counter("compiler.compilations",
			metric.WithUnit("{compilation}"),
			metric.WithDescription("Number of compilations"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("compiler.compilation.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of compilations"),
		)
		hook.hostRequestCounter, _ = meter.Int64Counter("compiler.host_requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of importer and function round trips to the host"),
		)
	}

	server.SetCompileHook(hook)
}

// otelHook implements embwire.CompileHook with OpenTelemetry tracing and
// metrics.
type otelHook struct {
	cfg                OtelConfig
	tracer             trace.Tracer
	compileCounter     metric.Int64Counter
	durationHistogram  metric.Float64Histogram
	hostRequestCounter metric.Int64Counter
}

// spanToken is the HookToken returned by OnCompileStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnCompileStart starts a server span for the compilation.
func (h *otelHook) OnCompileStart(ctx context.Context, info embwire.CompileInfo) (context.Context, embwire.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "embwire"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.Int64("compiler.compilation_id", int64(info.CompilationID)),
		attribute.String("compiler.input_kind", info.InputKind),
		attribute.String("compiler.entry", info.Entry),
		attribute.String("compiler.style", info.Style),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("embwire/compile/%d", info.CompilationID),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)

	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnCompileEnd records span attributes, metrics, and ends the span.
func (h *otelHook) OnCompileEnd(ctx context.Context, token embwire.HookToken, info embwire.CompileInfo, stats *embwire.CompileStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "embwire"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("compiler.input_kind", info.InputKind),
			attribute.String("compiler.style", info.Style),
			attribute.String("status", status),
		)
		if h.compileCounter != nil {
			h.compileCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
		if h.hostRequestCounter != nil && stats != nil {
			h.hostRequestCounter.Add(ctx, stats.HostRequests, metricAttrs)
		}
	}

	if st.span != nil && st.span.IsRecording() {
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("compiler.host_requests", stats.HostRequests),
				attribute.Int64("compiler.log_events", stats.LogEvents),
				attribute.Int64("compiler.loaded_urls", stats.LoadedURLs),
				attribute.Int64("compiler.css_bytes", stats.CSSBytes),
			)
		}

		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			errType := fmt.Sprintf("%T", err)
			var perr *embwire.ProtocolError
			if errors.As(err, &perr) {
				errType = perr.Class.String()
			}
			st.span.SetAttributes(attribute.String("compiler.error_type", errType))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}

		st.span.End()
	}
}
