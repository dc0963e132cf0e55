// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

// Command embwire-compiler is the stylesheet compiler subprocess. A host
// library launches it with --embedded and speaks the framed protocol over
// its stdin/stdout; stderr carries structured logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/sheetcraft/embwire/embwire"
	embotel "github.com/sheetcraft/embwire/embwire/otel"
)

func main() {
	os.Exit(run())
}

func run() int {
	embedded := flag.Bool("embedded", false, "run the embedded protocol over stdin/stdout")
	configPath := flag.String("config", "", "path to a TOML config file")
	version := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *version {
		fmt.Printf("%s %s (protocol %s)\n",
			embwire.ImplementationName, embwire.CompilerVersion, embwire.ProtocolVersion)
		return 0
	}
	if !*embedded {
		fmt.Fprintln(os.Stderr, "usage: embwire-compiler --embedded [--config path]")
		return 64
	}

	cfg := defaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 64
		}
		cfg = loaded
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	srv := embwire.NewServer()
	srv.SetLogger(log)
	srv.SetMaxFrameSize(cfg.MaxFrameSize)

	if cfg.OtelEnabled {
		shutdown, err := setupOtel(cfg)
		if err != nil {
			log.Error("otel setup failed", "err", err)
			return 1
		}
		defer shutdown()

		otelCfg := embotel.DefaultConfig()
		otelCfg.ServiceName = cfg.OtelServiceName
		otelCfg.EnableTracing = cfg.OtelTraces
		otelCfg.EnableMetrics = cfg.OtelMetrics
		embotel.InstrumentServer(srv, otelCfg)
	}

	if err := srv.RunStdio(); err != nil {
		if errors.Is(err, embwire.ErrProtocol) {
			return embwire.ProtocolErrorExitCode
		}
		log.Error("serve loop failed", "err", err)
		return 1
	}
	return 0
}

// newLogger builds the stderr logger. Stdout belongs to the protocol, so
// logs must never go there.
func newLogger(cfg compilerConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// setupOtel installs stdout-exporting tracer and meter providers. The
// exporters write to stderr because stdout carries protocol frames.
func setupOtel(cfg compilerConfig) (func(), error) {
	var shutdowns []func()

	if cfg.OtelTraces {
		traceExporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, func() { _ = tp.Shutdown(context.Background()) })
	}

	if cfg.OtelMetrics {
		metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, func() { _ = mp.Shutdown(context.Background()) })
	}

	return func() {
		for _, fn := range shutdowns {
			fn()
		}
	}, nil
}
