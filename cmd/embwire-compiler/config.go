// © Copyright 2026, the embwire authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// compilerConfig holds the runtime settings of the compiler process.
type compilerConfig struct {
	LogLevel        string
	LogJSON         bool
	MaxFrameSize    uint64
	OtelEnabled     bool
	OtelServiceName string
	OtelTraces      bool
	OtelMetrics     bool
}

// defaultConfig returns the settings used when no config file is given.
func defaultConfig() compilerConfig {
	return compilerConfig{
		LogLevel:        "warn",
		OtelServiceName: "embwire-compiler",
		OtelTraces:      true,
		OtelMetrics:     true,
	}
}

// embwire-compiler.toml key mapping to runtime settings.
type fileConfig struct {
	LogLevel        string `toml:"log_level"`
	LogJSON         bool   `toml:"log_json"`
	MaxFrameSize    uint64 `toml:"max_frame_size"`
	OtelEnabled     bool   `toml:"otel_enabled"`
	OtelServiceName string `toml:"otel_service_name"`
	OtelTraces      bool   `toml:"otel_traces"`
	OtelMetrics     bool   `toml:"otel_metrics"`
}

// loadConfig loads a TOML config file over the defaults. Keys absent from
// the file keep their default values.
func loadConfig(path string) (compilerConfig, error) {
	cfg := defaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return compilerConfig{}, fmt.Errorf("load compiler config: %w", err)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if meta.IsDefined("log_json") {
		cfg.LogJSON = raw.LogJSON
	}
	if meta.IsDefined("max_frame_size") {
		cfg.MaxFrameSize = raw.MaxFrameSize
	}
	if meta.IsDefined("otel_enabled") {
		cfg.OtelEnabled = raw.OtelEnabled
	}
	if meta.IsDefined("otel_service_name") {
		cfg.OtelServiceName = strings.TrimSpace(raw.OtelServiceName)
	}
	if meta.IsDefined("otel_traces") {
		cfg.OtelTraces = raw.OtelTraces
	}
	if meta.IsDefined("otel_metrics") {
		cfg.OtelMetrics = raw.OtelMetrics
	}

	if err := validateConfig(cfg); err != nil {
		return compilerConfig{}, err
	}
	return cfg, nil
}

func validateConfig(cfg compilerConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q: want debug, info, warn, or error", cfg.LogLevel)
	}
	return nil
}
