// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads generator settings.
//
// # Description
//
// Sources are layered, later ones winning:
//
//  1. Built-in defaults
//  2. Optional YAML file (--config)
//  3. Environment variables
//
// Environment variable names match the container deployment:
//
//	INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG, INFLUXDB_BUCKET,
//	INFLUXDB_TIMEOUT, HEALTH_CHECK_PORT, GIN_MODE, LOG_LEVEL, LOG_FORMAT,
//	LOG_DIR, OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_SERVICE_NAME,
//	POP_CATALOG_PATH
package config

import (
	"fmt"
	"time"

	"github.com/AleutianAI/edgeworker-detector/pkg/logging"
	"github.com/AleutianAI/edgeworker-detector/pkg/validation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full generator configuration.
type Config struct {
	InfluxDB  InfluxDBConfig  `koanf:"influxdb"`
	Status    StatusConfig    `koanf:"status"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"otel"`
	Catalog   CatalogConfig   `koanf:"catalog"`
}

// InfluxDBConfig holds store connection settings.
type InfluxDBConfig struct {
	URL     string        `koanf:"url" validate:"required,url"`
	Token   string        `koanf:"token" validate:"required"`
	Org     string        `koanf:"org" validate:"required"`
	Bucket  string        `koanf:"bucket" validate:"required,bucketname"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// StatusConfig holds status surface settings.
type StatusConfig struct {
	Port    int    `koanf:"port" validate:"min=1,max=65535"`
	GinMode string `koanf:"gin_mode" validate:"omitempty,oneof=debug release test"`
}

// Addr returns the listen address for Port on all interfaces.
func (s StatusConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Dir    string `koanf:"dir"`
}

// TelemetryConfig holds tracing settings. An empty Endpoint disables
// trace export.
type TelemetryConfig struct {
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name" validate:"required"`
}

// CatalogConfig selects the PoP catalog. An empty Path uses the built-in
// catalog.
type CatalogConfig struct {
	Path string `koanf:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		InfluxDB: InfluxDBConfig{
			URL:     "http://influxdb:8086",
			Token:   "your-super-secret-admin-token",
			Org:     "akamai",
			Bucket:  "edgeworker-metrics",
			Timeout: 10 * time.Second,
		},
		Status: StatusConfig{
			Port:    8080,
			GinMode: "release",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "edgeworker-generator",
		},
	}
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"INFLUXDB_URL":                "influxdb.url",
	"INFLUXDB_TOKEN":              "influxdb.token",
	"INFLUXDB_ORG":                "influxdb.org",
	"INFLUXDB_BUCKET":             "influxdb.bucket",
	"INFLUXDB_TIMEOUT":            "influxdb.timeout",
	"HEALTH_CHECK_PORT":           "status.port",
	"GIN_MODE":                    "status.gin_mode",
	"LOG_LEVEL":                   "log.level",
	"LOG_FORMAT":                  "log.format",
	"LOG_DIR":                     "log.dir",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_SERVICE_NAME":           "otel.service_name",
	"POP_CATALOG_PATH":            "catalog.path",
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty) and the environment, then validates it.
//
// # Outputs
//
//   - *Config: Validated configuration.
//   - error: File read/parse errors, unmarshal errors or validation
//     errors. A missing file at an explicit path is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validation.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoggingConfig converts the log section for pkg/logging.
func (c *Config) LoggingConfig(service string) logging.Config {
	level, _ := logging.ParseLevel(c.Log.Level)
	format, _ := logging.ParseFormat(c.Log.Format)
	return logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  c.Log.Dir,
		Service: service,
	}
}
