// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package status

// Overall health values reported by /health.
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
	StateError     = "error"
)

// degradedBelowPercent is the success rate under which a generator that
// has written at least once is degraded.
const degradedBelowPercent = 90.0

// =============================================================================
// GET /health
// =============================================================================

// HealthResponse is the /health body.
type HealthResponse struct {
	Status        string        `json:"status"`
	Timestamp     string        `json:"timestamp"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	InfluxDB      StoreHealth   `json:"influxdb"`
	Metrics       WriteCounters `json:"metrics"`
	PoPs          MonitoredPoPs `json:"pops"`
}

// StoreHealth is the store section of /health.
type StoreHealth struct {
	ConnectionStatus string  `json:"connection_status"`
	Healthy          bool    `json:"healthy"`
	LastError        *string `json:"last_error"`
}

// WriteCounters is shared by /health ("metrics") and /metrics
// ("generator").
//
// SuccessRatePercent is (total_writes − failed_writes) / max(total_writes, 1)
// × 100, clamped at 0. failed_writes counts attempts while total_writes
// counts batches, so the raw value can go negative; such values are
// reported as 0.
type WriteCounters struct {
	TotalWrites         int64   `json:"total_writes"`
	FailedWrites        int64   `json:"failed_writes"`
	SuccessRatePercent  float64 `json:"success_rate_percent"` // clamped at 0
	LastSuccessfulWrite *string `json:"last_successful_write"`
}

// MonitoredPoPs is the PoP section of /health.
type MonitoredPoPs struct {
	TotalMonitored     int `json:"total_monitored"`
	CurrentlyRegressed int `json:"currently_regressed"`
}

// =============================================================================
// GET /metrics
// =============================================================================

// MetricsResponse is the /metrics body.
type MetricsResponse struct {
	Timestamp string        `json:"timestamp"`
	Generator WriteCounters `json:"generator"`
	PoPs      PoPBreakdown  `json:"pops"`
	InfluxDB  StoreTarget   `json:"influxdb"`
}

// PoPBreakdown is the PoP section of /metrics.
type PoPBreakdown struct {
	Total            int               `json:"total"`
	Healthy          int               `json:"healthy"`
	Regressed        int               `json:"regressed"`
	RegressedDetails []RegressedDetail `json:"regressed_details"`
}

// RegressedDetail describes one active regression.
type RegressedDetail struct {
	PoPCode         string `json:"pop_code"`
	City            string `json:"city"`
	Country         string `json:"country"`
	RegressionStart string `json:"regression_start"`
	DurationSeconds int    `json:"duration_seconds"`
}

// StoreTarget is the store section of /metrics.
type StoreTarget struct {
	ConnectionStatus string  `json:"connection_status"`
	URL              string  `json:"url"`
	Bucket           string  `json:"bucket"`
	LastError        *string `json:"last_error"`
}

// ErrorResponse is returned with HTTP 500.
type ErrorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}
