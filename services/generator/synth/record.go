// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package synth

import (
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/catalog"
)

// Measurement is the time-series measurement name of every record.
const Measurement = "cold_start_metrics"

// Tag keys.
const (
	TagPoPCode      = "pop_code"
	TagCity         = "city"
	TagCountry      = "country"
	TagTier         = "tier"
	TagFunctionName = "function_name"
)

// Field keys.
const (
	FieldColdStartMs = "cold_start_time_ms"
	FieldLatitude    = "latitude"
	FieldLongitude   = "longitude"
)

// DefaultFunctions are the synthetic EdgeWorker functions monitored at
// every PoP.
var DefaultFunctions = []string{
	"auth-validator",
	"content-optimizer",
	"geo-redirect",
	"a-b-test",
	"rate-limiter",
}

// Record is one cold-start measurement for a (PoP, function) pair.
//
// Records are produced per cycle and never mutated after synthesis.
type Record struct {
	PoP          catalog.PoP
	FunctionName string
	ColdStartMs  float64
	Timestamp    time.Time
}

// Tags returns the record's tag set.
func (r Record) Tags() map[string]string {
	return map[string]string{
		TagPoPCode:      r.PoP.Code,
		TagCity:         r.PoP.City,
		TagCountry:      r.PoP.Country,
		TagTier:         string(r.PoP.Tier),
		TagFunctionName: r.FunctionName,
	}
}

// Fields returns the record's field set.
func (r Record) Fields() map[string]any {
	return map[string]any{
		FieldColdStartMs: r.ColdStartMs,
		FieldLatitude:    r.PoP.Latitude,
		FieldLongitude:   r.PoP.Longitude,
	}
}
