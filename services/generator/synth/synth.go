// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package synth fabricates cold-start measurement batches.
//
// # Description
//
// For each PoP the synthesizer computes a tier-adjusted base latency, asks
// the regression evaluator for this cycle's multiplier once, then emits one
// record per monitored function. Each record gets its own Gaussian jitter
// (σ = 20% of base) before the shared multiplier is applied, is clamped to
// MinColdStartMs and rounded to three decimals. All records in a batch
// share one timestamp.
//
// The synthesizer never touches the store.
package synth

import (
	"math"
	"time"

	"github.com/AleutianAI/edgeworker-detector/services/generator/catalog"
)

const (
	// BaseColdStartMs is the tier1 mean cold-start latency.
	BaseColdStartMs = 3.5

	// JitterFraction is the Gaussian standard deviation as a fraction of
	// the tier-adjusted base latency.
	JitterFraction = 0.2

	// MinColdStartMs is the floor applied to every emitted value.
	MinColdStartMs = 0.5
)

// Evaluator returns the latency multiplier for a PoP at now.
// *regression.Model satisfies it.
type Evaluator interface {
	Evaluate(popCode string, now time.Time) float64
}

// Rand supplies standard normal draws. *math/rand/v2.Rand satisfies it.
type Rand interface {
	NormFloat64() float64
}

// Synthesizer produces measurement batches.
type Synthesizer struct {
	evaluator Evaluator
	rng       Rand
}

// New creates a Synthesizer.
func New(evaluator Evaluator, rng Rand) *Synthesizer {
	return &Synthesizer{evaluator: evaluator, rng: rng}
}

// BaseLatency returns the tier-adjusted mean latency for pop in ms.
func BaseLatency(pop catalog.PoP) float64 {
	return BaseColdStartMs * pop.Tier.Multiplier()
}

// Batch builds one record per (PoP, function) pair, stamped with now.
//
// # Inputs
//
//   - pops: PoPs to emit for, in output order.
//   - functions: Function names emitted at every PoP.
//   - now: Capture timestamp shared by the whole batch.
//
// # Outputs
//
//   - []Record: len(pops) × len(functions) records.
func (s *Synthesizer) Batch(pops []catalog.PoP, functions []string, now time.Time) []Record {
	records := make([]Record, 0, len(pops)*len(functions))

	for _, pop := range pops {
		base := BaseLatency(pop)
		multiplier := s.evaluator.Evaluate(pop.Code, now)

		for _, fn := range functions {
			value := (base + s.rng.NormFloat64()*base*JitterFraction) * multiplier
			records = append(records, Record{
				PoP:          pop,
				FunctionName: fn,
				ColdStartMs:  finalize(value),
				Timestamp:    now,
			})
		}
	}

	return records
}

// finalize clamps v to MinColdStartMs and rounds to three decimals.
func finalize(v float64) float64 {
	if math.IsNaN(v) || v < MinColdStartMs {
		v = MinColdStartMs
	}
	return math.Round(v*1000) / 1000
}
