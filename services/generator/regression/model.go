// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package regression models transient cold-start regressions per PoP.
//
// # Description
//
// Each PoP owns a small state machine that is created lazily on first use
// and lives for the lifetime of the process:
//
//	            p = 0.05 per cycle
//	  HEALTHY ─────────────────────────► REGRESSED
//	     ▲                                   │
//	     │     elapsed >= duration           │
//	     └───────────────────────────────────┘
//
// While regressed, Evaluate returns a multiplier in [2.0, 3.3). The cycle
// in which elapsed time reaches the drawn duration returns 1.0 and clears
// the regression; a new regression can start no earlier than the next
// cycle.
//
// # Thread Safety
//
// Evaluate is called from the scheduler goroutine only. Snapshot and
// ActiveCount may be called concurrently from the status surface.
package regression

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// ActivationProbability is the chance per PoP per cycle that a healthy
	// PoP starts regressing.
	ActivationProbability = 0.05

	// Factor is the centre of the regression multiplier.
	Factor = 2.5

	// jitterLow and jitterHigh bound the uniform jitter added to Factor.
	jitterLow  = -0.5
	jitterHigh = 0.8

	// MinDurationSeconds and MaxDurationSeconds bound the uniformly drawn
	// regression length, inclusive.
	MinDurationSeconds = 300
	MaxDurationSeconds = 1800
)

// Rand is the randomness the model consumes. *math/rand/v2.Rand satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Observer receives regression transitions. Implementations must be cheap;
// they are invoked while the model lock is held.
type Observer interface {
	RegressionStarted(popCode string, duration time.Duration)
	RegressionRecovered(popCode string)
}

// State is a copy of one PoP's regression state.
//
// StartedAt is the zero time exactly when Active is false.
type State struct {
	PoPCode         string
	Active          bool
	StartedAt       time.Time
	DurationSeconds int
}

// Duration returns the drawn regression length.
func (s State) Duration() time.Duration {
	return time.Duration(s.DurationSeconds) * time.Second
}

// Model holds the per-PoP regression states.
type Model struct {
	rng      Rand
	observer Observer

	mu     sync.RWMutex
	states map[string]*State
}

// New creates a Model drawing from rng. observer may be nil.
func New(rng Rand, observer Observer) *Model {
	return &Model{
		rng:      rng,
		observer: observer,
		states:   make(map[string]*State),
	}
}

// Evaluate advances the PoP's state machine to now and returns the latency
// multiplier to apply this cycle.
//
// # Description
//
//  1. Lazily creates an inactive state for popCode.
//  2. If inactive, activates with probability ActivationProbability,
//     drawing a duration in [MinDurationSeconds, MaxDurationSeconds].
//  3. If active and elapsed < duration, returns Factor + U(-0.5, 0.8).
//  4. If active and elapsed >= duration, recovers and returns 1.0.
//  5. Otherwise returns 1.0.
//
// Call it once per PoP per cycle; every function at the PoP shares the
// returned multiplier.
func (m *Model) Evaluate(popCode string, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[popCode]
	if !ok {
		st = &State{PoPCode: popCode}
		m.states[popCode] = st
	}

	if !st.Active && m.rng.Float64() < ActivationProbability {
		st.Active = true
		st.StartedAt = now
		st.DurationSeconds = MinDurationSeconds + m.rng.IntN(MaxDurationSeconds-MinDurationSeconds+1)
		slog.Warn("Regression triggered",
			"pop_code", popCode,
			"duration_seconds", st.DurationSeconds)
		if m.observer != nil {
			m.observer.RegressionStarted(popCode, st.Duration())
		}
	}

	if !st.Active {
		return 1.0
	}

	if now.Sub(st.StartedAt) < st.Duration() {
		multiplier := Factor + jitterLow + (jitterHigh-jitterLow)*m.rng.Float64()
		slog.Debug("PoP experiencing regression",
			"pop_code", popCode,
			"multiplier", multiplier)
		return multiplier
	}

	st.Active = false
	st.StartedAt = time.Time{}
	slog.Info("PoP recovered from regression", "pop_code", popCode)
	if m.observer != nil {
		m.observer.RegressionRecovered(popCode)
	}
	return 1.0
}

// lookup returns a copy of the state for popCode, if one exists.
func (m *Model) lookup(popCode string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[popCode]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Snapshot returns copies of all known states ordered by PoP code.
func (m *Model) Snapshot() []State {
	m.mu.RLock()
	out := make([]State, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, *st)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].PoPCode < out[j].PoPCode })
	return out
}

// Active returns copies of the currently regressed states ordered by code.
func (m *Model) Active() []State {
	all := m.Snapshot()
	out := all[:0]
	for _, st := range all {
		if st.Active {
			out = append(out, st)
		}
	}
	return out
}

// ActiveCount returns the number of PoPs currently regressed.
func (m *Model) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, st := range m.states {
		if st.Active {
			n++
		}
	}
	return n
}
