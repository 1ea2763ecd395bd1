// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalog holds the static list of simulated EdgeWorker points of
// presence (PoPs).
//
// The default catalog is compiled into the binary from pops.yaml. A
// different catalog with the same shape can be loaded with LoadFile.
// A Catalog is immutable once loaded and safe for concurrent reads.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/edgeworker-detector/pkg/validation"
	"gopkg.in/yaml.v3"
)

//go:embed pops.yaml
var defaultCatalogYAML []byte

// ErrEmptyCatalog is returned when a catalog document contains no PoPs.
var ErrEmptyCatalog = errors.New("catalog contains no pops")

// ErrUnknownTier is returned for a tier outside tier1..tier3.
var ErrUnknownTier = errors.New("unknown tier")

// =============================================================================
// Tier
// =============================================================================

// Tier classifies a PoP's infrastructure speed. tier1 is fastest.
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
)

// Multiplier returns the baseline latency multiplier for the tier:
// tier1 = 1.0, tier2 = 1.3, tier3 = 1.6. Unknown tiers get 1.0.
func (t Tier) Multiplier() float64 {
	switch t {
	case Tier2:
		return 1.3
	case Tier3:
		return 1.6
	default:
		return 1.0
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t == Tier1 || t == Tier2 || t == Tier3
}

// =============================================================================
// PoP
// =============================================================================

// PoP is one simulated edge location.
type PoP struct {
	Code      string  `yaml:"code" json:"code" validate:"required,popcode"`
	City      string  `yaml:"city" json:"city" validate:"required"`
	Country   string  `yaml:"country" json:"country" validate:"required"`
	Latitude  float64 `yaml:"latitude" json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"longitude" json:"longitude" validate:"gte=-180,lte=180"`
	Tier      Tier    `yaml:"tier" json:"tier" validate:"required"`
}

type document struct {
	PoPs []PoP `yaml:"pops"`
}

// =============================================================================
// Catalog
// =============================================================================

// Catalog is an ordered, immutable set of PoPs keyed by code.
type Catalog struct {
	pops   []PoP
	byCode map[string]int
}

// Default returns the embedded 20-PoP catalog.
//
// # Outputs
//
//   - *Catalog: The parsed catalog.
//   - error: Non-nil only if the embedded document is malformed.
func Default() (*Catalog, error) {
	return Parse(defaultCatalogYAML)
}

// MustDefault is Default for callers that cannot proceed without it.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(fmt.Sprintf("embedded pop catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads and validates a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a YAML catalog document.
//
// # Description
//
// Every entry needs a well-formed code (see validation.ValidatePoPCode),
// a city, a country and a known tier. Coordinates must lie within valid
// latitude/longitude ranges and codes must be unique.
//
// # Outputs
//
//   - *Catalog: The catalog in document order.
//   - error: ErrEmptyCatalog, ErrUnknownTier, a duplicate code error or a
//     validation error.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(doc.PoPs)
}

// New builds a Catalog from pops after validating them. Codes are
// trimmed and lowercased first, so duplicates are detected case-insensitively.
func New(pops []PoP) (*Catalog, error) {
	if len(pops) == 0 {
		return nil, ErrEmptyCatalog
	}

	validate := validation.New()
	c := &Catalog{
		pops:   make([]PoP, 0, len(pops)),
		byCode: make(map[string]int, len(pops)),
	}

	for i, p := range pops {
		if code, err := validation.SanitizePoPCode(p.Code); err == nil {
			p.Code = code
		}
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("pop %d (%q): %w", i, p.Code, err)
		}
		if !p.Tier.Valid() {
			return nil, fmt.Errorf("pop %q: %w: %q", p.Code, ErrUnknownTier, p.Tier)
		}
		if _, dup := c.byCode[p.Code]; dup {
			return nil, fmt.Errorf("duplicate pop code %q", p.Code)
		}
		c.byCode[p.Code] = len(c.pops)
		c.pops = append(c.pops, p)
	}

	return c, nil
}

// All returns a copy of the PoPs in catalog order.
func (c *Catalog) All() []PoP {
	out := make([]PoP, len(c.pops))
	copy(out, c.pops)
	return out
}

// Len returns the number of PoPs.
func (c *Catalog) Len() int {
	return len(c.pops)
}

// Lookup returns the PoP with the given code.
func (c *Catalog) Lookup(code string) (PoP, bool) {
	i, ok := c.byCode[code]
	if !ok {
		return PoP{}, false
	}
	return c.pops[i], true
}

// Countries returns the number of distinct countries in the catalog.
func (c *Catalog) Countries() int {
	seen := make(map[string]struct{}, len(c.pops))
	for _, p := range c.pops {
		seen[p.Country] = struct{}{}
	}
	return len(seen)
}
