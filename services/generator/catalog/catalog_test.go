// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_HasTwentyUniquePoPs(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, 20, c.Len())

	seen := map[string]bool{}
	for _, p := range c.All() {
		assert.False(t, seen[p.Code], "duplicate code %s", p.Code)
		seen[p.Code] = true
		assert.True(t, p.Tier.Valid(), "pop %s has tier %q", p.Code, p.Tier)
	}
}

func TestDefault_KnownEntries(t *testing.T) {
	c := MustDefault()

	lax, ok := c.Lookup("lax1")
	require.True(t, ok)
	assert.Equal(t, "Los Angeles", lax.City)
	assert.Equal(t, "USA", lax.Country)
	assert.InDelta(t, 34.05, lax.Latitude, 1e-9)
	assert.InDelta(t, -118.24, lax.Longitude, 1e-9)
	assert.Equal(t, Tier1, lax.Tier)

	gru, ok := c.Lookup("gru1")
	require.True(t, ok)
	assert.Equal(t, "São Paulo", gru.City)
	assert.Equal(t, Tier2, gru.Tier)

	_, ok = c.Lookup("zzz9")
	assert.False(t, ok)
}

func TestDefault_Countries(t *testing.T) {
	// USA has five PoPs; every other PoP is in its own country.
	assert.Equal(t, 16, MustDefault().Countries())
}

func TestTier_MultiplierOrdering(t *testing.T) {
	t1, t2, t3 := Tier1.Multiplier(), Tier2.Multiplier(), Tier3.Multiplier()

	assert.LessOrEqual(t, t1, t2)
	assert.LessOrEqual(t, t2, t3)
	assert.InDelta(t, 1.0, t1, 1e-12)
	assert.InDelta(t, 1.3, t2/t1, 1e-12)
	assert.InDelta(t, 1.6, t3/t1, 1e-12)
	assert.InDelta(t, 1.0, Tier("tier9").Multiplier(), 1e-12)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		is   error
	}{
		{"empty", "pops: []\n", ErrEmptyCatalog},
		{"unknown tier", "pops:\n  - {code: aaa1, city: A, country: X, latitude: 1, longitude: 1, tier: tier7}\n", ErrUnknownTier},
		{"missing code", "pops:\n  - {city: A, country: X, latitude: 1, longitude: 1, tier: tier1}\n", nil},
		{"malformed code", "pops:\n  - {code: LAX 1, city: A, country: X, latitude: 1, longitude: 1, tier: tier1}\n", nil},
		{"bad latitude", "pops:\n  - {code: aaa1, city: A, country: X, latitude: 91, longitude: 1, tier: tier1}\n", nil},
		{"duplicate", "pops:\n  - {code: aaa1, city: A, country: X, latitude: 1, longitude: 1, tier: tier1}\n  - {code: aaa1, city: B, country: Y, latitude: 1, longitude: 1, tier: tier2}\n", nil},
		{"duplicate after normalization", "pops:\n  - {code: aaa1, city: A, country: X, latitude: 1, longitude: 1, tier: tier1}\n  - {code: AAA1, city: B, country: Y, latitude: 1, longitude: 1, tier: tier2}\n", nil},
		{"not yaml", "pops: [", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is), "got %v", err)
			}
		})
	}
}

func TestNew_NormalizesCodes(t *testing.T) {
	c, err := New([]PoP{{Code: "  NYC1 ", City: "New York", Country: "USA", Latitude: 40.7, Longitude: -74, Tier: Tier1}})
	require.NoError(t, err)

	assert.Equal(t, "nyc1", c.All()[0].Code)
	_, ok := c.Lookup("nyc1")
	assert.True(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pops.yaml")
	doc := "pops:\n  - {code: tst1, city: Testville, country: Nowhere, latitude: 10.5, longitude: -20.25, tier: tier3}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())

	p := c.All()[0]
	assert.Equal(t, "tst1", p.Code)
	assert.Equal(t, Tier3, p.Tier)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAll_ReturnsCopy(t *testing.T) {
	c := MustDefault()
	pops := c.All()
	pops[0].Code = "mutated"

	assert.NotEqual(t, "mutated", c.All()[0].Code)
}
