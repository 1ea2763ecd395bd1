// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides validators for identifiers that end up as
// InfluxDB tag values or write destinations.
//
// The plain functions are usable on their own; RegisterValidators exposes
// them to go-playground/validator as the "popcode" and "bucketname" tags.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// popCodePattern matches PoP codes such as "lax1" or "fra-2".
// Lowercase letters, digits and hyphens, 2-16 characters, starting with a
// letter.
var popCodePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,15}$`)

// maxBucketNameLen is InfluxDB's bucket name limit in bytes.
const maxBucketNameLen = 255

// ValidatePoPCode validates a PoP code.
//
// Example:
//
//	if err := validation.ValidatePoPCode(code); err != nil {
//	    return fmt.Errorf("pop %d: %w", i, err)
//	}
func ValidatePoPCode(code string) error {
	if code == "" {
		return fmt.Errorf("pop code cannot be empty")
	}
	if !popCodePattern.MatchString(code) {
		return fmt.Errorf("invalid pop code: %q (must be 2-16 lowercase alphanumeric chars or hyphens, starting with a letter)", code)
	}
	return nil
}

// SanitizePoPCode lowercases and trims code, then validates it.
func SanitizePoPCode(code string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if err := ValidatePoPCode(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateBucketName validates an InfluxDB bucket name. Names starting
// with an underscore are reserved for system buckets.
func ValidateBucketName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("bucket name cannot be empty")
	case len(name) > maxBucketNameLen:
		return fmt.Errorf("bucket name too long: %d bytes (max %d)", len(name), maxBucketNameLen)
	case strings.HasPrefix(name, "_"):
		return fmt.Errorf("invalid bucket name: %q (leading underscore is reserved)", name)
	case strings.ContainsAny(name, "\"\\"):
		return fmt.Errorf("invalid bucket name: %q (quotes and backslashes are not allowed)", name)
	}
	return nil
}

// RegisterValidators adds the "popcode" and "bucketname" tags to v.
func RegisterValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("popcode", func(fl validator.FieldLevel) bool {
		return ValidatePoPCode(fl.Field().String()) == nil
	}); err != nil {
		return err
	}
	return v.RegisterValidation("bucketname", func(fl validator.FieldLevel) bool {
		return ValidateBucketName(fl.Field().String()) == nil
	})
}

// New returns a validator with required-struct checks and the custom tags
// registered.
func New() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterValidators(v); err != nil {
		panic(fmt.Sprintf("register validators: %v", err))
	}
	return v
}
