// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for
// security-critical operations.
//
// Context identifiers arrive from external surfaces (HTTP clients, chat
// gateways) and are embedded directly into storage keys. Validating them
// here keeps key construction injection-free and bounds key size.
package validation

import (
	"fmt"
	"regexp"
)

// maxContextIDLength bounds storage key size.
const maxContextIDLength = 128

// contextIDPattern admits letters, digits, and the separators adapters
// use when deriving IDs from platform identifiers (discord:123, repo#42).
var contextIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9:_\-#./]*$`)

// ValidateContextID validates a conversational context identifier.
//
// Valid IDs:
//   - 1-128 characters
//   - Start with a letter or digit
//   - Letters, digits, and : _ - # . / thereafter
//
// Returns an error if the ID is invalid.
//
// Example:
//
//	if err := validation.ValidateContextID(contextID); err != nil {
//	    return nil, fmt.Errorf("invalid context: %w", err)
//	}
//	// Safe to embed in a storage key
func ValidateContextID(id string) error {
	if id == "" {
		return fmt.Errorf("context id cannot be empty")
	}
	if len(id) > maxContextIDLength {
		return fmt.Errorf("context id too long: %d characters (max %d)", len(id), maxContextIDLength)
	}
	if !contextIDPattern.MatchString(id) {
		return fmt.Errorf("invalid context id format: %q", id)
	}
	return nil
}
