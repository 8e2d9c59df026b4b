// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateContextID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "ctx-1", false},
		{"discord style", "discord:123456789", false},
		{"issue style", "repo#42", false},
		{"path style", "org/repo/issues/7", false},
		{"single char", "a", false},
		{"digits", "12345", false},
		{"empty", "", true},
		{"leading separator", ":abc", true},
		{"whitespace", "ctx 1", true},
		{"newline", "ctx\n1", true},
		{"key injection", "ctx\x00evil", true},
		{"too long", strings.Repeat("a", 129), true},
		{"max length ok", strings.Repeat("a", 128), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContextID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateContextID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}
