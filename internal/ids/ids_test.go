// Package ids provides unit tests for identifier generation.
package ids

import (
	"sort"
	"testing"
	"time"
)

// TestNewIntentID_monotonic verifies IDs created in order sort in order,
// including IDs minted within the same millisecond.
func TestNewIntentID_monotonic(t *testing.T) {
	now := time.Now()
	var got []string
	for i := 0; i < 500; i++ {
		got = append(got, NewIntentID(now))
	}
	if !sort.StringsAreSorted(got) {
		t.Error("intent IDs minted in sequence are not lexically sorted")
	}

	later := NewIntentID(now.Add(time.Second))
	if later <= got[len(got)-1] {
		t.Errorf("later ID %s should sort after %s", later, got[len(got)-1])
	}
}

// TestNewIntentID_unique verifies uniqueness.
func TestNewIntentID_unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewIntentID(time.Now())
		if seen[id] {
			t.Fatalf("duplicate intent ID %s", id)
		}
		seen[id] = true
		if !IsIntentID(id) {
			t.Fatalf("IsIntentID(%q) = false", id)
		}
	}
}

// TestIsIntentID_invalid verifies malformed IDs are rejected.
func TestIsIntentID_invalid(t *testing.T) {
	for _, s := range []string{"", "not-a-ulid", "f47ac10b-58cc-4372-a567-0e02b2c3d479"} {
		if IsIntentID(s) {
			t.Errorf("IsIntentID(%q) = true, want false", s)
		}
	}
}

// TestNew tests that New() generates valid UUID v4 strings.
func TestNew(t *testing.T) {
	id := New()
	if !IsValid(id) {
		t.Errorf("Generated UUID does not match v4 format: %s", id)
	}
	if err := Validate(id); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

// TestIsValid tests UUID v4 validation.
func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{"valid UUID v4", "f47ac10b-58cc-4372-a567-0e02b2c3d479", true},
		{"uppercase", "F47AC10B-58CC-4372-A567-0E02B2C3D479", true},
		{"version 1", "f47ac10b-58cc-1372-a567-0e02b2c3d479", false},
		{"bad variant", "f47ac10b-58cc-4372-c567-0e02b2c3d479", false},
		{"no dashes", "f47ac10b58cc4372a5670e02b2c3d479", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.id); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
