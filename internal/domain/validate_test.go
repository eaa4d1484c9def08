package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClock(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw        string
		hour, min  int
		wantErr    bool
		normalized string
	}{
		{raw: "09:00", hour: 9, min: 0, normalized: "09:00"},
		{raw: "9:05", hour: 9, min: 5, normalized: "09:05"},
		{raw: "23:59", hour: 23, min: 59, normalized: "23:59"},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "1230", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		h, m, err := ParseClock(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ParseClock(%q) error = %v, want ErrValidation", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q) error: %v", tt.raw, err)
		}
		if h != tt.hour || m != tt.min {
			t.Fatalf("ParseClock(%q) = %d:%d, want %d:%d", tt.raw, h, m, tt.hour, tt.min)
		}
		n, _ := NormalizeClock(tt.raw)
		if n != tt.normalized {
			t.Fatalf("NormalizeClock(%q) = %q, want %q", tt.raw, n, tt.normalized)
		}
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()
	got, err := ParseDate("2026-02-28")
	if err != nil || got != "2026-02-28" {
		t.Fatalf("ParseDate = %q, %v", got, err)
	}
	got, err = ParseDate("2026-05-01T22:30:00-04:00")
	if err != nil || got != "2026-05-01" {
		t.Fatalf("ParseDate(rfc3339) = %q, %v", got, err)
	}
	for _, raw := range []string{"2026-02-30", "tomorrow", ""} {
		if _, err := ParseDate(raw); !errors.Is(err, ErrValidation) {
			t.Fatalf("ParseDate(%q) error = %v, want ErrValidation", raw, err)
		}
	}
}

func TestValidateContent(t *testing.T) {
	t.Parallel()
	if got, err := ValidateContent("  hello "); err != nil || got != "hello" {
		t.Fatalf("ValidateContent = %q, %v", got, err)
	}
	if _, err := ValidateContent("   "); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty content error = %v", err)
	}
	if _, err := ValidateContent(strings.Repeat("x", MaxContentLength+1)); !errors.Is(err, ErrValidation) {
		t.Fatalf("long content error = %v", err)
	}
}
