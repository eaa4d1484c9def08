package scheduler

import (
	"errors"
	"testing"
	"time"

	"dispatchd/internal/domain"
)

func TestFireInstant(t *testing.T) {
	t.Parallel()
	ny, err := LoadZone("America/New_York")
	if err != nil {
		t.Fatalf("LoadZone error: %v", err)
	}
	tests := []struct {
		name       string
		date, hhmm string
		loc        *time.Location
		want       time.Time
	}{
		{name: "utc", date: "2026-10-19", hhmm: "09:00", loc: time.UTC, want: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)},
		{name: "single digit hour", date: "2026-10-19", hhmm: "7:05", loc: time.UTC, want: time.Date(2026, 10, 19, 7, 5, 0, 0, time.UTC)},
		{name: "new york edt", date: "2026-07-01", hhmm: "09:00", loc: ny, want: time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)},
		{name: "new york est", date: "2026-12-01", hhmm: "09:00", loc: ny, want: time.Date(2026, 12, 1, 14, 0, 0, 0, time.UTC)},
		{name: "nil zone", date: "2026-10-19", hhmm: "23:59", loc: nil, want: time.Date(2026, 10, 19, 23, 59, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := FireInstant(tt.date, tt.hhmm, tt.loc)
			if err != nil {
				t.Fatalf("FireInstant error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("FireInstant = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFireInstantInvalid(t *testing.T) {
	t.Parallel()
	for _, c := range [][2]string{{"2026-13-01", "09:00"}, {"2026-10-19", "25:00"}, {"", "09:00"}} {
		if _, err := FireInstant(c[0], c[1], time.UTC); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("FireInstant(%q, %q) error = %v, want ErrValidation", c[0], c[1], err)
		}
	}
}

func TestLoadZone(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"", "UTC", "utc"} {
		loc, err := LoadZone(name)
		if err != nil || loc != time.UTC {
			t.Fatalf("LoadZone(%q) = %v, %v", name, loc, err)
		}
	}
	if _, err := LoadZone("Mars/Olympus_Mons"); err == nil {
		t.Fatal("expected error for unknown zone")
	}
}
