package scheduler

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // reference zone must resolve without host zoneinfo

	"dispatchd/internal/domain"
)

// LoadZone resolves the reference zone used to interpret scheduled times.
// An empty name means UTC.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// FireInstant combines a YYYY-MM-DD date and an HH:MM clock time into one
// instant in loc.
func FireInstant(date, hhmm string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	d, err := time.ParseInLocation(domain.DateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, domain.Invalid("scheduledDate", "invalid date format")
	}
	h, m, err := domain.ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc), nil
}
