package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var reHHMM = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):([0-5][0-9])$`)

// ParseClock parses a 24-hour HH:MM string. Single-digit hours are accepted.
func ParseClock(raw string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(strings.TrimSpace(raw))
	if len(m) != 3 {
		return 0, 0, Invalid("scheduledTime", "time must be in HH:MM format")
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// NormalizeClock returns raw as zero-padded HH:MM.
func NormalizeClock(raw string) (string, error) {
	h, m, err := ParseClock(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the
// calendar date as YYYY-MM-DD. For timestamps the date is taken as written,
// without converting zones.
func ParseDate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", Invalid("scheduledDate", "date is required")
	}
	if d, err := time.Parse(DateLayout, s); err == nil {
		return d.Format(DateLayout), nil
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.Format(DateLayout), nil
	}
	return "", Invalid("scheduledDate", "invalid date format")
}

func ValidateContent(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", Invalid("content", "content is required")
	}
	if len([]rune(s)) > MaxContentLength {
		return "", Invalid("content", fmt.Sprintf("content cannot exceed %d characters", MaxContentLength))
	}
	return s, nil
}

func (t RecipientType) Valid() bool {
	switch t {
	case RecipientEmail, RecipientSMS, RecipientPush, RecipientInternal:
		return true
	}
	return false
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

func (f Filter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return Invalid("status", fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return Invalid("priority", fmt.Sprintf("unknown priority %q", f.Priority))
	}
	if f.RecipientType != "" && !f.RecipientType.Valid() {
		return Invalid("recipientType", fmt.Sprintf("unknown recipient type %q", f.RecipientType))
	}
	return nil
}
