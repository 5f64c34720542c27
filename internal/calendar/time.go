package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

// ParseStamp parses a provider timestamp into time.Time. Providers are not
// consistent: Google emits RFC3339, Microsoft Graph emits local date-times
// with fractional seconds and no zone suffix, Apple feeds mix both. A value
// lacking a zone suffix is treated as UTC by appending an explicit marker
// before parsing, so it never comes back as an invalid date.
func ParseStamp(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}

	// Graph-style fractional seconds without a zone: trim to whole seconds.
	if i := strings.IndexByte(v, '.'); i > 0 {
		v = v[:i]
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}

	// No zone suffix at all: assume UTC.
	if strings.Contains(v, "T") {
		if t, err := time.Parse(time.RFC3339, v+"Z"); err == nil {
			return t, nil
		}
	}

	// Date-only form used for all-day events.
	if t, err := time.Parse(dateOnlyLayout, v); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

// ParseDate parses a date-only value (all-day event boundary).
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(dateOnlyLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable date %q", value)
	}
	return t, nil
}
