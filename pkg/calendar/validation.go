package calendar

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/teambition/rrule-go"
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

const maxUIDLength = 255

// ValidateEvent checks required fields and value ranges. It never mutates state.
func ValidateEvent(e Event) error {
	if err := ValidateUID(e.UID); err != nil {
		return err
	}
	if e.CalendarID == "" {
		return fmt.Errorf("%w: calendar id is required", ErrValidation)
	}
	if strings.TrimSpace(e.Summary) == "" {
		return fmt.Errorf("%w: summary is required", ErrValidation)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrValidation)
	}
	if e.End.Before(e.Start) {
		return fmt.Errorf("%w: end %s is before start %s", ErrValidation, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if e.AllDay {
		if !isMidnight(e.Start) || !isMidnight(e.End) {
			return fmt.Errorf("%w: all-day events must start and end on date boundaries", ErrValidation)
		}
		if !e.End.After(e.Start) {
			return fmt.Errorf("%w: all-day events must span at least one day", ErrValidation)
		}
	}
	if e.TZID != "" {
		if _, err := time.LoadLocation(e.TZID); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrValidation, e.TZID)
		}
	}
	if e.RRule != "" {
		if _, err := rrule.StrToROption(e.RRule); err != nil {
			return fmt.Errorf("%w: invalid recurrence rule %q: %v", ErrValidation, e.RRule, err)
		}
	}
	return nil
}

// ValidateUID accepts printable identifiers that are safe to use as a resource name.
func ValidateUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("%w: uid is required", ErrValidation)
	}
	if len(uid) > maxUIDLength {
		return fmt.Errorf("%w: uid is longer than %d characters", ErrValidation, maxUIDLength)
	}
	for _, r := range uid {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' || r == '\\' {
			return fmt.Errorf("%w: uid contains invalid character %q", ErrValidation, r)
		}
	}
	return nil
}

func ValidateCalendar(c Calendar) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: calendar name is required", ErrValidation)
	}
	if err := ValidateColor(c.Color); err != nil {
		return err
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: sync interval must not be negative", ErrValidation)
	}
	switch c.Kind {
	case KindLocal:
		if c.RemoteURL != "" || c.AccountID != "" || c.CTag != "" {
			return fmt.Errorf("%w: local calendars cannot carry remote connection parameters", ErrValidation)
		}
	case KindRemote:
		u, err := url.Parse(c.RemoteURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: remote url %q is not an http(s) URL", ErrValidation, c.RemoteURL)
		}
		if c.AccountID == "" {
			return fmt.Errorf("%w: remote calendars need an account", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown calendar kind %q", ErrValidation, c.Kind)
	}
	return nil
}

func ValidateColor(color string) error {
	if !colorPattern.MatchString(color) {
		return fmt.Errorf("%w: color %q must be in #RRGGBB format", ErrValidation, color)
	}
	return nil
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
