package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("invalid configuration")

func (a Application) Validate() error {
	if a.Sync.Interval < time.Minute {
		return fmt.Errorf("%w: sync.interval must be at least 1m, got %s", ErrInvalidConfig, a.Sync.Interval)
	}
	if a.Sync.RequestTimeout <= 0 {
		return fmt.Errorf("%w: sync.requesttimeout must be positive", ErrInvalidConfig)
	}
	if a.Sync.RetryInitial <= 0 || a.Sync.MaxBackoff < a.Sync.RetryInitial {
		return fmt.Errorf("%w: sync.maxbackoff must not be lower than sync.retryinitial", ErrInvalidConfig)
	}
	if a.Sync.Parallel < 1 {
		return fmt.Errorf("%w: sync.parallel must be at least 1", ErrInvalidConfig)
	}
	if a.View.CacheSize < 1 {
		return fmt.Errorf("%w: view.cachesize must be at least 1", ErrInvalidConfig)
	}
	if _, err := a.View.Location(); err != nil {
		return fmt.Errorf("%w: view.timezone: %v", ErrInvalidConfig, err)
	}
	if _, err := a.View.FirstWeekday(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	for id, acc := range a.Accounts {
		if err := acc.validate(); err != nil {
			return fmt.Errorf("%w: account %q: %v", ErrInvalidConfig, id, err)
		}
	}
	return nil
}

func (acc Account) validate() error {
	u, err := url.Parse(acc.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q is not an http(s) URL", acc.URL)
	}
	switch acc.Auth {
	case AuthBasic:
		if acc.Username == "" {
			return errors.New("basic auth requires a username")
		}
		if !strings.HasPrefix(acc.Credential, "env:") && !strings.HasPrefix(acc.Credential, "file:") {
			return errors.New("credential must reference env:NAME or file:PATH")
		}
	case AuthGoogle:
	default:
		return fmt.Errorf("unknown auth %q", acc.Auth)
	}
	return nil
}

func (v View) Location() (*time.Location, error) {
	if v.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(v.Timezone)
}

func (v View) FirstWeekday() (time.Weekday, error) {
	switch strings.ToLower(v.WeekStart) {
	case "", "monday":
		return time.Monday, nil
	case "sunday":
		return time.Sunday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Monday, fmt.Errorf("view.weekstart %q is not one of monday, sunday, saturday", v.WeekStart)
}

// CalendarEnabled reports whether automatic sync is enabled for the calendar.
func (s Sync) CalendarEnabled(calendarId string) bool {
	enabled, ok := s.Calendars[calendarId]
	return !ok || enabled
}

// ResolveCredential returns the secret an account's credential reference points to.
func (acc Account) ResolveCredential() (string, error) {
	switch {
	case strings.HasPrefix(acc.Credential, "env:"):
		name := strings.TrimPrefix(acc.Credential, "env:")
		value, ok := os.LookupEnv(name)
		if !ok {
			return "", fmt.Errorf("environment variable %s is not set", name)
		}
		return value, nil
	case strings.HasPrefix(acc.Credential, "file:"):
		data, err := os.ReadFile(strings.TrimPrefix(acc.Credential, "file:"))
		if err != nil {
			return "", fmt.Errorf("read credential file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("unsupported credential reference %q", acc.Credential)
}

func (a Application) clone() Application {
	c := a
	if a.Accounts != nil {
		c.Accounts = make(map[string]Account, len(a.Accounts))
		for k, v := range a.Accounts {
			c.Accounts[k] = v
		}
	}
	if a.Sync.Calendars != nil {
		c.Sync.Calendars = make(map[string]bool, len(a.Sync.Calendars))
		for k, v := range a.Sync.Calendars {
			c.Sync.Calendars[k] = v
		}
	}
	return c
}
