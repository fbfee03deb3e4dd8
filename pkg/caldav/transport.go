package caldav

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/emersion/go-webdav"
	"github.com/solcal/solcal/pkg/calendar"
)

// StatusError is returned for every non-2xx response. It unwraps to the
// taxonomy error matching the status code.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%v: %s %s returned %d", e.kind, e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	return e.kind
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return calendar.ErrAuth
	case code == http.StatusNotFound, code == http.StatusGone:
		return calendar.ErrNotFound
	case code == http.StatusPreconditionFailed:
		return calendar.ErrConflict
	case code == http.StatusTooManyRequests, code >= 500:
		return calendar.ErrNetwork
	}
	return calendar.ErrValidation
}

// classifyingClient turns transport failures and error statuses into the
// calendar error taxonomy before go-webdav or this package sees them.
type classifyingClient struct {
	next webdav.HTTPClient
}

func (c classifyingClient) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.next.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", calendar.ErrNetwork, req.Method, req.URL.Redacted(), err)
	}
	if resp.StatusCode/100 == 2 {
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return nil, &StatusError{
		Method: req.Method,
		URL:    req.URL.Redacted(),
		Code:   resp.StatusCode,
		Body:   strings.TrimSpace(string(body)),
		kind:   classifyStatus(resp.StatusCode),
	}
}
