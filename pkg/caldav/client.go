package caldav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	dav "github.com/emersion/go-webdav/caldav"
	log "github.com/sirupsen/logrus"
	"github.com/solcal/solcal/pkg/calendar"
)

const (
	methodPropfind = "PROPFIND"
	methodReport   = "REPORT"
	multigetBatch  = 100
	xmlContentType = "application/xml; charset=utf-8"
	icsContentType = "text/calendar; charset=utf-8"
)

// ClientImpl is the Client of one CalDAV account. Discovery and calendar
// queries go through go-webdav; ctag and etag checks, multiget and
// conditional writes are issued directly over the same authenticated client
// because they need headers and raw payloads go-webdav does not expose.
type ClientImpl struct {
	base    *url.URL
	http    webdav.HTTPClient
	dav     *dav.Client
	timeout time.Duration
}

func NewClient(endpoint string, httpClient webdav.HTTPClient, timeout time.Duration) (*ClientImpl, error) {
	base, err := url.Parse(endpoint)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid CalDAV endpoint %q", calendar.ErrValidation, endpoint)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	classified := classifyingClient{next: httpClient}
	davClient, err := dav.NewClient(classified, endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: create CalDAV client: %v", calendar.ErrValidation, err)
	}
	return &ClientImpl{base: base, http: classified, dav: davClient, timeout: timeout}, nil
}

func (c *ClientImpl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *ClientImpl) DiscoverCollections(ctx context.Context) ([]Collection, error) {
	var principal, homeSet string
	var found []dav.Calendar
	err := c.call(ctx, "find current user principal", func(ctx context.Context) (err error) {
		principal, err = c.dav.FindCurrentUserPrincipal(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = c.call(ctx, "find calendar home set", func(ctx context.Context) (err error) {
		homeSet, err = c.dav.FindCalendarHomeSet(ctx, principal)
		return err
	})
	if err != nil {
		return nil, err
	}
	err = c.call(ctx, "find calendars", func(ctx context.Context) (err error) {
		found, err = c.dav.FindCalendars(ctx, homeSet)
		return err
	})
	if err != nil {
		return nil, err
	}

	collections := make([]Collection, 0, len(found))
	for _, cal := range found {
		if !supportsEvents(cal.SupportedComponentSet) {
			log.Debugf("Skipping collection %s: no VEVENT support", cal.Path)
			continue
		}
		collections = append(collections, Collection{Href: cal.Path, Name: cal.Name, Description: cal.Description})
	}
	return collections, nil
}

func supportsEvents(components []string) bool {
	if len(components) == 0 {
		return true
	}
	for _, comp := range components {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}

// GetCTag returns the collection ctag, or its sync-token on servers without
// ctags. An empty result means the server offers neither.
func (c *ClientImpl) GetCTag(ctx context.Context, collection string) (string, error) {
	ms, err := c.propfind(ctx, collection, "0", propfindCTag)
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		p, ok := r.okProp()
		if !ok {
			continue
		}
		if p.CTag != "" {
			return strings.TrimSpace(p.CTag), nil
		}
		if p.SyncToken != "" {
			return strings.TrimSpace(p.SyncToken), nil
		}
	}
	return "", nil
}

func (c *ClientImpl) ListETags(ctx context.Context, collection string) (map[string]string, error) {
	ms, err := c.propfind(ctx, collection, "1", propfindETags)
	if err != nil {
		return nil, err
	}
	etags := make(map[string]string, len(ms.Responses))
	for _, r := range ms.Responses {
		p, ok := r.okProp()
		if !ok || p.isCollection() || p.ETag == "" {
			continue
		}
		etags[r.href()] = NormalizeETag(p.ETag)
	}
	return etags, nil
}

func (c *ClientImpl) FetchChanged(ctx context.Context, collection string, baseline map[string]string) ([]Resource, error) {
	remote, err := c.ListETags(ctx, collection)
	if err != nil {
		return nil, err
	}
	changed := diffETags(remote, baseline)
	sort.Strings(changed)
	return c.FetchResources(ctx, collection, changed)
}

// FetchResources downloads the given hrefs with calendar-multiget reports.
// Hrefs the server no longer has are left out of the result.
func (c *ClientImpl) FetchResources(ctx context.Context, collection string, hrefs []string) ([]Resource, error) {
	var resources []Resource
	for start := 0; start < len(hrefs); start += multigetBatch {
		end := min(start+multigetBatch, len(hrefs))
		ms, err := c.report(ctx, collection, multigetBody(hrefs[start:end]))
		if err != nil {
			return nil, err
		}
		for _, r := range ms.Responses {
			p, ok := r.okProp()
			if !ok || p.CalendarData == "" {
				continue
			}
			resources = append(resources, Resource{Href: r.href(), ETag: NormalizeETag(p.ETag), Data: p.CalendarData})
		}
	}
	return resources, nil
}

func (c *ClientImpl) QueryRange(ctx context.Context, collection string, from, to time.Time) ([]Resource, error) {
	query := &dav.CalendarQuery{
		CompRequest: dav.CalendarCompRequest{Name: ical.CompCalendar, AllProps: true, AllComps: true},
		CompFilter: dav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []dav.CompFilter{{Name: ical.CompEvent, Start: from, End: to}},
		},
	}
	var objects []dav.CalendarObject
	err := c.call(ctx, "calendar query", func(ctx context.Context) (err error) {
		objects, err = c.dav.QueryCalendar(ctx, collectionPath(collection), query)
		return err
	})
	if err != nil {
		return nil, err
	}

	resources := make([]Resource, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		var buf bytes.Buffer
		if err := ical.NewEncoder(&buf).Encode(obj.Data); err != nil {
			return nil, fmt.Errorf("%w: re-encode %s: %v", calendar.ErrParse, obj.Path, err)
		}
		resources = append(resources, Resource{Href: obj.Path, ETag: NormalizeETag(obj.ETag), Data: buf.String()})
	}
	return resources, nil
}

func (c *ClientImpl) Put(ctx context.Context, href string, data string, ifMatch string) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(href), strings.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build PUT %s: %v", calendar.ErrValidation, href, err)
	}
	req.Header.Set("Content-Type", icsContentType)
	if ifMatch != "" {
		req.Header.Set("If-Match", quoteETag(ifMatch))
	} else {
		req.Header.Set("If-None-Match", "*")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", href, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if etag := NormalizeETag(resp.Header.Get("ETag")); etag != "" {
		return etag, nil
	}
	// Some servers rewrite the payload and withhold the etag on PUT.
	return c.resourceETag(ctx, href)
}

func (c *ClientImpl) Delete(ctx context.Context, href string, ifMatch string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.resolve(href), nil)
	if err != nil {
		return fmt.Errorf("%w: build DELETE %s: %v", calendar.ErrValidation, href, err)
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", quoteETag(ifMatch))
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", href, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *ClientImpl) resourceETag(ctx context.Context, href string) (string, error) {
	ms, err := c.propfind(ctx, href, "0", propfindETags)
	if err != nil {
		return "", err
	}
	for _, r := range ms.Responses {
		if p, ok := r.okProp(); ok && p.ETag != "" {
			return NormalizeETag(p.ETag), nil
		}
	}
	return "", fmt.Errorf("%w: server returned no etag for %s", calendar.ErrNetwork, href)
}

func (c *ClientImpl) propfind(ctx context.Context, target string, depth string, body string) (multistatus, error) {
	return c.multistatusRequest(ctx, methodPropfind, target, depth, body)
}

func (c *ClientImpl) report(ctx context.Context, collection string, body string) (multistatus, error) {
	return c.multistatusRequest(ctx, methodReport, collection, "1", body)
}

func (c *ClientImpl) multistatusRequest(ctx context.Context, method, target, depth, body string) (multistatus, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(target), strings.NewReader(body))
	if err != nil {
		return multistatus{}, fmt.Errorf("%w: build %s %s: %v", calendar.ErrValidation, method, target, err)
	}
	req.Header.Set("Content-Type", xmlContentType)
	req.Header.Set("Depth", depth)
	resp, err := c.http.Do(req)
	if err != nil {
		return multistatus{}, fmt.Errorf("%s %s: %w", strings.ToLower(method), target, err)
	}
	defer resp.Body.Close()

	ms, err := decodeMultistatus(resp.Body)
	if err != nil {
		return multistatus{}, fmt.Errorf("%w: %s %s: %w", calendar.ErrNetwork, method, target, err)
	}
	return ms, nil
}

// call runs one go-webdav request under its own timeout and maps whatever it
// returns onto the error taxonomy.
func (c *ClientImpl) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	err := fn(ctx)
	if err == nil {
		return nil
	}
	for _, kind := range []error{calendar.ErrAuth, calendar.ErrNotFound, calendar.ErrConflict, calendar.ErrNetwork, calendar.ErrValidation} {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%w: %s: %w", calendar.ErrNetwork, op, err)
}

func (c *ClientImpl) resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return c.base.ResolveReference(ref).String()
}

func collectionPath(collection string) string {
	u, err := url.Parse(collection)
	if err != nil || u.Host == "" {
		return collection
	}
	return u.Path
}

func escapeSegment(segment string) string {
	return url.PathEscape(segment)
}
