package caldav

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventData = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\nBEGIN:VEVENT\r\nUID:a\r\nDTSTAMP:20260101T000000Z\r\nDTSTART:20260101T100000Z\r\nDTEND:20260101T110000Z\r\nSUMMARY:A\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   string
}

// fakeServer answers the requests of one test with canned responses and
// records what it received.
type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, req recordedRequest)
}

func newFakeServer(t *testing.T, handle func(w http.ResponseWriter, req recordedRequest)) (*httptest.Server, *fakeServer) {
	fake := &fakeServer{handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		req := recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: string(body)}
		fake.mu.Lock()
		fake.requests = append(fake.requests, req)
		fake.mu.Unlock()
		fake.handle(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv, fake
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeMultistatus(w http.ResponseWriter, responses ...string) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	fmt.Fprint(w, `<?xml version="1.0" encoding="utf-8"?>`+
		`<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav" xmlns:cs="http://calendarserver.org/ns/">`+
		strings.Join(responses, "")+`</d:multistatus>`)
}

func okResponse(href string, props string) string {
	return `<d:response><d:href>` + href + `</d:href><d:propstat><d:prop>` + props +
		`</d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`
}

func newTestClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *ClientImpl {
	client, err := NewClient(srv.URL+"/dav/", srv.Client(), timeout)
	require.NoError(t, err)
	return client
}

func TestClient_GetCTag(t *testing.T) {
	// given
	srv, fake := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		writeMultistatus(w, okResponse("/dav/cal/", `<cs:getctag>"c-42"</cs:getctag>`))
	})
	client := newTestClient(t, srv, time.Second)

	// when
	ctag, err := client.GetCTag(context.Background(), "/dav/cal/")

	// then
	require.NoError(t, err)
	assert.Equal(t, `"c-42"`, ctag)
	req := fake.last()
	assert.Equal(t, "PROPFIND", req.Method)
	assert.Equal(t, "0", req.Header.Get("Depth"))
	assert.Contains(t, req.Body, "getctag")
}

func TestClient_GetCTagFallsBackToSyncToken(t *testing.T) {
	srv, _ := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		writeMultistatus(w, okResponse("/dav/cal/", `<d:sync-token>http://example.com/sync/7</d:sync-token>`))
	})
	client := newTestClient(t, srv, time.Second)

	ctag, err := client.GetCTag(context.Background(), "/dav/cal/")

	require.NoError(t, err)
	assert.Equal(t, "http://example.com/sync/7", ctag)
}

func TestClient_ListETagsSkipsCollection(t *testing.T) {
	// given
	srv, fake := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		writeMultistatus(w,
			okResponse("/dav/cal/", `<d:resourcetype><d:collection/><c:calendar/></d:resourcetype><d:getetag>"coll"</d:getetag>`),
			okResponse("/dav/cal/a.ics", `<d:resourcetype/><d:getetag>"1"</d:getetag>`),
			okResponse("/dav/cal/b.ics", `<d:getetag>W/"2"</d:getetag>`),
		)
	})
	client := newTestClient(t, srv, time.Second)

	// when
	etags, err := client.ListETags(context.Background(), srv.URL+"/dav/cal/")

	// then
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"/dav/cal/a.ics": "1", "/dav/cal/b.ics": "2"}, etags)
	assert.Equal(t, "1", fake.last().Header.Get("Depth"))
	assert.Equal(t, "/dav/cal/", fake.last().Path)
}

func TestClient_FetchResourcesWithMultiget(t *testing.T) {
	// given
	srv, fake := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		writeMultistatus(w,
			okResponse("/dav/cal/a.ics", `<d:getetag>"1"</d:getetag><c:calendar-data>`+eventData+`</c:calendar-data>`),
			`<d:response><d:href>/dav/cal/gone.ics</d:href><d:status>HTTP/1.1 404 Not Found</d:status></d:response>`,
		)
	})
	client := newTestClient(t, srv, time.Second)

	// when
	resources, err := client.FetchResources(context.Background(), "/dav/cal/", []string{"/dav/cal/a.ics", "/dav/cal/gone.ics"})

	// then
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "/dav/cal/a.ics", resources[0].Href)
	assert.Equal(t, "1", resources[0].ETag)
	assert.Contains(t, resources[0].Data, "UID:a")
	req := fake.last()
	assert.Equal(t, "REPORT", req.Method)
	assert.Contains(t, req.Body, "calendar-multiget")
	assert.Contains(t, req.Body, "<d:href>/dav/cal/gone.ics</d:href>")
}

func TestClient_FetchChangedOnlyFetchesDifferingEtags(t *testing.T) {
	// given
	srv, fake := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		if req.Method == "PROPFIND" {
			writeMultistatus(w,
				okResponse("/dav/cal/a.ics", `<d:getetag>"1"</d:getetag>`),
				okResponse("/dav/cal/b.ics", `<d:getetag>"2"</d:getetag>`),
			)
			return
		}
		writeMultistatus(w, okResponse("/dav/cal/b.ics", `<d:getetag>"2"</d:getetag><c:calendar-data>`+eventData+`</c:calendar-data>`))
	})
	client := newTestClient(t, srv, time.Second)

	// when
	resources, err := client.FetchChanged(context.Background(), "/dav/cal/", map[string]string{"/dav/cal/a.ics": "1", "/dav/cal/b.ics": "old"})

	// then
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "/dav/cal/b.ics", resources[0].Href)
	assert.NotContains(t, fake.last().Body, "a.ics")
}

func TestClient_PutSendsConditionalHeaders(t *testing.T) {
	// given
	srv, fake := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		w.Header().Set("ETag", `"new"`)
		w.WriteHeader(http.StatusCreated)
	})
	client := newTestClient(t, srv, time.Second)

	// when
	created, err := client.Put(context.Background(), "/dav/cal/a.ics", eventData, "")
	require.NoError(t, err)
	createReq := fake.last()
	updated, err := client.Put(context.Background(), "/dav/cal/a.ics", eventData, "old")
	require.NoError(t, err)
	updateReq := fake.last()

	// then
	assert.Equal(t, "new", created)
	assert.Equal(t, "new", updated)
	assert.Equal(t, "*", createReq.Header.Get("If-None-Match"))
	assert.Empty(t, createReq.Header.Get("If-Match"))
	assert.Equal(t, `"old"`, updateReq.Header.Get("If-Match"))
	assert.Equal(t, "text/calendar; charset=utf-8", updateReq.Header.Get("Content-Type"))
	assert.Equal(t, eventData, updateReq.Body)
}

func TestClient_PutWithoutEtagHeaderAsksServer(t *testing.T) {
	// given
	srv, _ := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		if req.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeMultistatus(w, okResponse(req.Path, `<d:getetag>"server-side"</d:getetag>`))
	})
	client := newTestClient(t, srv, time.Second)

	// when
	etag, err := client.Put(context.Background(), "/dav/cal/a.ics", eventData, "")

	// then
	require.NoError(t, err)
	assert.Equal(t, "server-side", etag)
}

func TestClient_PutWithoutAnyEtagIsNetworkError(t *testing.T) {
	// given
	srv, fake := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		if req.Method == http.MethodPut {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeMultistatus(w, okResponse(req.Path, `<d:displayname>a</d:displayname>`))
	})
	client := newTestClient(t, srv, time.Second)

	// when
	etag, err := client.Put(context.Background(), "/dav/cal/a.ics", eventData, "")

	// then
	require.ErrorIs(t, err, calendar.ErrNetwork)
	assert.Empty(t, etag)
	assert.Equal(t, methodPropfind, fake.last().Method)
}

func TestClient_StatusCodesMapToErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"precondition failed", http.StatusPreconditionFailed, calendar.ErrConflict},
		{"unauthorized", http.StatusUnauthorized, calendar.ErrAuth},
		{"forbidden", http.StatusForbidden, calendar.ErrAuth},
		{"not found", http.StatusNotFound, calendar.ErrNotFound},
		{"server error", http.StatusBadGateway, calendar.ErrNetwork},
		{"bad request", http.StatusBadRequest, calendar.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
				w.WriteHeader(tt.status)
			})
			client := newTestClient(t, srv, time.Second)

			_, putErr := client.Put(context.Background(), "/dav/cal/a.ics", eventData, "1")
			deleteErr := client.Delete(context.Background(), "/dav/cal/a.ics", "1")

			assert.ErrorIs(t, putErr, tt.want)
			assert.ErrorIs(t, deleteErr, tt.want)
			var statusErr *StatusError
			require.ErrorAs(t, putErr, &statusErr)
			assert.Equal(t, tt.status, statusErr.Code)
		})
	}
}

func TestClient_CallTimeoutIsNetworkError(t *testing.T) {
	// given
	release := make(chan struct{})
	srv, _ := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		<-release
	})
	defer close(release)
	client := newTestClient(t, srv, 50*time.Millisecond)

	// when
	_, err := client.GetCTag(context.Background(), "/dav/cal/")

	// then
	require.ErrorIs(t, err, calendar.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_DiscoverCollections(t *testing.T) {
	// given
	srv, _ := newFakeServer(t, func(w http.ResponseWriter, req recordedRequest) {
		switch {
		case strings.Contains(req.Body, "current-user-principal"):
			writeMultistatus(w, okResponse(req.Path, `<d:current-user-principal><d:href>/dav/principals/alice/</d:href></d:current-user-principal>`))
		case strings.Contains(req.Body, "calendar-home-set"):
			writeMultistatus(w, okResponse(req.Path, `<c:calendar-home-set><d:href>/dav/calendars/alice/</d:href></c:calendar-home-set>`))
		default:
			writeMultistatus(w,
				okResponse("/dav/calendars/alice/", `<d:resourcetype><d:collection/></d:resourcetype>`),
				okResponse("/dav/calendars/alice/work/", `<d:resourcetype><d:collection/><c:calendar/></d:resourcetype>`+
					`<d:displayname>Work</d:displayname>`+
					`<c:supported-calendar-component-set><c:comp name="VEVENT"/></c:supported-calendar-component-set>`),
				okResponse("/dav/calendars/alice/tasks/", `<d:resourcetype><d:collection/><c:calendar/></d:resourcetype>`+
					`<d:displayname>Tasks</d:displayname>`+
					`<c:supported-calendar-component-set><c:comp name="VTODO"/></c:supported-calendar-component-set>`),
			)
		}
	})
	client := newTestClient(t, srv, time.Second)

	// when
	collections, err := client.DiscoverCollections(context.Background())

	// then
	require.NoError(t, err)
	require.Len(t, collections, 1)
	assert.Equal(t, "/dav/calendars/alice/work/", collections[0].Href)
	assert.Equal(t, "Work", collections[0].Name)
}

func TestClient_RejectsInvalidEndpoint(t *testing.T) {
	_, err := NewClient("not a url", nil, time.Second)

	require.ErrorIs(t, err, calendar.ErrValidation)
}

func TestNormalizeETagAndResourceHref(t *testing.T) {
	assert.Equal(t, "abc", NormalizeETag(`W/"abc"`))
	assert.Equal(t, "abc", NormalizeETag(` "abc" `))
	assert.Equal(t, "/dav/cal/a%20b.ics", ResourceHref("https://example.com/dav/cal/", "a b"))
	assert.Equal(t, "/dav/cal/x.ics", ResourceHref("/dav/cal", "x"))
}
