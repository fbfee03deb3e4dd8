package caldav

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/solcal/solcal/pkg/calendar"
)

const (
	OpDiscover       = "DiscoverCollections"
	OpGetCTag        = "GetCTag"
	OpListETags      = "ListETags"
	OpFetchChanged   = "FetchChanged"
	OpFetchResources = "FetchResources"
	OpQueryRange     = "QueryRange"
	OpPut            = "Put"
	OpDelete         = "Delete"
)

// ClientStub is an in-memory CalDAV collection. Every server-side change gets
// a fresh etag and bumps the ctag, like a real server.
type ClientStub struct {
	mu          sync.Mutex
	seq         int
	ctag        string
	resources   map[string]Resource
	calls       map[string]int
	failures    map[string][]error
	Collections []Collection
	// Hook runs before every operation, outside the stub's lock.
	Hook func(op string)
}

func NewClientStub() *ClientStub {
	return &ClientStub{
		ctag:      "ctag-0",
		resources: make(map[string]Resource),
		calls:     make(map[string]int),
		failures:  make(map[string][]error),
	}
}

// SetResource stores data at href as if another client wrote it and returns
// the new etag.
func (s *ClientStub) SetResource(href string, data string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(href, data)
}

func (s *ClientStub) RemoveResource(href string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, href)
	s.bump()
}

func (s *ClientStub) Resource(href string) (Resource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[href]
	return r, ok
}

func (s *ClientStub) ResourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resources)
}

// FailNext queues err as the result of the next call of op.
func (s *ClientStub) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

func (s *ClientStub) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// MutatingCalls counts fetches and writes, everything beyond change checks.
func (s *ClientStub) MutatingCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[OpFetchResources] + s.calls[OpFetchChanged] + s.calls[OpPut] + s.calls[OpDelete]
}

func (s *ClientStub) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
}

func (s *ClientStub) DiscoverCollections(ctx context.Context) ([]Collection, error) {
	if err := s.enter(ctx, OpDiscover); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Collection(nil), s.Collections...), nil
}

func (s *ClientStub) GetCTag(ctx context.Context, collection string) (string, error) {
	if err := s.enter(ctx, OpGetCTag); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctag, nil
}

func (s *ClientStub) ListETags(ctx context.Context, collection string) (map[string]string, error) {
	if err := s.enter(ctx, OpListETags); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	etags := make(map[string]string, len(s.resources))
	for href, r := range s.resources {
		etags[href] = r.ETag
	}
	return etags, nil
}

func (s *ClientStub) FetchChanged(ctx context.Context, collection string, baseline map[string]string) ([]Resource, error) {
	if err := s.enter(ctx, OpFetchChanged); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	etags := make(map[string]string, len(s.resources))
	for href, r := range s.resources {
		etags[href] = r.ETag
	}
	changed := diffETags(etags, baseline)
	sort.Strings(changed)
	return s.collect(changed), nil
}

func (s *ClientStub) FetchResources(ctx context.Context, collection string, hrefs []string) ([]Resource, error) {
	if err := s.enter(ctx, OpFetchResources); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collect(hrefs), nil
}

// QueryRange returns the whole collection; callers filter by range themselves.
func (s *ClientStub) QueryRange(ctx context.Context, collection string, from, to time.Time) ([]Resource, error) {
	if err := s.enter(ctx, OpQueryRange); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	hrefs := make([]string, 0, len(s.resources))
	for href := range s.resources {
		hrefs = append(hrefs, href)
	}
	sort.Strings(hrefs)
	return s.collect(hrefs), nil
}

func (s *ClientStub) Put(ctx context.Context, href string, data string, ifMatch string) (string, error) {
	if err := s.enter(ctx, OpPut); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.resources[href]
	switch {
	case ifMatch == "" && exists:
		return "", fmt.Errorf("%w: put %s: resource exists", calendar.ErrConflict, href)
	case ifMatch != "" && !exists:
		return "", fmt.Errorf("%w: put %s: resource is gone", calendar.ErrConflict, href)
	case ifMatch != "" && current.ETag != NormalizeETag(ifMatch):
		return "", fmt.Errorf("%w: put %s: etag mismatch", calendar.ErrConflict, href)
	}
	return s.store(href, data), nil
}

func (s *ClientStub) Delete(ctx context.Context, href string, ifMatch string) error {
	if err := s.enter(ctx, OpDelete); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.resources[href]
	if !exists {
		return fmt.Errorf("%w: delete %s", calendar.ErrNotFound, href)
	}
	if ifMatch != "" && current.ETag != NormalizeETag(ifMatch) {
		return fmt.Errorf("%w: delete %s: etag mismatch", calendar.ErrConflict, href)
	}
	delete(s.resources, href)
	s.bump()
	return nil
}

func (s *ClientStub) enter(ctx context.Context, op string) error {
	if s.Hook != nil {
		s.Hook(op)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", calendar.ErrNetwork, op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
	if queued := s.failures[op]; len(queued) > 0 {
		s.failures[op] = queued[1:]
		return queued[0]
	}
	return nil
}

func (s *ClientStub) store(href string, data string) string {
	s.bump()
	etag := fmt.Sprintf("etag-%d", s.seq)
	s.resources[href] = Resource{Href: href, ETag: etag, Data: data}
	return etag
}

func (s *ClientStub) bump() {
	s.seq++
	s.ctag = fmt.Sprintf("ctag-%d", s.seq)
}

func (s *ClientStub) collect(hrefs []string) []Resource {
	var out []Resource
	for _, href := range hrefs {
		if r, ok := s.resources[href]; ok {
			out = append(out, r)
		}
	}
	return out
}
