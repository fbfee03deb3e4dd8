// Package caldav talks to remote CalDAV collections: discovery, change tags,
// etag listing, bulk fetch and conditional writes.
package caldav

import (
	"context"
	"strings"
	"time"
)

// Collection is a calendar collection found during discovery.
type Collection struct {
	Href        string
	Name        string
	Description string
}

// Resource is one calendar object of a collection. Data is the iCalendar text
// exactly as the server sent it.
type Resource struct {
	Href string
	ETag string
	Data string
}

type Client interface {
	DiscoverCollections(ctx context.Context) ([]Collection, error)
	GetCTag(ctx context.Context, collection string) (string, error)
	// ListETags returns the etag of every resource in the collection keyed by href.
	ListETags(ctx context.Context, collection string) (map[string]string, error)
	// FetchChanged fetches the resources whose etag differs from baseline or
	// that baseline does not know.
	FetchChanged(ctx context.Context, collection string, baseline map[string]string) ([]Resource, error)
	FetchResources(ctx context.Context, collection string, hrefs []string) ([]Resource, error)
	QueryRange(ctx context.Context, collection string, from, to time.Time) ([]Resource, error)
	// Put creates the resource when ifMatch is empty and fails with a conflict if
	// it already exists; otherwise it updates it only if the server etag still
	// equals ifMatch. It returns the new server etag.
	Put(ctx context.Context, href string, data string, ifMatch string) (string, error)
	Delete(ctx context.Context, href string, ifMatch string) error
}

// NormalizeETag strips the weak prefix and the quotes servers put around etags.
func NormalizeETag(etag string) string {
	etag = strings.TrimSpace(etag)
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

func quoteETag(etag string) string {
	return `"` + NormalizeETag(etag) + `"`
}

// ResourceHref is the href a new event gets inside a collection.
func ResourceHref(collection string, uid string) string {
	return strings.TrimSuffix(collectionPath(collection), "/") + "/" + escapeSegment(uid) + ".ics"
}

func diffETags(remote map[string]string, baseline map[string]string) []string {
	var changed []string
	for href, etag := range remote {
		if known, ok := baseline[href]; !ok || known != etag {
			changed = append(changed, href)
		}
	}
	return changed
}
