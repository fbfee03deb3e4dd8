package caldav

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const propfindCTag = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/">
  <d:prop><cs:getctag/><d:sync-token/></d:prop>
</d:propfind>`

const propfindETags = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop><d:resourcetype/><d:getetag/></d:prop>
</d:propfind>`

type multistatus struct {
	XMLName   xml.Name   `xml:"DAV: multistatus"`
	Responses []response `xml:"DAV: response"`
}

type response struct {
	Hrefs     []string   `xml:"DAV: href"`
	Status    string     `xml:"DAV: status"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Status string `xml:"DAV: status"`
	Prop   prop   `xml:"DAV: prop"`
}

type prop struct {
	ETag         string        `xml:"DAV: getetag"`
	CTag         string        `xml:"http://calendarserver.org/ns/ getctag"`
	SyncToken    string        `xml:"DAV: sync-token"`
	ResourceType *resourceType `xml:"DAV: resourcetype"`
	CalendarData string        `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

func (r response) href() string {
	if len(r.Hrefs) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Hrefs[0])
}

// okProp merges the properties of every propstat reporting 200. A response
// whose own status is not 200 (a multiget miss) has none.
func (r response) okProp() (prop, bool) {
	if r.Status != "" && !statusOK(r.Status) {
		return prop{}, false
	}
	var merged prop
	found := false
	for _, ps := range r.Propstats {
		if !statusOK(ps.Status) {
			continue
		}
		found = true
		if ps.Prop.ETag != "" {
			merged.ETag = ps.Prop.ETag
		}
		if ps.Prop.CTag != "" {
			merged.CTag = ps.Prop.CTag
		}
		if ps.Prop.SyncToken != "" {
			merged.SyncToken = ps.Prop.SyncToken
		}
		if ps.Prop.ResourceType != nil {
			merged.ResourceType = ps.Prop.ResourceType
		}
		if ps.Prop.CalendarData != "" {
			merged.CalendarData = ps.Prop.CalendarData
		}
	}
	return merged, found
}

func (p prop) isCollection() bool {
	return p.ResourceType != nil && p.ResourceType.Collection != nil
}

// statusOK checks a status line such as "HTTP/1.1 200 OK".
func statusOK(status string) bool {
	fields := strings.Fields(status)
	return len(fields) >= 2 && fields[1] == "200"
}

func decodeMultistatus(r io.Reader) (multistatus, error) {
	var ms multistatus
	if err := xml.NewDecoder(r).Decode(&ms); err != nil {
		return ms, fmt.Errorf("decode multistatus: %w", err)
	}
	return ms, nil
}

func multigetBody(hrefs []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<c:calendar-multiget xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`)
	b.WriteString(`<d:prop><d:getetag/><c:calendar-data/></d:prop>`)
	for _, href := range hrefs {
		b.WriteString("<d:href>")
		_ = xml.EscapeText(&b, []byte(href))
		b.WriteString("</d:href>")
	}
	b.WriteString(`</c:calendar-multiget>`)
	return b.String()
}
