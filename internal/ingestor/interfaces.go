// Package ingestor loads channel catalogs and program guides from feed URLs.
// Catalogs come in the extended M3U dialect or as XMLTV; both are reduced to
// a Listing of channels and programmes.
package ingestor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmylchreest/tvinput/pkg/m3u"
	"github.com/jmylchreest/tvinput/pkg/xmltv"
)

// Format is the catalog format of a feed.
type Format string

const (
	FormatM3U   Format = "m3u"
	FormatXMLTV Format = "xmltv"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatM3U:
		return FormatM3U, nil
	case FormatXMLTV:
		return FormatXMLTV, nil
	default:
		return "", fmt.Errorf("unknown feed format %q", s)
	}
}

// Listing is a parsed feed.
type Listing struct {
	// Channels in feed order. Channel numbers are unique.
	Channels []m3u.Channel

	// Programmes keyed by the XMLTV channel id they belong to, in feed
	// order. M3U catalogs carry none.
	Programmes map[string][]*xmltv.Programme

	FetchedAt time.Time
}

// ProgrammeCount returns the number of programmes in the listing.
func (l *Listing) ProgrammeCount() int {
	n := 0
	for _, progs := range l.Programmes {
		n += len(progs)
	}
	return n
}

// Resource is an opened feed body.
type Resource struct {
	Body io.ReadCloser
	// ContentType is the HTTP Content-Type, empty for files.
	ContentType string
}

// Fetcher opens feed URLs.
type Fetcher interface {
	// Open returns the raw body of url. The caller closes it.
	Open(ctx context.Context, url string) (*Resource, error)
}
