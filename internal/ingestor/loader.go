package ingestor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/tvinput/internal/urlutil"
	"github.com/jmylchreest/tvinput/pkg/compression"
)

// Loader fetches and parses feeds. Parsed listings are cached by URL until
// invalidated.
type Loader struct {
	fetcher Fetcher
	m3u     *M3UHandler
	xmltv   *XMLTVHandler
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]*Listing
}

// NewLoader creates a loader reading feeds through fetcher.
func NewLoader(fetcher Fetcher) *Loader {
	logger := slog.Default()
	return &Loader{
		fetcher: fetcher,
		m3u:     NewM3UHandler("", logger),
		xmltv:   NewXMLTVHandler(logger),
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]*Listing),
	}
}

// WithLogger sets the logger.
func (l *Loader) WithLogger(logger *slog.Logger) *Loader {
	l.logger = logger
	l.m3u.logger = logger
	l.xmltv.logger = logger
	return l
}

// WithLogoBaseURL sets the prefix for bare M3U logo names.
func (l *Loader) WithLogoBaseURL(base string) *Loader {
	l.m3u.logoBaseURL = base
	return l
}

// Load returns the listing for feedURL, fetching it on first use.
func (l *Loader) Load(ctx context.Context, feedURL string, format Format) (*Listing, error) {
	l.mu.Lock()
	cached, ok := l.cache[feedURL]
	l.mu.Unlock()
	if ok {
		return cached, nil
	}

	listing, err := l.fetch(ctx, feedURL, format)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[feedURL] = listing
	l.mu.Unlock()
	return listing, nil
}

// Refresh fetches feedURL and replaces any cached listing.
func (l *Loader) Refresh(ctx context.Context, feedURL string, format Format) (*Listing, error) {
	l.Invalidate(feedURL)
	return l.Load(ctx, feedURL, format)
}

// Invalidate drops the cached listing for feedURL.
func (l *Loader) Invalidate(feedURL string) {
	l.mu.Lock()
	delete(l.cache, feedURL)
	l.mu.Unlock()
}

func (l *Loader) fetch(ctx context.Context, feedURL string, format Format) (*Listing, error) {
	start := l.now()
	redacted := urlutil.Redact(feedURL)

	res, err := l.fetcher.Open(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("opening feed %s: %w", redacted, err)
	}
	defer res.Body.Close()

	body, err := decompress(feedURL, res.Body)
	if err != nil {
		return nil, fmt.Errorf("opening feed %s: %w", redacted, err)
	}
	defer body.Close()

	var listing *Listing
	switch format {
	case FormatM3U:
		listing, err = l.m3u.Parse(body, res.ContentType)
	case FormatXMLTV:
		listing, err = l.xmltv.Parse(body)
	default:
		err = fmt.Errorf("unknown feed format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("loading feed %s: %w", redacted, err)
	}
	listing.FetchedAt = l.now()

	l.logger.Info("feed loaded",
		slog.String("url", redacted),
		slog.String("format", string(format)),
		slog.Int("channels", len(listing.Channels)),
		slog.Int("programmes", listing.ProgrammeCount()),
		slog.Duration("duration", listing.FetchedAt.Sub(start)))

	return listing, nil
}

// decompress unwraps body. A .gz path is always gunzipped; anything else is
// sniffed.
func decompress(feedURL string, body io.Reader) (io.ReadCloser, error) {
	path := feedURL
	if u, err := url.Parse(urlutil.ParseLocator(feedURL).URL); err == nil {
		path = u.Path
	}
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		return compression.NewGzipReader(body)
	}
	return compression.NewReader(body)
}
