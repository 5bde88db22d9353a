package ingestor

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/urlutil"
)

// ErrUnsupportedScheme is returned for URLs that are neither http(s) nor
// file.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// ResourceFetcher opens http(s):// URLs with the feed client and file://
// URLs from disk.
type ResourceFetcher struct {
	client *httpclient.Client
}

// NewResourceFetcher creates a fetcher using client for remote URLs.
func NewResourceFetcher(client *httpclient.Client) *ResourceFetcher {
	return &ResourceFetcher{client: client}
}

// Open implements Fetcher.
func (f *ResourceFetcher) Open(ctx context.Context, url string) (*Resource, error) {
	switch {
	case urlutil.IsFileURL(url):
		path, err := urlutil.FilePathFromURL(url)
		if err != nil {
			return nil, err
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		return &Resource{Body: file}, nil

	case urlutil.IsRemoteURL(url):
		resp, err := f.client.Get(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("executing request: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: %d", httpclient.ErrUnexpectedStatus, resp.StatusCode)
		}
		return &Resource{Body: resp.Body, ContentType: resp.Header.Get("Content-Type")}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, urlutil.GetScheme(url))
	}
}
