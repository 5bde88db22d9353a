// Package urlutil provides URL and stream locator utilities.
package urlutil

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeFile  = "file"
)

const (
	locatorSeparator = "|"
	headerSeparator  = "="
)

// Locator is a stream locator split into the URL to fetch and the request
// headers to send with it.
type Locator struct {
	URL     string
	Headers http.Header
}

// ParseLocator splits a locator of the form
//
//	http://host/stream.m3u8|User-Agent=VLC|Referer=http://host/
//
// into its URL and headers. Parameters without "=" are ignored. Header
// values may themselves contain "=".
func ParseLocator(raw string) Locator {
	parts := strings.Split(strings.TrimSpace(raw), locatorSeparator)
	loc := Locator{URL: parts[0], Headers: http.Header{}}
	for _, param := range parts[1:] {
		name, value, ok := strings.Cut(param, headerSeparator)
		if !ok || name == "" {
			continue
		}
		loc.Headers.Set(name, value)
	}
	return loc
}

// String renders the locator back into its pipe separated form.
func (l Locator) String() string {
	if len(l.Headers) == 0 {
		return l.URL
	}
	var b strings.Builder
	b.WriteString(l.URL)
	for name, values := range l.Headers {
		for _, v := range values {
			b.WriteString(locatorSeparator)
			b.WriteString(name)
			b.WriteString(headerSeparator)
			b.WriteString(v)
		}
	}
	return b.String()
}

// Apply sets the locator headers on req, leaving headers already present
// untouched.
func (l Locator) Apply(req *http.Request) {
	for name, values := range l.Headers {
		if req.Header.Get(name) != "" {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
}

// IsRemoteURL checks if a URL is a remote URL that can be fetched.
func IsRemoteURL(u string) bool {
	return strings.HasPrefix(u, "http://") ||
		strings.HasPrefix(u, "https://") ||
		strings.HasPrefix(u, "//")
}

// IsFileURL checks if a URL uses the file:// scheme.
func IsFileURL(u string) bool {
	return strings.HasPrefix(u, "file://")
}

// GetScheme returns the lower-cased scheme of a URL or "" if it cannot be
// parsed.
func GetScheme(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

// FilePathFromURL extracts the file path from a file:// URL.
func FilePathFromURL(u string) (string, error) {
	if !IsFileURL(u) {
		return "", fmt.Errorf("not a file:// URL: %s", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Path == "" {
		return "", fmt.Errorf("empty path in file URL: %s", u)
	}
	return parsed.Path, nil
}

// ValidateURL checks if a URL is valid and uses a supported scheme. For
// file:// URLs the file must exist.
func ValidateURL(u string) error {
	if u == "" {
		return fmt.Errorf("URL is required")
	}

	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case SchemeHTTP, SchemeHTTPS:
		return nil
	case SchemeFile:
		path, err := FilePathFromURL(u)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return fmt.Errorf("cannot access file: %w", err)
		}
		return nil
	case "":
		return fmt.Errorf("URL must include a scheme (http://, https://, or file://)")
	default:
		return fmt.Errorf("unsupported URL scheme: %s (supported: http, https, file)", scheme)
	}
}

// Redact returns u with user info and credential-like query values masked,
// for logging.
func Redact(u string) string {
	parsed, err := url.Parse(ParseLocator(u).URL)
	if err != nil {
		return "<invalid url>"
	}
	if parsed.User != nil {
		parsed.User = url.User("***")
	}
	query := parsed.Query()
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"username", "user",
}
