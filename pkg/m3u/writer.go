package m3u

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Writer emits channels in the same dialect Parser reads, so an exported
// playlist can be ingested again without loss.
type Writer struct {
	w             io.Writer
	headerWritten bool

	// LogoBaseURL is stripped from logo URLs before writing. Defaults to
	// DefaultLogoBaseURL.
	LogoBaseURL string
}

// NewWriter creates a new playlist writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, LogoBaseURL: DefaultLogoBaseURL}
}

// WriteHeader writes the #EXTM3U header.
// This is automatically called by WriteChannel if not already written.
func (w *Writer) WriteHeader() error {
	if w.headerWritten {
		return nil
	}
	if _, err := fmt.Fprintln(w.w, "#EXTM3U"); err != nil {
		return fmt.Errorf("writing M3U header: %w", err)
	}
	w.headerWritten = true
	return nil
}

// WriteChannel writes a declaration line followed by the stream URL line.
// Channels without a number are rejected since the parser would drop them.
func (w *Writer) WriteChannel(ch *Channel) error {
	if ch.Number == 0 {
		return fmt.Errorf("channel %q: %w", ch.DisplayName, ErrMissingNumber)
	}
	if err := w.WriteHeader(); err != nil {
		return err
	}

	number := ch.DisplayNumber
	if number == "" {
		number = strconv.Itoa(ch.Number)
	}

	attrs := []string{extinfPrefix + number}
	if ch.TvgID != "" {
		attrs = append(attrs, fmt.Sprintf(`tvg-id="%s"`, attrValue(ch.TvgID)))
	}
	if ch.LogoURL != "" {
		logo := ch.LogoURL
		if w.LogoBaseURL != "" {
			logo = strings.TrimPrefix(logo, w.LogoBaseURL)
		}
		attrs = append(attrs, fmt.Sprintf(`tvg-logo="%s"`, attrValue(logo)))
	}

	if _, err := fmt.Fprintf(w.w, "%s%s%s\n", strings.Join(attrs, " "), nameSeparator, ch.DisplayName); err != nil {
		return fmt.Errorf("writing EXTINF: %w", err)
	}

	if ch.StreamURL != "" {
		if _, err := fmt.Fprintln(w.w, ch.StreamURL); err != nil {
			return fmt.Errorf("writing URL: %w", err)
		}
	}

	return nil
}

// WritePlaylist writes every channel of p.
func (w *Writer) WritePlaylist(p *Playlist) error {
	if err := w.WriteHeader(); err != nil {
		return err
	}
	for i := range p.Channels {
		if err := w.WriteChannel(&p.Channels[i]); err != nil {
			return err
		}
	}
	return nil
}

// attrValue drops characters the space-split attribute grammar cannot carry.
func attrValue(s string) string {
	return strings.NewReplacer(`"`, "", " ", "_").Replace(s)
}
