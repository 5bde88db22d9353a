package ingestor

import (
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/net/html/charset"

	"github.com/jmylchreest/tvinput/pkg/m3u"
)

// M3UHandler parses extended M3U catalogs.
type M3UHandler struct {
	logoBaseURL string
	logger      *slog.Logger
}

// NewM3UHandler creates an M3U handler. An empty logoBaseURL uses the
// parser's default.
func NewM3UHandler(logoBaseURL string, logger *slog.Logger) *M3UHandler {
	return &M3UHandler{logoBaseURL: logoBaseURL, logger: logger}
}

// Parse reads a catalog. contentType selects the text encoding; feeds
// without one are treated as UTF-8.
func (h *M3UHandler) Parse(r io.Reader, contentType string) (*Listing, error) {
	text, err := charset.NewReader(r, contentType)
	if err != nil {
		return nil, fmt.Errorf("detecting charset: %w", err)
	}

	skipped := 0
	parser := &m3u.Parser{
		LogoBaseURL: h.logoBaseURL,
		OnError: func(lineNum int, err error) {
			skipped++
			h.logger.Debug("skipping playlist line",
				slog.Int("line", lineNum),
				slog.String("error", err.Error()))
		},
	}

	playlist, err := parser.Parse(text)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		h.logger.Warn("playlist had malformed lines", slog.Int("skipped", skipped))
	}

	return &Listing{Channels: playlist.Channels}, nil
}
