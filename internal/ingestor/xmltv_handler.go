package ingestor

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jmylchreest/tvinput/pkg/m3u"
	"github.com/jmylchreest/tvinput/pkg/xmltv"
)

// XMLTVHandler parses XMLTV documents into a listing. Channels without a
// positive display number are kept for their programmes but get no entry in
// Channels.
type XMLTVHandler struct {
	logger *slog.Logger
}

// NewXMLTVHandler creates an XMLTV handler.
func NewXMLTVHandler(logger *slog.Logger) *XMLTVHandler {
	return &XMLTVHandler{logger: logger}
}

// Parse reads an XMLTV document. The document's own encoding declaration
// picks the charset.
func (h *XMLTVHandler) Parse(r io.Reader) (*Listing, error) {
	listing := &Listing{Programmes: make(map[string][]*xmltv.Programme)}
	byNumber := make(map[int]int)
	invalid := 0

	parser := &xmltv.Parser{
		OnChannel: func(c *xmltv.Channel) error {
			ch, ok := channelFromXMLTV(c)
			if !ok {
				return nil
			}
			if idx, seen := byNumber[ch.Number]; seen {
				listing.Channels[idx] = ch
				return nil
			}
			byNumber[ch.Number] = len(listing.Channels)
			listing.Channels = append(listing.Channels, ch)
			return nil
		},
		OnProgramme: func(p *xmltv.Programme) error {
			if p.Channel == "" {
				return nil
			}
			listing.Programmes[p.Channel] = append(listing.Programmes[p.Channel], p)
			return nil
		},
		OnError: func(err error) {
			invalid++
			h.logger.Debug("skipping programme", slog.String("error", err.Error()))
		},
	}

	if err := parser.Parse(r); err != nil {
		return nil, fmt.Errorf("parsing xmltv: %w", err)
	}
	if invalid > 0 {
		h.logger.Warn("guide had invalid programmes", slog.Int("skipped", invalid))
	}

	return listing, nil
}

func channelFromXMLTV(c *xmltv.Channel) (m3u.Channel, bool) {
	display := strings.TrimLeft(strings.TrimSpace(c.DisplayNumber), "0")
	number, err := strconv.Atoi(display)
	if err != nil || number <= 0 {
		return m3u.Channel{}, false
	}
	return m3u.Channel{
		Number:        number,
		DisplayNumber: display,
		TvgID:         c.ID,
		DisplayName:   c.DisplayName,
		LogoURL:       c.Icon,
		StreamURL:     c.URL,
	}, true
}
