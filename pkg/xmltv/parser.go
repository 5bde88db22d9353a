// Package xmltv provides streaming XMLTV parsing for program guide feeds.
//
// Besides the standard elements it understands the video-src and video-type
// programme attributes used by TV input catalogs to carry per-programme
// stream locators.
package xmltv

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/jmylchreest/tvinput/pkg/compression"
)

// Programme represents a single program entry in an XMLTV file.
type Programme struct {
	Start       time.Time
	Stop        time.Time
	Channel     string
	Title       string
	Description string
	Category    string
	Icon        string
	Ratings     []Rating
	// VideoSrc is the stream locator for this programme, if the feed
	// provides one.
	VideoSrc string
	// VideoType names the stream kind (for example "HLS" or "MPEG_TS").
	VideoType string
}

// Rating is a content rating element: <rating system="US_TV"><value>US_TV_PG</value></rating>.
type Rating struct {
	System string
	Value  string
}

// Channel represents a channel definition in an XMLTV file.
type Channel struct {
	ID            string
	DisplayName   string
	DisplayNumber string
	Icon          string
	URL           string
}

// Parser streams an XMLTV document, decoding one element at a time and
// handing each to a callback. A callback error stops the parse.
type Parser struct {
	// OnChannel is called for each channel definition.
	OnChannel func(channel *Channel) error

	// OnProgramme is called for each parsed programme.
	OnProgramme func(programme *Programme) error

	// OnError receives elements that were skipped as malformed.
	OnError func(err error)
}

// ErrInvalidTime is returned for unparsable start/stop attributes.
var ErrInvalidTime = errors.New("invalid XMLTV time")

// timeLayouts are tried in order. Times without an offset are UTC.
var timeLayouts = []string{
	"20060102150405 -0700",
	"20060102150405",
	"200601021504",
}

// ParseTime parses an XMLTV timestamp such as "20240101120000 +0000".
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, s)
}

// Parse parses an XMLTV document from a reader.
func (p *Parser) Parse(r io.Reader) error {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity
	// Feeds declaring ISO-8859-x or windows-125x encodings are common.
	decoder.CharsetReader = charset.NewReaderLabel

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading XML token: %w", err)
		}

		elem, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch elem.Name.Local {
		case "channel":
			if p.OnChannel == nil {
				_ = decoder.Skip()
				continue
			}
			channel, err := p.parseChannel(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if err := p.OnChannel(channel); err != nil {
				return fmt.Errorf("channel callback: %w", err)
			}

		case "programme":
			if p.OnProgramme == nil {
				_ = decoder.Skip()
				continue
			}
			programme, err := p.parseProgramme(decoder, elem)
			if err != nil {
				p.handleError(err)
				continue
			}
			if err := p.OnProgramme(programme); err != nil {
				return fmt.Errorf("programme callback: %w", err)
			}
		}
	}

	return nil
}

// ParseCompressed parses a document that may be gzip, bzip2 or xz
// compressed, detected from its leading bytes.
func (p *Parser) ParseCompressed(r io.Reader) error {
	reader, err := compression.NewReader(r)
	if err != nil {
		return err
	}
	defer reader.Close()
	return p.Parse(reader)
}

type xmlIcon struct {
	Src string `xml:"src,attr"`
}

type xmlChannel struct {
	ID             string    `xml:"id,attr"`
	DisplayNames   []string  `xml:"display-name"`
	DisplayNumbers []string  `xml:"display-number"`
	Icons          []xmlIcon `xml:"icon"`
	URLs           []string  `xml:"url"`
}

type xmlRating struct {
	System string   `xml:"system,attr"`
	Values []string `xml:"value"`
}

type xmlProgramme struct {
	Start      string      `xml:"start,attr"`
	Stop       string      `xml:"stop,attr"`
	Channel    string      `xml:"channel,attr"`
	VideoSrc   string      `xml:"video-src,attr"`
	VideoType  string      `xml:"video-type,attr"`
	Titles     []string    `xml:"title"`
	Desc       []string    `xml:"desc"`
	Categories []string    `xml:"category"`
	Icons      []xmlIcon   `xml:"icon"`
	Ratings    []xmlRating `xml:"rating"`
}

func (p *Parser) parseChannel(decoder *xml.Decoder, start xml.StartElement) (*Channel, error) {
	var raw xmlChannel
	if err := decoder.DecodeElement(&raw, &start); err != nil {
		return nil, fmt.Errorf("decoding channel: %w", err)
	}
	return &Channel{
		ID:            strings.TrimSpace(raw.ID),
		DisplayName:   first(raw.DisplayNames),
		DisplayNumber: first(raw.DisplayNumbers),
		Icon:          firstIcon(raw.Icons),
		URL:           first(raw.URLs),
	}, nil
}

// parseProgramme decodes one programme. An unreadable start time drops the
// programme; an unreadable stop time leaves Stop zero.
func (p *Parser) parseProgramme(decoder *xml.Decoder, start xml.StartElement) (*Programme, error) {
	var raw xmlProgramme
	if err := decoder.DecodeElement(&raw, &start); err != nil {
		return nil, fmt.Errorf("decoding programme: %w", err)
	}

	begin, err := ParseTime(raw.Start)
	if err != nil {
		return nil, fmt.Errorf("programme start: %w", err)
	}
	end, _ := ParseTime(raw.Stop)

	prog := &Programme{
		Start:       begin,
		Stop:        end,
		Channel:     raw.Channel,
		Title:       first(raw.Titles),
		Description: first(raw.Desc),
		Category:    first(raw.Categories),
		Icon:        firstIcon(raw.Icons),
		VideoSrc:    strings.TrimSpace(raw.VideoSrc),
		VideoType:   strings.TrimSpace(raw.VideoType),
	}
	for _, r := range raw.Ratings {
		if value := first(r.Values); value != "" {
			prog.Ratings = append(prog.Ratings, Rating{System: r.System, Value: value})
		}
	}
	return prog, nil
}

// first returns the first non-blank value, trimmed.
func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstIcon(icons []xmlIcon) string {
	for _, icon := range icons {
		if icon.Src != "" {
			return icon.Src
		}
	}
	return ""
}

// handleError calls the OnError callback if set.
func (p *Parser) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
	}
}
