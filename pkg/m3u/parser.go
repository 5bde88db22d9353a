// Package m3u parses and writes IPTV channel playlists in the extended M3U
// dialect served by catalog feeds, where the channel number is carried in the
// EXTINF duration slot:
//
//	#EXTINF:0051 tvg-id="blizz.de" group-title="DE" tvg-logo="897815.png", [COLOR orangered]blizz TV HD[/COLOR]
//	http://example.com/live/51.m3u8
package m3u

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmylchreest/tvinput/pkg/compression"
)

// DefaultLogoBaseURL is prepended to tvg-logo values, which feeds carry as
// bare file names.
const DefaultLogoBaseURL = "http://logo.iptv.ink/"

const (
	extinfPrefix  = "#EXTINF:"
	tvgIDPrefix   = `tvg-id=`
	tvgLogoPrefix = `tvg-logo=`
	urlPrefix     = "http"
	nameSeparator = ", "

	// Offsets of the first character inside the quoted attribute values.
	tvgIDValueStart   = len(`tvg-id="`)
	tvgLogoValueStart = len(`tvg-logo="`)
)

// Errors reported to Parser.OnError for skipped lines. None of them stop
// parsing.
var (
	ErrMissingDisplayName = errors.New("channel line has no display name")
	ErrMissingNumber      = errors.New("channel line has no channel number")
	ErrOrphanURL          = errors.New("stream URL before any channel")
)

// colorTagRegex matches [COLOR name] and [/COLOR] markup in display names.
var colorTagRegex = regexp.MustCompile(`\[/?COLOR[^\]]*\]`)

// Channel is a single channel declaration from a playlist.
type Channel struct {
	// Number is the numeric channel tag with leading zeros stripped.
	Number int `json:"number"`

	// DisplayNumber is the textual form of Number as it appeared in the feed,
	// minus leading zeros.
	DisplayNumber string `json:"display_number"`

	// TvgID is the EPG identifier from the tvg-id attribute, if any.
	TvgID string `json:"tvg_id,omitempty"`

	// DisplayName is the channel name with color markup removed.
	DisplayName string `json:"display_name"`

	// LogoURL is the absolute logo URL, empty when the feed has none.
	LogoURL string `json:"logo_url,omitempty"`

	// StreamURL is the stream locator from the line following the
	// declaration. It may carry |Header=Value parameters.
	StreamURL string `json:"stream_url"`
}

// Playlist is the result of parsing a feed.
type Playlist struct {
	Channels []Channel
}

// Parser turns playlist text into channel records. The zero value is ready to
// use and prefixes logos with DefaultLogoBaseURL.
type Parser struct {
	// LogoBaseURL overrides DefaultLogoBaseURL when set.
	LogoBaseURL string

	// OnError is called for every skipped line. If nil, skipped lines are
	// silently ignored.
	OnError func(lineNum int, err error)
}

// Parse is shorthand for (&Parser{}).Parse(r).
func Parse(r io.Reader) (*Playlist, error) {
	return (&Parser{}).Parse(r)
}

// Parse reads the whole playlist from r. Malformed lines are skipped; the
// only error returned comes from reading r.
func (p *Parser) Parse(r io.Reader) (*Playlist, error) {
	scanner := bufio.NewScanner(r)
	// Some providers put very long tokenised URLs on a single line
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	b := p.newBuilder()
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		b.addLine(lineNum, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning playlist: %w", err)
	}

	return b.playlist(), nil
}

// ParseLines parses an in-memory playlist. It never fails.
func (p *Parser) ParseLines(lines []string) *Playlist {
	b := p.newBuilder()
	for i, line := range lines {
		b.addLine(i+1, line)
	}
	return b.playlist()
}

// ParseCompressed parses a playlist that may be gzip, bzip2 or xz
// compressed. Compression is detected from magic bytes.
func (p *Parser) ParseCompressed(r io.Reader) (*Playlist, error) {
	reader, err := compression.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return p.Parse(reader)
}

func (p *Parser) newBuilder() *builder {
	base := p.LogoBaseURL
	if base == "" {
		base = DefaultLogoBaseURL
	}
	return &builder{
		parser:      p,
		logoBaseURL: base,
		byNumber:    make(map[int]int),
		last:        -1,
	}
}

// builder accumulates channels while lines are fed in order.
type builder struct {
	parser      *Parser
	logoBaseURL string
	channels    []Channel
	byNumber    map[int]int
	// last is the index of the most recently appended or replaced channel.
	last int
}

func (b *builder) addLine(lineNum int, line string) {
	switch {
	case strings.HasPrefix(line, extinfPrefix):
		ch, err := b.parseDeclaration(line)
		if err != nil {
			b.report(lineNum, err)
			return
		}
		if idx, seen := b.byNumber[ch.Number]; seen {
			b.channels[idx] = ch
			b.last = idx
			return
		}
		b.byNumber[ch.Number] = len(b.channels)
		b.channels = append(b.channels, ch)
		b.last = len(b.channels) - 1

	case strings.HasPrefix(line, urlPrefix):
		if b.last < 0 {
			b.report(lineNum, ErrOrphanURL)
			return
		}
		b.channels[b.last].StreamURL = strings.TrimRight(line, " \t")
	}
}

func (b *builder) parseDeclaration(line string) (Channel, error) {
	attrs, name, found := strings.Cut(line, nameSeparator)
	if !found {
		return Channel{}, ErrMissingDisplayName
	}

	var ch Channel
	for _, token := range strings.Split(attrs, " ") {
		switch {
		case strings.HasPrefix(token, extinfPrefix):
			ch.DisplayNumber = strings.TrimLeft(token[len(extinfPrefix):], "0")
			// An unparsable or out-of-range tag counts as no number
			if n, err := strconv.Atoi(ch.DisplayNumber); err == nil {
				ch.Number = n
			}
		case strings.HasPrefix(token, tvgIDPrefix):
			ch.TvgID = quotedValue(token, tvgIDValueStart)
		case strings.HasPrefix(token, tvgLogoPrefix):
			if logo := quotedValue(token, tvgLogoValueStart); logo != "" {
				ch.LogoURL = b.logoBaseURL + logo
			}
		}
	}
	ch.DisplayName = colorTagRegex.ReplaceAllString(name, "")

	if ch.Number == 0 {
		return Channel{}, ErrMissingNumber
	}
	return ch, nil
}

func (b *builder) report(lineNum int, err error) {
	if b.parser.OnError != nil {
		b.parser.OnError(lineNum, err)
	}
}

func (b *builder) playlist() *Playlist {
	channels := b.channels
	if channels == nil {
		channels = []Channel{}
	}
	return &Playlist{Channels: channels}
}

// quotedValue returns the text between start and the next double quote, or
// "" when the value is empty or unterminated.
func quotedValue(token string, start int) string {
	if len(token) <= start {
		return ""
	}
	end := strings.IndexByte(token[start:], '"')
	if end <= 0 {
		return ""
	}
	return token[start : start+end]
}
