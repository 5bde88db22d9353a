package models

import (
	"fmt"
	"strings"
	"time"
)

// StreamKind identifies the delivery format of a stream. The numeric values
// are persisted.
type StreamKind int

const (
	StreamKindProgressive StreamKind = iota
	StreamKindHLS
	StreamKindDASH
	StreamKindOther
)

func (k StreamKind) String() string {
	switch k {
	case StreamKindProgressive:
		return "progressive"
	case StreamKindHLS:
		return "hls"
	case StreamKindDASH:
		return "dash"
	default:
		return "other"
	}
}

// ParseStreamKind maps a feed or config value to a StreamKind. It accepts
// the kind names and the video-type values used by XMLTV catalogs.
func ParseStreamKind(s string) (StreamKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "progressive", "mpeg_ts", "mpegts", "ts", "http_progressive", "0":
		return StreamKindProgressive, nil
	case "hls", "http_live_streaming", "1":
		return StreamKindHLS, nil
	case "dash", "mpeg_dash", "2":
		return StreamKindDASH, nil
	case "other", "3":
		return StreamKindOther, nil
	default:
		return StreamKindOther, fmt.Errorf("unknown stream kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k StreamKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StreamKind) UnmarshalText(text []byte) error {
	kind, err := ParseStreamKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// PlaybackInfo describes what to play for a time window.
type PlaybackInfo struct {
	// Start is inclusive.
	Start time.Time `json:"start"`
	// End is exclusive.
	End        time.Time      `json:"end"`
	StreamURL  string         `json:"stream_url"`
	StreamKind StreamKind     `json:"stream_kind"`
	Ratings    ContentRatings `json:"ratings"`
}

// FallbackPlaybackInfo builds the placeholder used when no program covers
// now: the channel's own stream for the next window, unrated.
func FallbackPlaybackInfo(now time.Time, streamURL string, kind StreamKind, window time.Duration) PlaybackInfo {
	return PlaybackInfo{
		Start:      now,
		End:        now.Add(window),
		StreamURL:  streamURL,
		StreamKind: kind,
		Ratings:    ContentRatings{},
	}
}

// CurrentRating returns the first rating, or the empty rating when the
// program is unrated.
func (p *PlaybackInfo) CurrentRating() ContentRating {
	if len(p.Ratings) == 0 {
		return ""
	}
	return p.Ratings[0]
}

// SeekOffset returns how far into the program now is, never negative.
func (p *PlaybackInfo) SeekOffset(now time.Time) time.Duration {
	if offset := now.Sub(p.Start); offset > 0 {
		return offset
	}
	return 0
}

// Validate checks the time window.
func (p *PlaybackInfo) Validate() error {
	if p.End.Before(p.Start) {
		return ErrInvalidTimeRange
	}
	return nil
}
