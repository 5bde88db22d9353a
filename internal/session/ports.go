// Package session implements the controller behind a tuned channel: it
// resolves what should be playing, drives a playback engine, re-resolves at
// program boundaries and keeps rating-blocked content off the screen.
package session

import (
	"context"
	"time"

	"github.com/jmylchreest/tvinput/internal/models"
)

// Directory is the channel and program lookup a session resolves against.
type Directory interface {
	// GetChannel returns the channel behind uri, or nil when it is unknown.
	GetChannel(ctx context.Context, uri models.ChannelURI) (*models.Channel, error)
	// GetProgramPlaybackInfo returns up to limit programs of the channel
	// overlapping [start, end) in start order.
	GetProgramPlaybackInfo(ctx context.Context, uri models.ChannelURI, start, end time.Time, limit int) ([]models.PlaybackInfo, error)
}

// SyncRequester asks the directory to refresh an input.
type SyncRequester interface {
	RequestSync(inputID string, currentProgramOnly bool)
}

// ParentalControls reports the platform's parental control settings.
type ParentalControls interface {
	IsParentalControlsEnabled() bool
	IsRatingBlocked(rating models.ContentRating) bool
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Surface names the output an engine renders to. The zero value detaches
// the engine from any output.
type Surface string

// NoSurface detaches an engine from its output.
const NoSurface Surface = ""

// TrackType classifies engine tracks.
type TrackType int

const (
	TrackAudio TrackType = iota
	TrackVideo
	TrackSubtitle
)

// TrackTypes lists every track type in notification order.
var TrackTypes = []TrackType{TrackAudio, TrackVideo, TrackSubtitle}

func (t TrackType) String() string {
	switch t {
	case TrackAudio:
		return "audio"
	case TrackVideo:
		return "video"
	case TrackSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Track is a selectable elementary stream.
type Track struct {
	ID       string    `json:"id"`
	Type     TrackType `json:"type"`
	Language string    `json:"language,omitempty"`
	Codec    string    `json:"codec,omitempty"`
}

// Cue is a caption cue delivered by an engine.
type Cue struct {
	Text  string        `json:"text"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// PlaybackState is the engine's buffering state.
type PlaybackState int

const (
	PlaybackIdle PlaybackState = iota
	PlaybackPreparing
	PlaybackBuffering
	PlaybackReady
	PlaybackEnded
)

func (s PlaybackState) String() string {
	switch s {
	case PlaybackIdle:
		return "idle"
	case PlaybackPreparing:
		return "preparing"
	case PlaybackBuffering:
		return "buffering"
	case PlaybackReady:
		return "ready"
	case PlaybackEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Engine plays one stream. Engines deliver events to their listener from
// their own goroutines and must not call the listener from inside an Engine
// method. Release must not wait for listener calls in flight.
type Engine interface {
	Prepare(locator string, kind models.StreamKind)
	SeekTo(offset time.Duration)
	SetSurface(surface Surface)
	SetVolume(volume float32)
	SetPlayWhenReady(play bool)
	Tracks(kind TrackType) []Track
	// SelectTrack selects a track by ID; an empty ID deselects the type.
	SelectTrack(kind TrackType, id string) bool
	SelectedTrack(kind TrackType) string
	Release()
}

// EngineListener receives engine events.
type EngineListener interface {
	OnPrepared()
	OnStateChanged(playWhenReady bool, state PlaybackState)
	OnError(err error)
	OnFirstFrameDrawn()
	OnCues(cues []Cue)
}

// EngineFactory creates engines.
type EngineFactory interface {
	NewEngine(listener EngineListener) Engine
}

// VideoUnavailableReason explains why no video is shown.
type VideoUnavailableReason int

const (
	ReasonUnknown VideoUnavailableReason = iota
	ReasonTuning
	ReasonWeakSignal
	ReasonBuffering
)

func (r VideoUnavailableReason) String() string {
	switch r {
	case ReasonTuning:
		return "tuning"
	case ReasonWeakSignal:
		return "weak_signal"
	case ReasonBuffering:
		return "buffering"
	default:
		return "unknown"
	}
}

// Host receives a session's notifications. Calls are made while the
// session is locked, so implementations must not call back into it.
type Host interface {
	NotifyVideoAvailable()
	NotifyVideoUnavailable(reason VideoUnavailableReason)
	NotifyContentAllowed()
	NotifyContentBlocked(rating models.ContentRating)
	NotifyTracksChanged(tracks []Track)
	NotifyTrackSelected(kind TrackType, id string)
	NotifyCues(cues []Cue)
	NotifyError(err error)
}
