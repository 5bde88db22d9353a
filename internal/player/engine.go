// Package player provides the playback engines sessions drive. HLS streams
// play through a gohlslib client and progressive MPEG-TS streams through
// the mediacommon demuxer. Decoded access units are not rendered; the
// engines track stream state and report it to their listener.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/session"
	"github.com/jmylchreest/tvinput/internal/urlutil"
)

// Errors reported through EngineListener.OnError.
var (
	ErrUnsupportedKind = errors.New("unsupported stream kind")
	ErrNoTracks        = errors.New("stream has no playable tracks")
)

// source demuxes one stream, reporting to sink until ctx is done or the
// stream ends.
type source interface {
	run(ctx context.Context, sink *Engine) error
}

// errEndOfStream is returned by sources whose stream finished normally.
var errEndOfStream = errors.New("end of stream")

// Engine implements session.Engine.
type Engine struct {
	listener session.EngineListener
	client   *httpclient.Client
	group    *sync.WaitGroup
	logger   *slog.Logger

	mu            sync.Mutex
	locator       string
	kind          models.StreamKind
	prepared      bool
	released      bool
	cancel        context.CancelFunc
	surface       session.Surface
	volume        float32
	playWhenReady bool
	seek          time.Duration
	state         session.PlaybackState
	tracks        []session.Track
	selected      map[session.TrackType]string
	firstFrame    bool
}

var _ session.Engine = (*Engine)(nil)

func newEngine(listener session.EngineListener, client *httpclient.Client, group *sync.WaitGroup, logger *slog.Logger) *Engine {
	return &Engine{
		listener: listener,
		client:   client,
		group:    group,
		logger:   logger,
		volume:   1,
		selected: make(map[session.TrackType]string),
	}
}

// Prepare starts loading locator. Only the first call has an effect.
func (e *Engine) Prepare(locator string, kind models.StreamKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released || e.prepared {
		return
	}
	e.prepared = true
	e.locator = locator
	e.kind = kind
	e.state = session.PlaybackPreparing

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	var src source
	switch kind {
	case models.StreamKindHLS:
		src = &hlsSource{locator: urlutil.ParseLocator(locator), client: e.client}
	case models.StreamKindProgressive:
		src = &tsSource{locator: locator, client: e.client}
	}

	e.logger.Debug("preparing stream",
		slog.String("url", urlutil.Redact(locator)),
		slog.String("kind", kind.String()))

	e.group.Add(1)
	go e.run(ctx, src)
}

func (e *Engine) run(ctx context.Context, src source) {
	defer e.group.Done()

	if src == nil {
		e.fail(fmt.Errorf("%w: %s", ErrUnsupportedKind, e.kind))
		return
	}

	e.setState(session.PlaybackBuffering)
	err := src.run(ctx, e)
	switch {
	case ctx.Err() != nil:
	case err == nil, errors.Is(err, errEndOfStream):
		e.setState(session.PlaybackEnded)
	default:
		e.fail(err)
	}
}

// SeekTo records the start offset. Live sources begin at the live edge, so
// the offset is informational.
func (e *Engine) SeekTo(offset time.Duration) {
	e.mu.Lock()
	e.seek = offset
	e.mu.Unlock()
}

// SetSurface attaches the engine to an output.
func (e *Engine) SetSurface(surface session.Surface) {
	e.mu.Lock()
	e.surface = surface
	e.mu.Unlock()
}

// SetVolume sets the output volume in [0, 1].
func (e *Engine) SetVolume(volume float32) {
	e.mu.Lock()
	e.volume = max(0, min(1, volume))
	e.mu.Unlock()
}

// SetPlayWhenReady sets whether playback starts once buffered.
func (e *Engine) SetPlayWhenReady(play bool) {
	e.mu.Lock()
	e.playWhenReady = play
	e.mu.Unlock()
}

// Tracks returns the discovered tracks of a type.
func (e *Engine) Tracks(kind session.TrackType) []session.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	var tracks []session.Track
	for _, t := range e.tracks {
		if t.Type == kind {
			tracks = append(tracks, t)
		}
	}
	return tracks
}

// SelectTrack selects a discovered track. An empty id deselects the type.
func (e *Engine) SelectTrack(kind session.TrackType, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id == "" {
		delete(e.selected, kind)
		return true
	}
	for _, t := range e.tracks {
		if t.Type == kind && t.ID == id {
			e.selected[kind] = id
			return true
		}
	}
	return false
}

// SelectedTrack returns the selected track ID of a type.
func (e *Engine) SelectedTrack(kind session.TrackType) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected[kind]
}

// Release stops the stream. It returns without waiting for the source to
// shut down; no events are delivered afterwards.
func (e *Engine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return
	}
	e.released = true
	e.surface = session.NoSurface
	if e.cancel != nil {
		e.cancel()
	}
}

// Snapshot is the observable state of an engine.
type Snapshot struct {
	Locator       string                `json:"locator"`
	Kind          models.StreamKind     `json:"kind"`
	State         session.PlaybackState `json:"state"`
	Surface       session.Surface       `json:"surface"`
	Volume        float32               `json:"volume"`
	PlayWhenReady bool                  `json:"play_when_ready"`
	Seek          time.Duration         `json:"seek"`
	Released      bool                  `json:"released"`
}

// Snapshot returns the engine's current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Locator:       e.locator,
		Kind:          e.kind,
		State:         e.state,
		Surface:       e.surface,
		Volume:        e.volume,
		PlayWhenReady: e.playWhenReady,
		Seek:          e.seek,
		Released:      e.released,
	}
}

// emit calls fn with the listener unless the engine has been released.
// The engine lock is not held during the call.
func (e *Engine) emit(fn func(l session.EngineListener)) {
	e.mu.Lock()
	released := e.released
	e.mu.Unlock()
	if released {
		return
	}
	fn(e.listener)
}

func (e *Engine) setState(state session.PlaybackState) {
	e.mu.Lock()
	if e.state == state || e.released {
		e.mu.Unlock()
		return
	}
	e.state = state
	play := e.playWhenReady
	e.mu.Unlock()

	e.emit(func(l session.EngineListener) { l.OnStateChanged(play, state) })
}

func (e *Engine) fail(err error) {
	e.logger.Warn("playback failed",
		slog.String("url", urlutil.Redact(e.locator)),
		slog.String("error", err.Error()))
	e.emit(func(l session.EngineListener) { l.OnError(err) })
}

// setTracks installs the stream's tracks, selects the first of each type
// and reports the engine prepared.
func (e *Engine) setTracks(tracks []session.Track) error {
	if len(tracks) == 0 {
		return ErrNoTracks
	}
	e.mu.Lock()
	e.tracks = tracks
	for _, t := range tracks {
		if _, ok := e.selected[t.Type]; !ok && t.Type != session.TrackSubtitle {
			e.selected[t.Type] = t.ID
		}
	}
	e.mu.Unlock()

	e.emit(func(l session.EngineListener) { l.OnPrepared() })
	return nil
}

// onVideo handles a video access unit.
func (e *Engine) onVideo(randomAccess bool) {
	e.setState(session.PlaybackReady)
	if !randomAccess {
		return
	}
	e.mu.Lock()
	first := !e.firstFrame && !e.released
	e.firstFrame = true
	e.mu.Unlock()
	if first {
		e.emit(func(l session.EngineListener) { l.OnFirstFrameDrawn() })
	}
}

// onAudio handles audio data.
func (e *Engine) onAudio() {
	e.setState(session.PlaybackReady)
}

func trackID(kind session.TrackType, index int) string {
	return fmt.Sprintf("%s%d", kind, index)
}
