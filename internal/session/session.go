package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvinput/internal/models"
)

// State is the controller state of a session.
type State int

const (
	// StateIdle means nothing is tuned.
	StateIdle State = iota
	// StateResolving means a lookup for the tuned channel is outstanding.
	StateResolving
	// StatePlaying means an engine is playing allowed content.
	StatePlaying
	// StateBlocked means the engine was released for a blocked rating.
	StateBlocked
	// StateReleased is terminal.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StateBlocked:
		return "blocked"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// resolveWindow is the width of the "now" query made when resolving.
const resolveWindow = time.Millisecond

// Session controls playback of one tuned channel.
//
// Host commands, engine events and resolution results are serialised by mu
// and never block on I/O. Directory lookups run on the shared background
// worker and their results are applied on the foreground scheduler, so a
// slow host never holds up another session's lookup. Every Tune and Release
// bumps gen; a resolution result is applied only while its generation and
// run are still current.
type Session struct {
	id      string
	inputID string

	directory Directory
	engines   EngineFactory
	syncer    SyncRequester
	parental  ParentalControls
	host      Host
	worker    Scheduler
	fg        Scheduler
	clock     Clock
	opts      Options
	onRelease func(*Session)
	logger    *slog.Logger

	// gen is written under mu and read by resolution tasks.
	gen atomic.Uint64
	// syncGen is the generation the last sync request was issued for.
	syncGen atomic.Uint64

	mu              sync.Mutex
	state           State
	channelURI      models.ChannelURI
	info            *models.PlaybackInfo
	rating          models.ContentRating
	lastBlocked     models.ContentRating
	unblocked       map[models.ContentRating]struct{}
	run             uint64
	resolveTask     Task
	timerTask       Task
	engine          Engine
	engineSeq       uint64
	firstFrameDrawn bool
	surface         Surface
	volume          float32
	captionsEnabled bool
	subtitleTrack   string
}

// ID returns the session handle.
func (s *Session) ID() string { return s.id }

// InputID returns the input the session was created for.
func (s *Session) InputID() string { return s.inputID }

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID              string               `json:"id"`
	InputID         string               `json:"input_id"`
	State           string               `json:"state"`
	ChannelURI      models.ChannelURI    `json:"channel_uri,omitempty"`
	PlaybackInfo    *models.PlaybackInfo `json:"playback_info,omitempty"`
	CurrentRating   models.ContentRating `json:"current_rating,omitempty"`
	LastBlocked     models.ContentRating `json:"last_blocked_rating,omitempty"`
	EngineAlive     bool                 `json:"engine_alive"`
	Surface         Surface              `json:"surface,omitempty"`
	Volume          float32              `json:"volume"`
	CaptionsEnabled bool                 `json:"captions_enabled"`
}

// Snapshot returns the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:              s.id,
		InputID:         s.inputID,
		State:           s.state.String(),
		ChannelURI:      s.channelURI,
		CurrentRating:   s.rating,
		LastBlocked:     s.lastBlocked,
		EngineAlive:     s.engine != nil,
		Surface:         s.surface,
		Volume:          s.volume,
		CaptionsEnabled: s.captionsEnabled,
	}
	if s.info != nil {
		info := *s.info
		snap.PlaybackInfo = &info
	}
	return snap
}

// State returns the controller state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tune starts playing uri. It returns false for an empty URI or a released
// session.
func (s *Session) Tune(uri models.ChannelURI) bool {
	if uri == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReleased {
		return false
	}

	s.gen.Add(1)
	s.channelURI = uri
	// The previous channel's program must not be resumed by an unblock
	// while this tuning resolves. Its engine keeps playing until then.
	s.info = nil
	s.rating = ""
	clear(s.unblocked)
	s.state = StateResolving
	s.logger.Info("tuning", slog.String("channel_uri", uri.String()))

	s.host.NotifyVideoUnavailable(ReasonTuning)
	s.scheduleResolutionLocked(0)
	return true
}

// Release tears the session down. It is terminal.
func (s *Session) Release() {
	s.mu.Lock()
	if s.state == StateReleased {
		s.mu.Unlock()
		return
	}
	s.gen.Add(1)
	s.cancelPendingLocked()
	s.releaseEngineLocked()
	s.state = StateReleased
	s.mu.Unlock()

	s.logger.Info("session released")
	if s.onRelease != nil {
		s.onRelease(s)
	}
}

// SetSurface sets the output for this and future engines.
func (s *Session) SetSurface(surface Surface) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.surface = surface
	if s.engine != nil {
		s.engine.SetSurface(surface)
	}
}

// SetVolume sets the volume for this and future engines.
func (s *Session) SetVolume(volume float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.volume = volume
	if s.engine != nil {
		s.engine.SetVolume(volume)
	}
}

// SetCaptionsEnabled turns captions on or off. Turning them on restores
// the last selected subtitle track.
func (s *Session) SetCaptionsEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.captionsEnabled = enabled
	if s.engine == nil {
		return
	}
	if !enabled {
		s.engine.SelectTrack(TrackSubtitle, "")
		return
	}
	if s.subtitleTrack != "" {
		s.engine.SelectTrack(TrackSubtitle, s.subtitleTrack)
	}
}

// SelectTrack selects a track on the live engine. An empty id deselects.
// Subtitle tracks can only be selected while captions are enabled.
func (s *Session) SelectTrack(kind TrackType, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine == nil {
		return false
	}
	if kind == TrackSubtitle {
		if !s.captionsEnabled && id != "" {
			return false
		}
		s.subtitleTrack = id
	}
	if !s.engine.SelectTrack(kind, id) {
		return false
	}
	s.host.NotifyTrackSelected(kind, id)
	return true
}

// UnblockContent lifts a block on rating for the rest of this tuning. It is
// ignored when the session is blocked on a different rating.
func (s *Session) UnblockContent(rating models.ContentRating) {
	if rating.IsZero() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReleased {
		return
	}
	s.unblockLocked(rating)
}

// RecheckBlocking re-evaluates the current rating against the parental
// settings.
func (s *Session) RecheckBlocking() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReleased {
		return
	}
	s.checkContentBlockLocked()
}

func (s *Session) cancelPendingLocked() {
	if s.resolveTask != nil {
		s.resolveTask.Cancel()
		s.resolveTask = nil
	}
	if s.timerTask != nil {
		s.timerTask.Cancel()
		s.timerTask = nil
	}
}

// scheduleResolutionLocked replaces any outstanding resolution with a new
// one. A zero delay resolves as soon as the worker is free; otherwise the
// resolution is the end-of-program timer.
func (s *Session) scheduleResolutionLocked(delay time.Duration) {
	s.cancelPendingLocked()
	s.run++

	gen, run, uri := s.gen.Load(), s.run, s.channelURI
	task := func(ctx context.Context) {
		s.resolve(ctx, gen, run, uri)
	}
	if delay <= 0 {
		s.resolveTask = s.worker.Post(task)
		return
	}
	s.timerTask = s.worker.PostDelayed(delay, task)
}

// resolve runs on the background worker.
func (s *Session) resolve(ctx context.Context, gen, run uint64, uri models.ChannelURI) {
	if s.gen.Load() != gen {
		return
	}

	now := s.clock.Now()
	infos, err := s.directory.GetProgramPlaybackInfo(ctx, uri, now, now.Add(resolveWindow), 1)
	if err != nil {
		s.logger.Warn("program lookup failed",
			slog.String("channel_uri", uri.String()),
			slog.Any("error", err))
	}

	var info models.PlaybackInfo
	if len(infos) > 0 {
		info = infos[0]
	} else {
		s.logger.Warn("no program info, playing channel stream",
			slog.String("channel_uri", uri.String()))
		if s.claimSync(gen) {
			s.syncer.RequestSync(s.inputID, true)
		}
		info = models.FallbackPlaybackInfo(now, s.channelStream(ctx, uri), s.opts.DefaultStreamKind, s.opts.FallbackWindow)
	}

	s.deliver(gen, run, info)
}

func (s *Session) channelStream(ctx context.Context, uri models.ChannelURI) string {
	channel, err := s.directory.GetChannel(ctx, uri)
	if err != nil {
		s.logger.Warn("channel lookup failed",
			slog.String("channel_uri", uri.String()),
			slog.Any("error", err))
		return ""
	}
	if channel == nil {
		return ""
	}
	return channel.StreamURL
}

// claimSync reports whether the caller should request a sync for gen. It
// returns true at most once per tuning, and never for a superseded one.
func (s *Session) claimSync(gen uint64) bool {
	for {
		if s.gen.Load() != gen {
			return false
		}
		last := s.syncGen.Load()
		if last >= gen {
			return false
		}
		if s.syncGen.CompareAndSwap(last, gen) {
			return true
		}
	}
}

// deliver hands a resolution result to the controller. Without a
// foreground scheduler the result is applied on the calling goroutine.
func (s *Session) deliver(gen, run uint64, info models.PlaybackInfo) {
	if s.fg == nil {
		s.apply(gen, run, info)
		return
	}
	s.fg.Post(func(context.Context) {
		s.apply(gen, run, info)
	})
}

func (s *Session) apply(gen, run uint64, info models.PlaybackInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateReleased || s.gen.Load() != gen || s.run != run {
		s.logger.Debug("discarding superseded resolution", slog.Uint64("generation", gen))
		return
	}
	s.resolveTask = nil
	s.timerTask = nil
	s.prepareLocked(info)
}

func (s *Session) prepareLocked(info models.PlaybackInfo) {
	s.releaseEngineLocked()

	s.info = &info
	s.rating = info.CurrentRating()

	now := s.clock.Now()
	s.engineSeq++
	engine := s.engines.NewEngine(&engineListener{session: s, seq: s.engineSeq})
	engine.Prepare(info.StreamURL, info.StreamKind)
	engine.SetSurface(s.surface)
	engine.SetVolume(s.volume)
	if offset := info.SeekOffset(now); offset > 0 {
		engine.SeekTo(offset)
	}
	engine.SetPlayWhenReady(true)
	s.engine = engine
	s.state = StatePlaying

	s.logger.Debug("prepared engine",
		slog.String("stream_kind", info.StreamKind.String()),
		slog.Time("end", info.End),
		slog.String("rating", string(s.rating)))

	s.checkContentBlockLocked()
	s.scheduleResolutionLocked(info.End.Sub(now) + s.opts.BoundaryGrace)
}

func (s *Session) releaseEngineLocked() {
	if s.engine == nil {
		return
	}
	s.engine.SetSurface(NoSurface)
	s.engine.Release()
	s.engine = nil
}

func (s *Session) contentAllowedLocked() bool {
	if s.rating.IsZero() || !s.parental.IsParentalControlsEnabled() {
		return true
	}
	if !s.parental.IsRatingBlocked(s.rating) {
		return true
	}
	_, unblocked := s.unblocked[s.rating]
	return unblocked
}

func (s *Session) checkContentBlockLocked() {
	if s.contentAllowedLocked() {
		s.unblockLocked("")
		return
	}

	s.lastBlocked = s.rating
	s.releaseEngineLocked()
	if s.state != StateResolving {
		s.state = StateBlocked
	}
	s.logger.Info("content blocked", slog.String("rating", string(s.rating)))
	s.host.NotifyContentBlocked(s.rating)
}

// unblockLocked clears a block. An empty rating is the controller's own
// request after a check found the content allowed.
func (s *Session) unblockLocked(rating models.ContentRating) {
	if !rating.IsZero() && !s.lastBlocked.IsZero() && rating != s.lastBlocked {
		s.logger.Debug("ignoring unblock for a different rating",
			slog.String("rating", string(rating)),
			slog.String("blocked", string(s.lastBlocked)))
		return
	}

	s.lastBlocked = ""
	if !rating.IsZero() {
		s.unblocked[rating] = struct{}{}
	}
	if s.engine == nil && s.info != nil {
		s.prepareLocked(*s.info)
	}
	s.host.NotifyContentAllowed()
}

// engineListener routes events of one engine back to its session. Events
// from an engine that has since been released are dropped.
type engineListener struct {
	session *Session
	seq     uint64
}

func (l *engineListener) current() (*Session, bool) {
	s := l.session
	s.mu.Lock()
	if s.engine == nil || s.engineSeq != l.seq {
		s.mu.Unlock()
		return nil, false
	}
	return s, true
}

func (l *engineListener) OnPrepared() {
	s, ok := l.current()
	if !ok {
		return
	}
	defer s.mu.Unlock()

	s.firstFrameDrawn = false
	var tracks []Track
	for _, kind := range TrackTypes {
		tracks = append(tracks, s.engine.Tracks(kind)...)
	}
	s.host.NotifyTracksChanged(tracks)
	for _, kind := range TrackTypes {
		s.host.NotifyTrackSelected(kind, s.engine.SelectedTrack(kind))
	}
}

func (l *engineListener) OnStateChanged(playWhenReady bool, state PlaybackState) {
	s, ok := l.current()
	if !ok {
		return
	}
	defer s.mu.Unlock()

	if !playWhenReady {
		return
	}
	switch state {
	case PlaybackBuffering:
		if s.firstFrameDrawn {
			s.host.NotifyVideoUnavailable(ReasonBuffering)
		}
	case PlaybackReady:
		s.host.NotifyVideoAvailable()
	}
}

func (l *engineListener) OnError(err error) {
	s, ok := l.current()
	if !ok {
		return
	}
	defer s.mu.Unlock()

	s.logger.Warn("playback error", slog.Any("error", err))
	s.host.NotifyError(err)
}

func (l *engineListener) OnFirstFrameDrawn() {
	s, ok := l.current()
	if !ok {
		return
	}
	defer s.mu.Unlock()

	s.firstFrameDrawn = true
	s.host.NotifyVideoAvailable()
}

func (l *engineListener) OnCues(cues []Cue) {
	s, ok := l.current()
	if !ok {
		return
	}
	defer s.mu.Unlock()

	if s.captionsEnabled {
		s.host.NotifyCues(cues)
	}
}
