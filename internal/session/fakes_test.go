package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/tvinput/internal/models"
)

var testEpoch = time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeScheduler runs tasks only when the test asks it to.
type fakeScheduler struct {
	mu    sync.Mutex
	clock *fakeClock
	tasks []*fakeTask
	seq   int
}

type fakeTask struct {
	due       time.Time
	seq       int
	delayed   bool
	fn        func(ctx context.Context)
	cancelled atomic.Bool
}

func (t *fakeTask) Cancel() { t.cancelled.Store(true) }

func newFakeScheduler(clock *fakeClock) *fakeScheduler {
	return &fakeScheduler{clock: clock}
}

func (f *fakeScheduler) Post(fn func(ctx context.Context)) Task {
	return f.PostDelayed(0, fn)
}

func (f *fakeScheduler) PostDelayed(delay time.Duration, fn func(ctx context.Context)) Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTask{due: f.clock.Now().Add(delay), seq: f.seq, delayed: delay > 0, fn: fn}
	f.tasks = append(f.tasks, t)
	return t
}

// live returns the number of pending immediate and delayed tasks.
func (f *fakeScheduler) live() (immediate, delayed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.cancelled.Load() {
			continue
		}
		if t.delayed {
			delayed++
		} else {
			immediate++
		}
	}
	return immediate, delayed
}

// nextDelayed returns the due time of the earliest pending delayed task.
func (f *fakeScheduler) nextDelayed() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due time.Time
	found := false
	for _, t := range f.tasks {
		if t.cancelled.Load() || !t.delayed {
			continue
		}
		if !found || t.due.Before(due) {
			due, found = t.due, true
		}
	}
	return due, found
}

func (f *fakeScheduler) pop() *fakeTask {
	f.mu.Lock()
	defer f.mu.Unlock()

	live := f.tasks[:0]
	for _, t := range f.tasks {
		if !t.cancelled.Load() {
			live = append(live, t)
		}
	}
	f.tasks = live
	sort.SliceStable(f.tasks, func(i, j int) bool {
		if !f.tasks[i].due.Equal(f.tasks[j].due) {
			return f.tasks[i].due.Before(f.tasks[j].due)
		}
		return f.tasks[i].seq < f.tasks[j].seq
	})

	now := f.clock.Now()
	if len(f.tasks) == 0 || f.tasks[0].due.After(now) {
		return nil
	}
	t := f.tasks[0]
	f.tasks = f.tasks[1:]
	return t
}

// runDue runs every task that is due, including ones posted meanwhile.
func (f *fakeScheduler) runDue() int {
	ran := 0
	for t := f.pop(); t != nil; t = f.pop() {
		t.fn(context.Background())
		ran++
	}
	return ran
}

// advance moves the clock and runs what became due.
func (f *fakeScheduler) advance(d time.Duration) int {
	f.clock.Advance(d)
	return f.runDue()
}

type fakeDirectory struct {
	mu       sync.Mutex
	channels map[models.ChannelURI]*models.Channel
	programs map[models.ChannelURI][]models.PlaybackInfo
	err      error
	queries  []models.ChannelURI
	onQuery  func(uri models.ChannelURI)
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		channels: make(map[models.ChannelURI]*models.Channel),
		programs: make(map[models.ChannelURI][]models.PlaybackInfo),
	}
}

func (d *fakeDirectory) addChannel(id int64, streamURL string) models.ChannelURI {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch := &models.Channel{ID: id, InputID: testInputID, OriginalNetworkID: int(id), DisplayName: fmt.Sprintf("ch%d", id), StreamURL: streamURL}
	d.channels[ch.URI()] = ch
	return ch.URI()
}

func (d *fakeDirectory) addProgram(uri models.ChannelURI, info models.PlaybackInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.programs[uri] = append(d.programs[uri], info)
}

func (d *fakeDirectory) GetChannel(_ context.Context, uri models.ChannelURI) (*models.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.channels[uri], nil
}

func (d *fakeDirectory) GetProgramPlaybackInfo(_ context.Context, uri models.ChannelURI, start, end time.Time, limit int) ([]models.PlaybackInfo, error) {
	d.mu.Lock()
	d.queries = append(d.queries, uri)
	hook := d.onQuery
	err := d.err
	var infos []models.PlaybackInfo
	for _, info := range d.programs[uri] {
		if info.Start.Before(end) && info.End.After(start) {
			infos = append(infos, info)
		}
	}
	d.mu.Unlock()

	if hook != nil {
		hook(uri)
	}
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos, nil
}

func (d *fakeDirectory) queried() []models.ChannelURI {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.ChannelURI(nil), d.queries...)
}

type syncRequest struct {
	inputID     string
	currentOnly bool
}

type fakeSync struct {
	mu       sync.Mutex
	requests []syncRequest
}

func (f *fakeSync) RequestSync(inputID string, currentProgramOnly bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, syncRequest{inputID: inputID, currentOnly: currentProgramOnly})
}

func (f *fakeSync) all() []syncRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncRequest(nil), f.requests...)
}

type fakeParental struct {
	mu      sync.Mutex
	enabled bool
	blocked map[models.ContentRating]bool
}

func newFakeParental(enabled bool, blocked ...models.ContentRating) *fakeParental {
	p := &fakeParental{enabled: enabled, blocked: make(map[models.ContentRating]bool)}
	for _, r := range blocked {
		p.blocked[r] = true
	}
	return p
}

func (p *fakeParental) IsParentalControlsEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *fakeParental) IsRatingBlocked(rating models.ContentRating) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked[rating]
}

func (p *fakeParental) setEnabled(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

type fakeEngine struct {
	mu            sync.Mutex
	listener      EngineListener
	locator       string
	kind          models.StreamKind
	seek          time.Duration
	seeked        bool
	surface       Surface
	volume        float32
	playWhenReady bool
	released      bool
	tracks        map[TrackType][]Track
	selected      map[TrackType]string
	rejectSelect  bool
}

func (e *fakeEngine) Prepare(locator string, kind models.StreamKind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.locator, e.kind = locator, kind
}

func (e *fakeEngine) SeekTo(offset time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seek, e.seeked = offset, true
}

func (e *fakeEngine) SetSurface(surface Surface) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.surface = surface
}

func (e *fakeEngine) SetVolume(volume float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = volume
}

func (e *fakeEngine) SetPlayWhenReady(play bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playWhenReady = play
}

func (e *fakeEngine) Tracks(kind TrackType) []Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracks[kind]
}

func (e *fakeEngine) SelectTrack(kind TrackType, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rejectSelect {
		return false
	}
	e.selected[kind] = id
	return true
}

func (e *fakeEngine) SelectedTrack(kind TrackType) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.selected[kind]
}

func (e *fakeEngine) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.released = true
}

func (e *fakeEngine) isReleased() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

type fakeEngineFactory struct {
	mu      sync.Mutex
	engines []*fakeEngine
}

func (f *fakeEngineFactory) NewEngine(listener EngineListener) Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := &fakeEngine{
		listener: listener,
		tracks: map[TrackType][]Track{
			TrackAudio:    {{ID: "a1", Type: TrackAudio, Language: "de"}},
			TrackVideo:    {{ID: "v1", Type: TrackVideo}},
			TrackSubtitle: {{ID: "s1", Type: TrackSubtitle, Language: "en"}},
		},
		selected: map[TrackType]string{TrackAudio: "a1", TrackVideo: "v1"},
	}
	f.engines = append(f.engines, e)
	return e
}

func (f *fakeEngineFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.engines)
}

func (f *fakeEngineFactory) last() *fakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.engines) == 0 {
		return nil
	}
	return f.engines[len(f.engines)-1]
}

func (f *fakeEngineFactory) alive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.engines {
		if !e.isReleased() {
			n++
		}
	}
	return n
}

// recordingHost records notifications as short strings.
type recordingHost struct {
	mu      sync.Mutex
	events  []string
	onEvent func(event string)
}

func newRecordingHost() *recordingHost {
	return &recordingHost{}
}

func (h *recordingHost) record(event string) {
	h.mu.Lock()
	h.events = append(h.events, event)
	hook := h.onEvent
	h.mu.Unlock()
	if hook != nil {
		hook(event)
	}
}

func (h *recordingHost) NotifyVideoAvailable() { h.record("available") }

func (h *recordingHost) NotifyVideoUnavailable(reason VideoUnavailableReason) {
	h.record("unavailable:" + reason.String())
}

func (h *recordingHost) NotifyContentAllowed() { h.record("allowed") }

func (h *recordingHost) NotifyContentBlocked(rating models.ContentRating) {
	h.record("blocked:" + string(rating))
}

func (h *recordingHost) NotifyTracksChanged(tracks []Track) {
	h.record(fmt.Sprintf("tracks:%d", len(tracks)))
}

func (h *recordingHost) NotifyTrackSelected(kind TrackType, id string) {
	h.record("selected:" + kind.String() + ":" + id)
}

func (h *recordingHost) NotifyCues(cues []Cue) {
	h.record(fmt.Sprintf("cues:%d", len(cues)))
}

func (h *recordingHost) NotifyError(err error) { h.record("error:" + err.Error()) }

func (h *recordingHost) all() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *recordingHost) count(event string) int {
	n := 0
	for _, e := range h.all() {
		if e == event {
			n++
		}
	}
	return n
}

func (h *recordingHost) last() string {
	events := h.all()
	if len(events) == 0 {
		return ""
	}
	return events[len(events)-1]
}

func (h *recordingHost) reset() {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()
}
