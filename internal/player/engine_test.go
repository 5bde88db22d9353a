package player

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/session"
)

// recordingListener records engine events as strings.
type recordingListener struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (l *recordingListener) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *recordingListener) OnPrepared() { l.add("prepared") }

func (l *recordingListener) OnStateChanged(_ bool, state session.PlaybackState) {
	l.add("state:" + state.String())
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
	l.add("error")
}

func (l *recordingListener) OnFirstFrameDrawn() { l.add("first_frame") }

func (l *recordingListener) OnCues([]session.Cue) { l.add("cues") }

func (l *recordingListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) has(event string) bool {
	for _, e := range l.all() {
		if e == event {
			return true
		}
	}
	return false
}

func (l *recordingListener) firstError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errs) == 0 {
		return nil
	}
	return l.errs[0]
}

func testClient() *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.RetryAttempts = 0
	return httpclient.New(cfg)
}

// h264Stream muxes a short H.264 elementary stream starting with an IDR
// frame.
func h264Stream(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	track := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{track}}
	require.NoError(t, w.Initialize())

	idr := [][]byte{{0x65, 0x88, 0x84, 0x00, 0x33, 0xff}}
	nonIDR := [][]byte{{0x41, 0x9a, 0x02, 0x04}}
	require.NoError(t, w.WriteH264(track, 0, 0, idr))
	for i := 1; i <= 10; i++ {
		ts := int64(i * 3000)
		require.NoError(t, w.WriteH264(track, ts, ts, nonIDR))
	}
	return buf.Bytes()
}

func TestEngine_ProgressiveStream(t *testing.T) {
	stream := h264Stream(t)
	userAgent := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case userAgent <- r.Header.Get("User-Agent"):
		default:
		}
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write(stream)
	}))
	defer server.Close()

	factory := NewFactory(testClient())
	listener := &recordingListener{}
	engine := factory.NewEngine(listener)
	engine.SetPlayWhenReady(true)
	engine.Prepare(server.URL+"/live/51.ts|User-Agent=VLC", models.StreamKindProgressive)

	require.Eventually(t, func() bool {
		return listener.has("state:ended")
	}, 5*time.Second, 10*time.Millisecond)

	events := listener.all()
	assert.Equal(t, "state:buffering", events[0])
	assert.Contains(t, events, "prepared")
	assert.Contains(t, events, "state:ready")
	assert.Contains(t, events, "first_frame")
	assert.Equal(t, "VLC", <-userAgent)

	video := engine.Tracks(session.TrackVideo)
	require.Len(t, video, 1)
	assert.Equal(t, "h264", video[0].Codec)
	assert.Equal(t, video[0].ID, engine.SelectedTrack(session.TrackVideo))
	assert.Empty(t, engine.Tracks(session.TrackAudio))

	engine.Release()
	factory.Wait()
}

func TestEngine_UnsupportedKind(t *testing.T) {
	factory := NewFactory(testClient())
	listener := &recordingListener{}
	engine := factory.NewEngine(listener)
	engine.Prepare("http://example.com/manifest.mpd", models.StreamKindDASH)
	factory.Wait()

	assert.Equal(t, []string{"error"}, listener.all())
	assert.ErrorIs(t, listener.firstError(), ErrUnsupportedKind)
}

func TestEngine_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	factory := NewFactory(testClient())
	listener := &recordingListener{}
	engine := factory.NewEngine(listener)
	engine.Prepare(server.URL+"/missing.ts", models.StreamKindProgressive)
	factory.Wait()

	assert.ErrorIs(t, listener.firstError(), httpclient.ErrUnexpectedStatus)
	assert.NotContains(t, listener.all(), "prepared")
}

func TestEngine_HLSPlaylistError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	factory := NewFactory(testClient())
	listener := &recordingListener{}
	engine := factory.NewEngine(listener)
	engine.Prepare(server.URL+"/live/51.m3u8", models.StreamKindHLS)

	require.Eventually(t, func() bool {
		return listener.firstError() != nil
	}, 5*time.Second, 10*time.Millisecond)
	engine.Release()
	factory.Wait()
}

func TestEngine_ReleaseStopsStream(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	factory := NewFactory(testClient())
	listener := &recordingListener{}
	engine := factory.NewEngine(listener)
	engine.Prepare(server.URL+"/live.ts", models.StreamKindProgressive)

	<-started
	engine.Release()
	factory.Wait()

	assert.NotContains(t, listener.all(), "error", "a released engine reports nothing")
	assert.True(t, engine.(*Engine).Snapshot().Released)
}

func TestEngine_Controls(t *testing.T) {
	engine := newEngine(&recordingListener{}, testClient(), &sync.WaitGroup{}, slog.Default())
	require.NoError(t, engine.setTracks([]session.Track{
		{ID: "video0", Type: session.TrackVideo},
		{ID: "audio0", Type: session.TrackAudio, Language: "en"},
		{ID: "audio1", Type: session.TrackAudio, Language: "de"},
	}))

	assert.Equal(t, "audio0", engine.SelectedTrack(session.TrackAudio))
	assert.True(t, engine.SelectTrack(session.TrackAudio, "audio1"))
	assert.Equal(t, "audio1", engine.SelectedTrack(session.TrackAudio))
	assert.False(t, engine.SelectTrack(session.TrackAudio, "audio9"))
	assert.False(t, engine.SelectTrack(session.TrackSubtitle, "audio1"))
	assert.True(t, engine.SelectTrack(session.TrackAudio, ""))
	assert.Empty(t, engine.SelectedTrack(session.TrackAudio))

	engine.SetVolume(1.5)
	engine.SetSurface("tv0")
	engine.SeekTo(90 * time.Second)
	snap := engine.Snapshot()
	assert.Equal(t, float32(1), snap.Volume)
	assert.Equal(t, session.Surface("tv0"), snap.Surface)
	assert.Equal(t, 90*time.Second, snap.Seek)

	engine.Release()
	engine.Release()
	assert.Equal(t, session.NoSurface, engine.Snapshot().Surface)

	assert.ErrorIs(t, engine.setTracks(nil), ErrNoTracks)
}

func TestHeaderTransport(t *testing.T) {
	got := make(chan http.Header, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Clone()
	}))
	defer server.Close()

	client := &http.Client{Transport: headerTransport{
		base:    http.DefaultTransport,
		headers: http.Header{"Referer": {"http://portal.example.com/"}},
	}}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	headers := <-got
	assert.Equal(t, "http://portal.example.com/", headers.Get("Referer"))
	assert.False(t, strings.Contains(headers.Get("Referer"), "|"))
}

func TestIsEndOfStream(t *testing.T) {
	assert.True(t, isEndOfStream(io.EOF))
	assert.True(t, isEndOfStream(fmt.Errorf("reading: %w", astits.ErrNoMorePackets)))
	assert.False(t, isEndOfStream(errors.New("bad packet")))
}
