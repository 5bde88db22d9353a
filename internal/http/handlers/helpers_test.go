package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/service"
	"github.com/jmylchreest/tvinput/internal/session"
)

const testInputID = "pansy"

type registrar interface {
	Register(api huma.API)
}

func newTestRouter(handlers ...registrar) http.Handler {
	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("test", "1.0.0"))
	for _, h := range handlers {
		h.Register(api)
	}
	return router
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

// fakeDirectory serves a fixed channel list with at most one program each.
type fakeDirectory struct {
	channels []*models.Channel
	programs map[int64]models.PlaybackInfo
	err      error
}

func (d *fakeDirectory) GetChannel(_ context.Context, uri models.ChannelURI) (*models.Channel, error) {
	if d.err != nil {
		return nil, d.err
	}
	id, err := uri.ChannelID()
	if err != nil {
		return nil, err
	}
	for _, c := range d.channels {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) GetProgramPlaybackInfo(ctx context.Context, uri models.ChannelURI, _, _ time.Time, _ int) ([]models.PlaybackInfo, error) {
	c, err := d.GetChannel(ctx, uri)
	if err != nil || c == nil {
		return nil, err
	}
	if info, ok := d.programs[c.ID]; ok {
		return []models.PlaybackInfo{info}, nil
	}
	return nil, nil
}

func (d *fakeDirectory) ListChannels(_ context.Context, inputID string) ([]*models.Channel, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []*models.Channel
	for _, c := range d.channels {
		if c.InputID == inputID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) CurrentPlaybackInfo(ctx context.Context, uri models.ChannelURI, _ time.Time) (*models.PlaybackInfo, error) {
	infos, err := d.GetProgramPlaybackInfo(ctx, uri, time.Time{}, time.Time{}, 1)
	if err != nil || len(infos) == 0 {
		return nil, err
	}
	return &infos[0], nil
}

// fakeSync records sync requests.
type fakeSync struct {
	requests []bool
	last     *service.SyncResult
}

func (s *fakeSync) RequestSync(_ string, currentProgramOnly bool) {
	s.requests = append(s.requests, currentProgramOnly)
}

func (s *fakeSync) Pending() bool { return len(s.requests) > 0 }

func (s *fakeSync) LastResult() *service.SyncResult { return s.last }

// idleEngine accepts every command and reports nothing.
type idleEngine struct{}

func (idleEngine) Prepare(string, models.StreamKind)          {}
func (idleEngine) SeekTo(time.Duration)                       {}
func (idleEngine) SetSurface(session.Surface)                 {}
func (idleEngine) SetVolume(float32)                          {}
func (idleEngine) SetPlayWhenReady(bool)                      {}
func (idleEngine) Tracks(session.TrackType) []session.Track   { return nil }
func (idleEngine) SelectTrack(session.TrackType, string) bool { return false }
func (idleEngine) SelectedTrack(session.TrackType) string     { return "" }
func (idleEngine) Release()                                   {}

type idleEngines struct{}

func (idleEngines) NewEngine(session.EngineListener) session.Engine { return idleEngine{} }

func testChannels() []*models.Channel {
	return []*models.Channel{
		{ID: 1, InputID: testInputID, OriginalNetworkID: 51, DisplayNumber: "51", DisplayName: "blizz TV HD", TvgID: "blizz.de", LogoURL: "http://logo.iptv.ink/897815.png", StreamURL: "http://example.com/51.m3u8"},
		{ID: 2, InputID: testInputID, OriginalNetworkID: 7, DisplayNumber: "7", DisplayName: "Das Erste", StreamURL: "http://example.com/7.ts"},
	}
}
