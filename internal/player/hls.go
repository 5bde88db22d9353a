package player

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/session"
	"github.com/jmylchreest/tvinput/internal/urlutil"
)

// hlsSource plays an HLS playlist.
type hlsSource struct {
	locator urlutil.Locator
	client  *httpclient.Client
}

func (s *hlsSource) run(ctx context.Context, sink *Engine) error {
	var client *gohlslib.Client
	client = &gohlslib.Client{
		URI: s.locator.URL,
		HTTPClient: &http.Client{
			Transport: headerTransport{
				base:    s.client.StandardClient().Transport,
				headers: s.locator.Headers,
			},
		},
		OnTracks: func(tracks []*gohlslib.Track) error {
			return sink.setTracks(s.register(client, sink, tracks))
		},
	}

	if err := client.Start(); err != nil {
		return fmt.Errorf("starting HLS client: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- client.Wait2() }()

	select {
	case <-ctx.Done():
		client.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		client.Close()
		if err == nil || errors.Is(err, gohlslib.ErrClientEOS) {
			return errEndOfStream
		}
		return fmt.Errorf("HLS client: %w", err)
	}
}

// register wires data callbacks for the tracks the engine can follow and
// returns their descriptions.
func (s *hlsSource) register(client *gohlslib.Client, sink *Engine, tracks []*gohlslib.Track) []session.Track {
	var out []session.Track
	videos, audios := 0, 0

	for _, track := range tracks {
		switch track.Codec.(type) {
		case *codecs.H264:
			client.OnDataH26x(track, func(_, _ int64, au [][]byte) {
				sink.onVideo(h264.IsRandomAccess(au))
			})
			out = append(out, session.Track{ID: trackID(session.TrackVideo, videos), Type: session.TrackVideo, Codec: "h264"})
			videos++

		case *codecs.H265:
			client.OnDataH26x(track, func(_, _ int64, au [][]byte) {
				sink.onVideo(h265.IsRandomAccess(au))
			})
			out = append(out, session.Track{ID: trackID(session.TrackVideo, videos), Type: session.TrackVideo, Codec: "h265"})
			videos++

		case *codecs.MPEG4Audio:
			client.OnDataMPEG4Audio(track, func(int64, [][]byte) {
				sink.onAudio()
			})
			out = append(out, session.Track{ID: trackID(session.TrackAudio, audios), Type: session.TrackAudio, Codec: "aac"})
			audios++

		case *codecs.Opus:
			client.OnDataOpus(track, func(int64, [][]byte) {
				sink.onAudio()
			})
			out = append(out, session.Track{ID: trackID(session.TrackAudio, audios), Type: session.TrackAudio, Codec: "opus"})
			audios++

		default:
			sink.logger.Debug("skipping unsupported HLS track",
				"codec", fmt.Sprintf("%T", track.Codec))
		}
	}
	return out
}

// headerTransport adds locator headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) == 0 {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	urlutil.Locator{Headers: t.headers}.Apply(req)
	return t.base.RoundTrip(req)
}
