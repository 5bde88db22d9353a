package player

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/asticode/go-astits"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/session"
)

// tsSource plays a progressive MPEG-TS stream.
type tsSource struct {
	locator string
	client  *httpclient.Client
}

func (s *tsSource) run(ctx context.Context, sink *Engine) error {
	body, err := s.client.Fetch(ctx, s.locator)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer body.Close()

	reader := &mpegts.Reader{R: body}
	if err := reader.Initialize(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("initializing mpegts reader: %w", err)
	}

	reader.OnDecodeError(func(err error) {
		sink.logger.Debug("MPEG-TS decode error", "error", err.Error())
	})

	if err := sink.setTracks(s.register(reader, sink)); err != nil {
		return err
	}

	for {
		if err := reader.Read(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isEndOfStream(err) {
				return errEndOfStream
			}
			return fmt.Errorf("reading stream: %w", err)
		}
	}
}

func (s *tsSource) register(reader *mpegts.Reader, sink *Engine) []session.Track {
	var out []session.Track
	videos, audios := 0, 0

	addAudio := func(codec string) {
		out = append(out, session.Track{ID: trackID(session.TrackAudio, audios), Type: session.TrackAudio, Codec: codec})
		audios++
	}

	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			reader.OnDataH264(track, func(_, _ int64, au [][]byte) error {
				sink.onVideo(h264.IsRandomAccess(au))
				return nil
			})
			out = append(out, session.Track{ID: trackID(session.TrackVideo, videos), Type: session.TrackVideo, Codec: "h264"})
			videos++

		case *mpegts.CodecH265:
			reader.OnDataH265(track, func(_, _ int64, au [][]byte) error {
				sink.onVideo(h265.IsRandomAccess(au))
				return nil
			})
			out = append(out, session.Track{ID: trackID(session.TrackVideo, videos), Type: session.TrackVideo, Codec: "h265"})
			videos++

		case *mpegts.CodecMPEG4Audio:
			reader.OnDataMPEG4Audio(track, func(int64, [][]byte) error {
				sink.onAudio()
				return nil
			})
			addAudio("aac")

		case *mpegts.CodecOpus:
			reader.OnDataOpus(track, func(int64, [][]byte) error {
				sink.onAudio()
				return nil
			})
			addAudio("opus")

		case *mpegts.CodecAC3:
			reader.OnDataAC3(track, func(int64, []byte) error {
				sink.onAudio()
				return nil
			})
			addAudio("ac3")

		case *mpegts.CodecMPEG1Audio:
			reader.OnDataMPEG1Audio(track, func(int64, [][]byte) error {
				sink.onAudio()
				return nil
			})
			addAudio("mp3")

		default:
			sink.logger.Debug("skipping unsupported MPEG-TS track",
				"pid", track.PID,
				"codec", fmt.Sprintf("%T", track.Codec))
		}
	}
	return out
}

// isEndOfStream reports whether a demuxer error means the input ran out.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, astits.ErrNoMorePackets)
}
