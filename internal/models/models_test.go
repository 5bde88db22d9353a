package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentRating_Parts(t *testing.T) {
	r := NewContentRating(DefaultRatingDomain, "US_TV", "US_TV_PG", "US_TV_D", "US_TV_L")

	assert.Equal(t, ContentRating("com.android.tv/US_TV/US_TV_PG/US_TV_D/US_TV_L"), r)
	assert.Equal(t, "com.android.tv", r.Domain())
	assert.Equal(t, "US_TV", r.System())
	assert.Equal(t, "US_TV_PG", r.Rating())
	assert.Equal(t, []string{"US_TV_D", "US_TV_L"}, r.SubRatings())
	assert.NoError(t, r.Validate())
}

func TestContentRating_Validate(t *testing.T) {
	var verr ErrValidation
	err := ContentRating("US_TV_PG").Validate()
	require.Error(t, err)
	assert.True(t, errors.As(err, &verr))
	assert.Equal(t, "rating", verr.Field)

	assert.True(t, ContentRating("").IsZero())
	assert.Nil(t, NewContentRating("a", "b", "c").SubRatings())
}

func TestContentRatings_ScanValue(t *testing.T) {
	ratings := ContentRatings{
		NewContentRating(DefaultRatingDomain, "US_TV", "US_TV_PG"),
		NewContentRating(DefaultRatingDomain, "DE_TV", "DE_TV_12"),
	}

	v, err := ratings.Value()
	require.NoError(t, err)
	assert.Equal(t, "com.android.tv/US_TV/US_TV_PG,com.android.tv/DE_TV/DE_TV_12", v)

	var scanned ContentRatings
	require.NoError(t, scanned.Scan([]byte(v.(string))))
	assert.Equal(t, ratings, scanned)

	require.NoError(t, scanned.Scan(" , "))
	assert.Empty(t, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)

	assert.Error(t, scanned.Scan(42))
}

func TestParseStreamKind(t *testing.T) {
	tests := []struct {
		in      string
		want    StreamKind
		wantErr bool
	}{
		{"HLS", StreamKindHLS, false},
		{"http_live_streaming", StreamKindHLS, false},
		{"mpeg_ts", StreamKindProgressive, false},
		{"progressive", StreamKindProgressive, false},
		{"DASH", StreamKindDASH, false},
		{"3", StreamKindOther, false},
		{"smoothstreaming", StreamKindOther, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStreamKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStreamKind_Text(t *testing.T) {
	text, err := StreamKindDASH.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "dash", string(text))

	var k StreamKind
	require.NoError(t, k.UnmarshalText([]byte("hls")))
	assert.Equal(t, StreamKindHLS, k)
	assert.Error(t, k.UnmarshalText([]byte("rtsp")))
}

func TestFallbackPlaybackInfo(t *testing.T) {
	now := time.Date(2024, 1, 15, 18, 30, 0, 0, time.UTC)
	info := FallbackPlaybackInfo(now, "http://example.com/51.m3u8", StreamKindHLS, time.Hour)

	assert.Equal(t, now, info.Start)
	assert.Equal(t, now.Add(time.Hour), info.End)
	assert.Equal(t, "http://example.com/51.m3u8", info.StreamURL)
	assert.Equal(t, StreamKindHLS, info.StreamKind)
	assert.NotNil(t, info.Ratings)
	assert.Empty(t, info.Ratings)
	assert.True(t, info.CurrentRating().IsZero())
	assert.NoError(t, info.Validate())
}

func TestPlaybackInfo_SeekOffset(t *testing.T) {
	start := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	info := PlaybackInfo{Start: start, End: start.Add(time.Hour)}

	assert.Equal(t, 10*time.Minute, info.SeekOffset(start.Add(10*time.Minute)))
	assert.Zero(t, info.SeekOffset(start))
	assert.Zero(t, info.SeekOffset(start.Add(-time.Minute)))
}

func TestPlaybackInfo_InvalidRange(t *testing.T) {
	start := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	info := PlaybackInfo{Start: start, End: start.Add(-time.Second)}
	assert.ErrorIs(t, info.Validate(), ErrInvalidTimeRange)
}

func TestChannelURI(t *testing.T) {
	ch := &Channel{ID: 42}
	uri := ch.URI()
	assert.Equal(t, "content://tvinput/channel/42", uri.String())

	id, err := uri.ChannelID()
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []ChannelURI{"", "content://tvinput/channel/", "content://tvinput/channel/x", "content://other/channel/1", "content://tvinput/channel/-3"} {
		_, err := bad.ChannelID()
		assert.ErrorIs(t, err, ErrInvalidChannelURI, "uri %q", bad)
	}
}

func TestChannel_Validate(t *testing.T) {
	ch := &Channel{InputID: "iptv", OriginalNetworkID: 51, DisplayName: "blizz TV HD"}
	assert.NoError(t, ch.Validate())

	ch.InputID = ""
	assert.ErrorIs(t, ch.Validate(), ErrInputIDRequired)

	ch.InputID = "iptv"
	ch.DisplayName = ""
	assert.ErrorIs(t, ch.Validate(), ErrNameRequired)

	ch.DisplayName = "blizz TV HD"
	ch.OriginalNetworkID = 0
	var verr ErrValidation
	assert.True(t, errors.As(ch.Validate(), &verr))
}

func TestProgram_PlaybackInfo(t *testing.T) {
	start := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	rating := NewContentRating(DefaultRatingDomain, "US_TV", "US_TV_PG")
	p := &Program{
		ChannelID:  1,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
		StreamKind: StreamKindProgressive,
		Ratings:    ContentRatings{rating},
	}

	info := p.PlaybackInfo("http://example.com/channel.ts")
	assert.Equal(t, "http://example.com/channel.ts", info.StreamURL)
	assert.Equal(t, StreamKindProgressive, info.StreamKind)
	assert.Equal(t, rating, info.CurrentRating())

	p.StreamURL = "http://example.com/programme.ts"
	assert.Equal(t, "http://example.com/programme.ts", p.PlaybackInfo("http://example.com/channel.ts").StreamURL)

	assert.True(t, p.Covers(start.Add(30*time.Minute), start.Add(30*time.Minute+time.Millisecond)))
	assert.False(t, p.Covers(start.Add(time.Hour), start.Add(2*time.Hour)))
}

func TestProgram_BeforeCreate(t *testing.T) {
	start := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	p := &Program{ChannelID: 1, StartTime: start, EndTime: start.Add(time.Hour)}
	require.NoError(t, p.BeforeCreate(nil))
	assert.False(t, p.ID.IsZero())

	bad := &Program{ChannelID: 1, StartTime: start, EndTime: start.Add(-time.Hour)}
	assert.ErrorIs(t, bad.BeforeCreate(nil), ErrInvalidTimeRange)

	assert.ErrorIs(t, (&Program{}).Validate(), ErrChannelIDRequired)
}

func TestULID_Scan(t *testing.T) {
	id := NewULID()

	var scanned ULID
	require.NoError(t, scanned.Scan(id.String()))
	assert.Equal(t, id, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.True(t, scanned.IsZero())

	assert.Error(t, scanned.Scan("not-a-ulid"))
	assert.Error(t, scanned.Scan(3.14))
}
