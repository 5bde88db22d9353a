package handlers

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/pkg/m3u"
)

// ChannelDirectory is the channel lookup behind the channel endpoints.
type ChannelDirectory interface {
	GetChannel(ctx context.Context, uri models.ChannelURI) (*models.Channel, error)
	ListChannels(ctx context.Context, inputID string) ([]*models.Channel, error)
	CurrentPlaybackInfo(ctx context.Context, uri models.ChannelURI, now time.Time) (*models.PlaybackInfo, error)
}

// ChannelHandler handles channel browsing API endpoints.
type ChannelHandler struct {
	directory      ChannelDirectory
	inputID        string
	logoBaseURL    string
	defaultKind    models.StreamKind
	fallbackWindow time.Duration
	now            func() time.Time
}

// NewChannelHandler creates a channel handler for inputID.
func NewChannelHandler(directory ChannelDirectory, inputID string) *ChannelHandler {
	return &ChannelHandler{
		directory:      directory,
		inputID:        inputID,
		logoBaseURL:    m3u.DefaultLogoBaseURL,
		defaultKind:    models.StreamKindHLS,
		fallbackWindow: time.Hour,
		now:            time.Now,
	}
}

// WithLogoBaseURL sets the logo base stripped from exported playlists.
func (h *ChannelHandler) WithLogoBaseURL(base string) *ChannelHandler {
	h.logoBaseURL = base
	return h
}

// WithFallback sets the stream kind and window of the placeholder returned
// when no program covers now.
func (h *ChannelHandler) WithFallback(kind models.StreamKind, window time.Duration) *ChannelHandler {
	h.defaultKind = kind
	h.fallbackWindow = window
	return h
}

// Register registers the channel routes with the API.
func (h *ChannelHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      http.MethodGet,
		Path:        "/api/v1/channels",
		Summary:     "List channels",
		Description: "Returns the input's channels in feed order",
		Tags:        []string{"Channels"},
	}, h.ListChannels)

	huma.Register(api, huma.Operation{
		OperationID: "getChannelNow",
		Method:      http.MethodGet,
		Path:        "/api/v1/channels/{id}/now",
		Summary:     "Get what a channel is playing",
		Description: "Returns the current program's playback info, or the channel stream when no program covers now",
		Tags:        []string{"Channels"},
	}, h.GetNow)

	huma.Register(api, huma.Operation{
		OperationID: "exportChannels",
		Method:      http.MethodGet,
		Path:        "/api/v1/channels.m3u",
		Summary:     "Export channels as M3U",
		Tags:        []string{"Channels"},
	}, h.Export)
}

// ChannelResponse is a channel in API responses.
type ChannelResponse struct {
	ID            int64             `json:"id"`
	URI           models.ChannelURI `json:"uri"`
	Number        int               `json:"number"`
	DisplayNumber string            `json:"display_number"`
	DisplayName   string            `json:"display_name"`
	TvgID         string            `json:"tvg_id,omitempty"`
	LogoURL       string            `json:"logo_url,omitempty"`
	StreamURL     string            `json:"stream_url"`
}

func channelResponse(c *models.Channel) ChannelResponse {
	return ChannelResponse{
		ID:            c.ID,
		URI:           c.URI(),
		Number:        c.OriginalNetworkID,
		DisplayNumber: c.DisplayNumber,
		DisplayName:   c.DisplayName,
		TvgID:         c.TvgID,
		LogoURL:       c.LogoURL,
		StreamURL:     c.StreamURL,
	}
}

// ListChannelsInput is the input for listing channels.
type ListChannelsInput struct{}

// ListChannelsOutput is the output for listing channels.
type ListChannelsOutput struct {
	Body struct {
		Items []ChannelResponse `json:"items"`
		Total int               `json:"total"`
	}
}

// ListChannels returns the input's channels.
func (h *ChannelHandler) ListChannels(ctx context.Context, _ *ListChannelsInput) (*ListChannelsOutput, error) {
	channels, err := h.directory.ListChannels(ctx, h.inputID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels", err)
	}

	out := &ListChannelsOutput{}
	out.Body.Items = make([]ChannelResponse, 0, len(channels))
	for _, c := range channels {
		out.Body.Items = append(out.Body.Items, channelResponse(c))
	}
	out.Body.Total = len(out.Body.Items)
	return out, nil
}

// ChannelNowInput is the input for the current program endpoint.
type ChannelNowInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Channel ID"`
}

// ChannelNowOutput is the output for the current program endpoint.
type ChannelNowOutput struct {
	Body struct {
		Channel  ChannelResponse     `json:"channel"`
		Playback models.PlaybackInfo `json:"playback"`
		Fallback bool                `json:"fallback" doc:"True when no program covers now"`
	}
}

// GetNow returns what a channel plays now.
func (h *ChannelHandler) GetNow(ctx context.Context, input *ChannelNowInput) (*ChannelNowOutput, error) {
	uri := models.ChannelURIFor(input.ID)
	channel, err := h.directory.GetChannel(ctx, uri)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get channel", err)
	}
	if channel == nil {
		return nil, huma.Error404NotFound("channel not found")
	}

	now := h.now()
	info, err := h.directory.CurrentPlaybackInfo(ctx, uri, now)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get current program", err)
	}

	out := &ChannelNowOutput{}
	out.Body.Channel = channelResponse(channel)
	if info == nil {
		out.Body.Playback = models.FallbackPlaybackInfo(now, channel.StreamURL, h.defaultKind, h.fallbackWindow)
		out.Body.Fallback = true
	} else {
		out.Body.Playback = *info
	}
	return out, nil
}

// ExportInput is the input for the playlist export.
type ExportInput struct{}

// ExportOutput is a raw M3U playlist.
type ExportOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// Export writes the input's channels as an M3U playlist.
func (h *ChannelHandler) Export(ctx context.Context, _ *ExportInput) (*ExportOutput, error) {
	channels, err := h.directory.ListChannels(ctx, h.inputID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list channels", err)
	}

	var buf bytes.Buffer
	n, err := WritePlaylist(&buf, channels, h.logoBaseURL)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to write playlist", err)
	}

	observability.LoggerFromContext(ctx).Debug("exported playlist",
		slog.String("input_id", h.inputID),
		slog.Int("channels", n))

	return &ExportOutput{
		ContentType: "audio/x-mpegurl; charset=utf-8",
		Body:        buf.Bytes(),
	}, nil
}

// WritePlaylist writes channels as an M3U playlist and returns how many
// were written.
func WritePlaylist(w io.Writer, channels []*models.Channel, logoBaseURL string) (int, error) {
	pw := m3u.NewWriter(w)
	pw.LogoBaseURL = logoBaseURL
	if err := pw.WriteHeader(); err != nil {
		return 0, err
	}
	for _, c := range channels {
		if err := pw.WriteChannel(ToPlaylistChannel(c)); err != nil {
			return 0, err
		}
	}
	return len(channels), nil
}

// ToPlaylistChannel converts a directory channel to its playlist form.
func ToPlaylistChannel(c *models.Channel) *m3u.Channel {
	number := c.DisplayNumber
	if number == "" {
		number = strconv.Itoa(c.OriginalNetworkID)
	}
	return &m3u.Channel{
		Number:        c.OriginalNetworkID,
		DisplayNumber: number,
		TvgID:         c.TvgID,
		DisplayName:   c.DisplayName,
		LogoURL:       c.LogoURL,
		StreamURL:     c.StreamURL,
	}
}
