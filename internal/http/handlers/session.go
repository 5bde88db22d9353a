package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvinput/internal/host"
	"github.com/jmylchreest/tvinput/internal/models"
	"github.com/jmylchreest/tvinput/internal/session"
)

// SessionHandler exposes playback sessions.
type SessionHandler struct {
	hosts   *host.Service
	inputID string
}

// NewSessionHandler creates a session handler. Sessions created without
// an input ID belong to inputID.
func NewSessionHandler(hosts *host.Service, inputID string) *SessionHandler {
	return &SessionHandler{hosts: hosts, inputID: inputID}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSession",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Create a session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, h.CreateSession)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List live sessions",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get a session",
		Tags:        []string{"Sessions"},
	}, h.GetSession)

	huma.Register(api, huma.Operation{
		OperationID:   "releaseSession",
		Method:        http.MethodDelete,
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Release a session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.ReleaseSession)

	huma.Register(api, huma.Operation{
		OperationID: "tuneSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/tune",
		Summary:     "Tune to a channel",
		Description: "Accepts either a channel URI or a channel ID",
		Tags:        []string{"Sessions"},
	}, h.Tune)

	huma.Register(api, huma.Operation{
		OperationID: "setSessionSurface",
		Method:      http.MethodPut,
		Path:        "/api/v1/sessions/{id}/surface",
		Summary:     "Set the output surface",
		Description: "An empty surface detaches the engine from any output",
		Tags:        []string{"Sessions"},
	}, h.SetSurface)

	huma.Register(api, huma.Operation{
		OperationID: "setSessionVolume",
		Method:      http.MethodPut,
		Path:        "/api/v1/sessions/{id}/volume",
		Summary:     "Set the volume",
		Tags:        []string{"Sessions"},
	}, h.SetVolume)

	huma.Register(api, huma.Operation{
		OperationID: "setSessionCaptions",
		Method:      http.MethodPut,
		Path:        "/api/v1/sessions/{id}/captions",
		Summary:     "Enable or disable captions",
		Tags:        []string{"Sessions"},
	}, h.SetCaptions)

	huma.Register(api, huma.Operation{
		OperationID: "selectSessionTrack",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/tracks",
		Summary:     "Select a track",
		Description: "An empty track ID deselects the track type",
		Tags:        []string{"Sessions"},
	}, h.SelectTrack)

	huma.Register(api, huma.Operation{
		OperationID: "unblockSessionContent",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/unblock",
		Summary:     "Unblock a rating for the current tuning",
		Tags:        []string{"Sessions"},
	}, h.Unblock)
}

// SessionPath identifies a session.
type SessionPath struct {
	ID string `path:"id" doc:"Session ID"`
}

// SessionOutput returns one session.
type SessionOutput struct {
	Body host.View
}

// CreateSessionInput is the input for creating a session.
type CreateSessionInput struct {
	Body struct {
		InputID string `json:"input_id,omitempty" required:"false" doc:"Input the session plays from"`
	}
}

// CreateSession starts a new session.
func (h *SessionHandler) CreateSession(_ context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	inputID := input.Body.InputID
	if inputID == "" {
		inputID = h.inputID
	}
	sess := h.hosts.CreateSession(inputID)
	return h.viewOf(sess.ID())
}

// ListSessionsInput is the input for listing sessions.
type ListSessionsInput struct{}

// ListSessionsOutput lists live sessions.
type ListSessionsOutput struct {
	Body struct {
		Items []host.View `json:"items"`
		Total int         `json:"total"`
	}
}

// ListSessions returns every live session.
func (h *SessionHandler) ListSessions(_ context.Context, _ *ListSessionsInput) (*ListSessionsOutput, error) {
	out := &ListSessionsOutput{}
	out.Body.Items = h.hosts.List()
	out.Body.Total = len(out.Body.Items)
	return out, nil
}

// GetSession returns a session.
func (h *SessionHandler) GetSession(_ context.Context, input *SessionPath) (*SessionOutput, error) {
	return h.viewOf(input.ID)
}

// ReleaseSession releases a session.
func (h *SessionHandler) ReleaseSession(_ context.Context, input *SessionPath) (*struct{}, error) {
	if err := h.hosts.Release(input.ID); err != nil {
		return nil, sessionError(err)
	}
	return nil, nil
}

// TuneInput is the input for tuning a session.
type TuneInput struct {
	SessionPath
	Body struct {
		ChannelURI string `json:"channel_uri,omitempty" required:"false" doc:"Channel URI, e.g. content://tvinput/channel/51"`
		ChannelID  int64  `json:"channel_id,omitempty" required:"false" doc:"Channel ID, used when no URI is given"`
	}
}

// Tune tunes a session to a channel.
func (h *SessionHandler) Tune(_ context.Context, input *TuneInput) (*SessionOutput, error) {
	uri := models.ChannelURI(input.Body.ChannelURI)
	if uri == "" && input.Body.ChannelID > 0 {
		uri = models.ChannelURIFor(input.Body.ChannelID)
	}
	if uri == "" {
		return nil, huma.Error400BadRequest("channel_uri or channel_id is required")
	}
	if _, err := uri.ChannelID(); err != nil {
		return nil, huma.Error400BadRequest("invalid channel", err)
	}

	sess, err := h.hosts.Session(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	if !sess.Tune(uri) {
		return nil, huma.Error409Conflict("session cannot be tuned")
	}
	return h.viewOf(input.ID)
}

// SurfaceInput is the input for setting the output surface.
type SurfaceInput struct {
	SessionPath
	Body struct {
		Surface string `json:"surface" doc:"Surface name; empty detaches the output"`
	}
}

// SetSurface sets a session's output surface.
func (h *SessionHandler) SetSurface(_ context.Context, input *SurfaceInput) (*SessionOutput, error) {
	sess, err := h.hosts.Session(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.SetSurface(session.Surface(input.Body.Surface))
	return h.viewOf(input.ID)
}

// VolumeInput is the input for setting the volume.
type VolumeInput struct {
	SessionPath
	Body struct {
		Volume float32 `json:"volume" minimum:"0" maximum:"1"`
	}
}

// SetVolume sets a session's volume.
func (h *SessionHandler) SetVolume(_ context.Context, input *VolumeInput) (*SessionOutput, error) {
	sess, err := h.hosts.Session(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.SetVolume(input.Body.Volume)
	return h.viewOf(input.ID)
}

// CaptionsInput is the input for toggling captions.
type CaptionsInput struct {
	SessionPath
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

// SetCaptions enables or disables captions.
func (h *SessionHandler) SetCaptions(_ context.Context, input *CaptionsInput) (*SessionOutput, error) {
	sess, err := h.hosts.Session(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.SetCaptionsEnabled(input.Body.Enabled)
	return h.viewOf(input.ID)
}

// SelectTrackInput is the input for selecting a track.
type SelectTrackInput struct {
	SessionPath
	Body struct {
		Type    string `json:"type" enum:"audio,video,subtitle"`
		TrackID string `json:"track_id" doc:"Track ID; empty deselects"`
	}
}

// SelectTrack selects or deselects a track.
func (h *SessionHandler) SelectTrack(_ context.Context, input *SelectTrackInput) (*SessionOutput, error) {
	kind, ok := parseTrackType(input.Body.Type)
	if !ok {
		return nil, huma.Error400BadRequest("unknown track type " + input.Body.Type)
	}
	sess, err := h.hosts.Session(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	if !sess.SelectTrack(kind, input.Body.TrackID) {
		return nil, huma.Error422UnprocessableEntity("track not available")
	}
	return h.viewOf(input.ID)
}

// UnblockInput is the input for unblocking content.
type UnblockInput struct {
	SessionPath
	Body struct {
		Rating string `json:"rating" doc:"The blocked rating, e.g. com.android.tv/US_TV/US_TV_MA"`
	}
}

// Unblock allows a blocked rating for the rest of the tuning.
func (h *SessionHandler) Unblock(_ context.Context, input *UnblockInput) (*SessionOutput, error) {
	rating := models.ContentRating(input.Body.Rating)
	if err := rating.Validate(); err != nil {
		return nil, huma.Error400BadRequest("invalid rating", err)
	}
	sess, err := h.hosts.Session(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.UnblockContent(rating)
	return h.viewOf(input.ID)
}

func (h *SessionHandler) viewOf(id string) (*SessionOutput, error) {
	view, err := h.hosts.View(id)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: view}, nil
}

func sessionError(err error) error {
	if errors.Is(err, host.ErrSessionNotFound) {
		return huma.Error404NotFound("session not found", err)
	}
	return huma.Error500InternalServerError("session error", err)
}

func parseTrackType(s string) (session.TrackType, bool) {
	for _, t := range session.TrackTypes {
		if t.String() == s {
			return t, true
		}
	}
	return 0, false
}
