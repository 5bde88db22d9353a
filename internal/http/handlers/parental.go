package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvinput/internal/host"
	"github.com/jmylchreest/tvinput/internal/models"
)

// ParentalHandler exposes the parental control settings.
type ParentalHandler struct {
	settings *host.ParentalSettings
}

// NewParentalHandler creates a parental handler.
func NewParentalHandler(settings *host.ParentalSettings) *ParentalHandler {
	return &ParentalHandler{settings: settings}
}

// Register registers the parental routes with the API.
func (h *ParentalHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getParental",
		Method:      http.MethodGet,
		Path:        "/api/v1/parental",
		Summary:     "Get parental controls",
		Tags:        []string{"Parental"},
	}, h.GetParental)

	huma.Register(api, huma.Operation{
		OperationID: "updateParental",
		Method:      http.MethodPut,
		Path:        "/api/v1/parental",
		Summary:     "Update parental controls",
		Description: "Every live session re-checks its content against the new settings",
		Tags:        []string{"Parental"},
	}, h.UpdateParental)

	huma.Register(api, huma.Operation{
		OperationID: "patchParental",
		Method:      http.MethodPatch,
		Path:        "/api/v1/parental",
		Summary:     "Change parental controls",
		Description: "Switches controls on or off and blocks or unblocks single ratings",
		Tags:        []string{"Parental"},
	}, h.PatchParental)
}

// ParentalInput is the input for reading parental controls.
type ParentalInput struct{}

// ParentalOutput returns the parental control settings.
type ParentalOutput struct {
	Body host.ParentalSnapshot
}

// GetParental returns the current settings.
func (h *ParentalHandler) GetParental(_ context.Context, _ *ParentalInput) (*ParentalOutput, error) {
	return &ParentalOutput{Body: h.settings.Snapshot()}, nil
}

// UpdateParentalInput replaces the parental control settings.
type UpdateParentalInput struct {
	Body struct {
		Enabled        bool     `json:"enabled"`
		BlockedRatings []string `json:"blocked_ratings" required:"false"`
	}
}

// UpdateParental replaces the settings.
func (h *ParentalHandler) UpdateParental(_ context.Context, input *UpdateParentalInput) (*ParentalOutput, error) {
	ratings, err := parseRatings(input.Body.BlockedRatings)
	if err != nil {
		return nil, err
	}

	h.settings.Apply(host.ParentalSnapshot{
		Enabled:        input.Body.Enabled,
		BlockedRatings: ratings,
	})
	return &ParentalOutput{Body: h.settings.Snapshot()}, nil
}

// PatchParentalInput changes parts of the parental control settings.
type PatchParentalInput struct {
	Body struct {
		Enabled *bool    `json:"enabled,omitempty" required:"false"`
		Block   []string `json:"block,omitempty" required:"false"`
		Unblock []string `json:"unblock,omitempty" required:"false"`
	}
}

// PatchParental applies the given changes. Nothing is changed when a
// rating is invalid.
func (h *ParentalHandler) PatchParental(_ context.Context, input *PatchParentalInput) (*ParentalOutput, error) {
	block, err := parseRatings(input.Body.Block)
	if err != nil {
		return nil, err
	}
	unblock, err := parseRatings(input.Body.Unblock)
	if err != nil {
		return nil, err
	}

	if input.Body.Enabled != nil {
		h.settings.SetEnabled(*input.Body.Enabled)
	}
	for _, r := range block {
		h.settings.BlockRating(r)
	}
	for _, r := range unblock {
		h.settings.UnblockRating(r)
	}
	return &ParentalOutput{Body: h.settings.Snapshot()}, nil
}

func parseRatings(values []string) ([]models.ContentRating, error) {
	ratings := make([]models.ContentRating, 0, len(values))
	for _, s := range values {
		r := models.ContentRating(s)
		if err := r.Validate(); err != nil {
			return nil, huma.Error422UnprocessableEntity("invalid rating", err)
		}
		ratings = append(ratings, r)
	}
	return ratings, nil
}
