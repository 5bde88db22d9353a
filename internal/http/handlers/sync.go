package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/tvinput/internal/service"
)

// SyncRequester queues directory syncs.
type SyncRequester interface {
	SyncStatus
	RequestSync(inputID string, currentProgramOnly bool)
}

// FeedCircuit is the circuit breaker guarding feed fetches.
type FeedCircuit interface {
	ResetCircuit()
}

// SyncHandler triggers and reports directory synchronisation.
type SyncHandler struct {
	sync    SyncRequester
	circuit FeedCircuit
	inputID string
}

// NewSyncHandler creates a sync handler for inputID.
func NewSyncHandler(sync SyncRequester, inputID string) *SyncHandler {
	return &SyncHandler{sync: sync, inputID: inputID}
}

// WithFeedCircuit makes manual sync requests close the feed circuit, so an
// operator can retry a feed that has been failing.
func (h *SyncHandler) WithFeedCircuit(circuit FeedCircuit) *SyncHandler {
	h.circuit = circuit
	return h
}

// Register registers the sync routes with the API.
func (h *SyncHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "requestSync",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync",
		Summary:       "Request a directory sync",
		Description:   "Queues a sync; a pending full sync absorbs current-program requests",
		Tags:          []string{"Sync"},
		DefaultStatus: http.StatusAccepted,
	}, h.RequestSync)

	huma.Register(api, huma.Operation{
		OperationID: "getSync",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync",
		Summary:     "Get sync status",
		Tags:        []string{"Sync"},
	}, h.GetSync)
}

// SyncStatusBody reports the sync state.
type SyncStatusBody struct {
	InputID    string              `json:"input_id"`
	Pending    bool                `json:"pending"`
	LastResult *service.SyncResult `json:"last_result,omitempty"`
}

// SyncOutput returns the sync state.
type SyncOutput struct {
	Body SyncStatusBody
}

// RequestSyncInput is the input for requesting a sync.
type RequestSyncInput struct {
	Body struct {
		CurrentProgramOnly bool `json:"current_program_only" required:"false"`
	}
}

// RequestSync queues a sync of the input.
func (h *SyncHandler) RequestSync(_ context.Context, input *RequestSyncInput) (*SyncOutput, error) {
	if h.circuit != nil {
		h.circuit.ResetCircuit()
	}
	h.sync.RequestSync(h.inputID, input.Body.CurrentProgramOnly)
	return h.status(), nil
}

// GetSyncInput is the input for reading the sync state.
type GetSyncInput struct{}

// GetSync returns the sync state.
func (h *SyncHandler) GetSync(_ context.Context, _ *GetSyncInput) (*SyncOutput, error) {
	return h.status(), nil
}

func (h *SyncHandler) status() *SyncOutput {
	return &SyncOutput{Body: SyncStatusBody{
		InputID:    h.inputID,
		Pending:    h.sync.Pending(),
		LastResult: h.sync.LastResult(),
	}}
}
