package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
	"github.com/snarg/segscribe/internal/transcribe"
)

const diagnosticsTimeout = 15 * time.Second

// ModelLister validates the service credential. *transcribe.Client
// implements it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]transcribe.Model, error)
	Name() string
	Model() string
}

type DiagnosticsResponse struct {
	Status          string             `json:"status"`
	Provider        string             `json:"provider,omitempty"`
	ConfiguredModel string             `json:"configured_model,omitempty"`
	ModelAvailable  bool               `json:"model_available"`
	Models          []transcribe.Model `json:"models,omitempty"`
	Error           string             `json:"error,omitempty"`
}

type DiagnosticsHandler struct {
	stt ModelLister
}

func NewDiagnosticsHandler(stt ModelLister) *DiagnosticsHandler {
	return &DiagnosticsHandler{stt: stt}
}

func (h *DiagnosticsHandler) Routes(r chi.Router) {
	r.Get("/diagnostics", h.Diagnostics)
}

// Diagnostics handles GET /api/v1/diagnostics by listing the speech models
// the configured key can use.
func (h *DiagnosticsHandler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), diagnosticsTimeout)
	defer cancel()

	resp := DiagnosticsResponse{
		Provider:        h.stt.Name(),
		ConfiguredModel: h.stt.Model(),
	}

	models, err := h.stt.ListModels(ctx)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("diagnostics: model listing failed")
		resp.Status = "error"
		resp.Error = err.Error()
		WriteJSON(w, http.StatusBadGateway, resp)
		return
	}

	resp.Status = "ok"
	resp.Models = models
	for _, m := range models {
		if m.ID == resp.ConfiguredModel {
			resp.ModelAvailable = true
			break
		}
	}
	if resp.Models == nil {
		resp.Models = []transcribe.Model{}
	}
	WriteJSON(w, http.StatusOK, resp)
}
