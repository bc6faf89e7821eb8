package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/neutts-openai/internal/service"
)

type (
	VoiceDTO struct {
		VoiceID      string `json:"voice_id"`
		Name         string `json:"name"`
		Language     string `json:"language"`
		HasReference bool   `json:"has_reference" doc:"Whether a reference transcript exists"`
		Builtin      bool   `json:"builtin"`
	}

	ListVoicesOutput struct {
		Body struct {
			Voices []VoiceDTO `json:"voices"`
		}
	}

	ReloadVoicesOutput struct {
		Body struct {
			Success bool     `json:"success"`
			Voices  []string `json:"available_voices"`
		}
	}
)

// VoicesHandler handles the voice listing endpoints.
type VoicesHandler struct {
	service *service.Speech
}

// NewVoicesHandler registers the voice operations on api.
func NewVoicesHandler(api huma.API, service *service.Speech) *VoicesHandler {
	h := &VoicesHandler{service: service}

	huma.Register(api, huma.Operation{
		OperationID: "list-voices",
		Method:      http.MethodGet,
		Path:        "/v1/voices",
		Summary:     "List available voices",
		Tags:        []string{"voices"},
	}, h.handleList)

	huma.Register(api, huma.Operation{
		OperationID: "reload-voices",
		Method:      http.MethodPost,
		Path:        "/v1/voices/reload",
		Summary:     "Rescan the voice directories",
		Tags:        []string{"voices"},
	}, h.handleReload)

	return h
}

func (h *VoicesHandler) handleList(_ context.Context, _ *struct{}) (*ListVoicesOutput, error) {
	out := &ListVoicesOutput{}
	out.Body.Voices = []VoiceDTO{}

	for _, v := range h.service.Voices().List() {
		out.Body.Voices = append(out.Body.Voices, VoiceDTO{
			VoiceID:      v.ID,
			Name:         v.Name,
			Language:     v.Language,
			HasReference: v.HasReference(),
			Builtin:      v.Builtin(),
		})
	}

	return out, nil
}

func (h *VoicesHandler) handleReload(ctx context.Context, _ *struct{}) (*ReloadVoicesOutput, error) {
	ids, err := h.service.Reload(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}

	out := &ReloadVoicesOutput{}
	out.Body.Success = true
	out.Body.Voices = ids
	if out.Body.Voices == nil {
		out.Body.Voices = []string{}
	}

	return out, nil
}
