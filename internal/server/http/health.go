package http

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/neutts-openai/internal/service"
)

const (
	serviceName    = "NeuTTS German OpenAI API"
	serviceVersion = "1.0.0"
)

type (
	HealthOutput struct {
		Status int
		Body   service.Health
	}

	InfoOutput struct {
		Body struct {
			Service string `json:"service"`
			Version string `json:"version"`
			Docs    string `json:"docs"`
			Health  string `json:"health"`
			Voices  string `json:"voices"`
		}
	}
)

// HealthHandler reports readiness and service information.
type HealthHandler struct {
	service *service.Speech
}

// NewHealthHandler registers the health and info operations on api.
func NewHealthHandler(api huma.API, service *service.Speech) *HealthHandler {
	h := &HealthHandler{service: service}

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Report readiness",
		Tags:        []string{"health"},
		Responses: map[string]*huma.Response{
			"503": {Description: "Model still loading or failed to load"},
		},
	}, h.handleHealth)

	huma.Register(api, huma.Operation{
		OperationID: "info",
		Method:      http.MethodGet,
		Path:        "/",
		Summary:     "Service information",
		Tags:        []string{"health"},
		Middlewares: huma.Middlewares{exactRoot(api)},
	}, h.handleInfo)

	return h
}

func (h *HealthHandler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	health := h.service.Health()

	status := http.StatusOK
	if health.State != service.StateReady {
		status = http.StatusServiceUnavailable
	}

	return &HealthOutput{Status: status, Body: health}, nil
}

func (h *HealthHandler) handleInfo(_ context.Context, _ *struct{}) (*InfoOutput, error) {
	out := &InfoOutput{}
	out.Body.Service = serviceName
	out.Body.Version = serviceVersion
	out.Body.Docs = "/docs"
	out.Body.Health = "/health"
	out.Body.Voices = "/v1/voices"

	return out, nil
}

// exactRoot rejects paths other than "/". The mux pattern for "/" matches
// every GET path that no other route claims.
func exactRoot(api huma.API) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if ctx.URL().Path != "/" {
			_ = huma.WriteErr(api, ctx, http.StatusNotFound, "no route for "+ctx.Method()+" "+ctx.URL().Path)
			return
		}
		next(ctx)
	}
}
