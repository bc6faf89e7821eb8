package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/ekisa-team/neutts-openai/internal/service"
)

// msgReferenceAudio is returned by /synthesize when a request carries its own
// reference recording.
const msgReferenceAudio = "Custom reference audio not yet supported via this endpoint. Use /v1/audio/speech with a registered voice."

// ErrorDetail is the body of an OpenAI style error.
type ErrorDetail struct {
	Message string `json:"message"         doc:"Human readable description"`
	Type    string `json:"type"            doc:"Error category"`
	Code    string `json:"code,omitempty"  doc:"Machine readable code"`
}

// APIError is the OpenAI error envelope. It replaces huma's problem+json
// errors so existing OpenAI clients can parse failures.
type APIError struct {
	status int
	Err    ErrorDetail `json:"error"`
}

func (e *APIError) Error() string {
	return e.Err.Message
}

// GetStatus implements huma.StatusError.
func (e *APIError) GetStatus() int {
	return e.status
}

// NewAPIError builds an APIError. Validation failures, which huma reports as
// 422, become 400 as OpenAI clients expect.
func NewAPIError(status int, msg string, errs ...error) huma.StatusError {
	if status == http.StatusUnprocessableEntity {
		status = http.StatusBadRequest
	}

	var details []string
	for _, err := range errs {
		if err != nil {
			details = append(details, err.Error())
		}
	}
	if len(details) > 0 {
		if msg == "" {
			msg = strings.Join(details, "; ")
		} else {
			msg += ": " + strings.Join(details, "; ")
		}
	}

	errType := "invalid_request_error"
	if status >= http.StatusInternalServerError {
		errType = "server_error"
	}

	return &APIError{
		status: status,
		Err: ErrorDetail{
			Message: msg,
			Type:    errType,
			Code:    strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_"),
		},
	}
}

func init() {
	huma.NewError = NewAPIError
}

// toHTTPError maps service errors onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, service.ErrVoiceNotFound):
		return NewAPIError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrReferenceAudioUnsupported):
		return NewAPIError(http.StatusBadRequest, msgReferenceAudio)
	case service.IsClientError(err):
		return NewAPIError(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrQueueTimeout):
		return NewAPIError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return NewAPIError(http.StatusServiceUnavailable, "request cancelled")
	default:
		return NewAPIError(http.StatusInternalServerError, "speech synthesis failed", err)
	}
}
