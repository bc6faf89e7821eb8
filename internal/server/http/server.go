// Package http exposes the speech service as an OpenAI compatible REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/ekisa-team/neutts-openai/internal/metrics"
	"github.com/ekisa-team/neutts-openai/internal/service"
)

// Options configures a Server.
type Options struct {
	Metrics        *metrics.Metrics
	Addr           string
	RequestTimeout time.Duration
}

// Server is the HTTP front of the speech service.
type Server struct {
	api     huma.API
	handler http.Handler
	srv     *http.Server
}

// New builds the API and registers every handler.
func New(speech *service.Speech, opts Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig(serviceName, serviceVersion)
	config.Info.Description = "OpenAI compatible text-to-speech backed by NeuTTS."
	// No $schema links in response bodies.
	config.CreateHooks = nil

	api := humago.New(mux, config)

	NewSpeechHandler(api, speech, opts.RequestTimeout)
	NewVoicesHandler(api, speech)
	NewHealthHandler(api, speech)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	handler := withRequestID(withAccessLog(mux, opts.Metrics))

	return &Server{
		api:     api,
		handler: handler,
		srv: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// API returns the huma API, mainly for tests.
func (s *Server) API() huma.API {
	return s.api
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("HTTP server listening", "addr", l.Addr().String())

	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
