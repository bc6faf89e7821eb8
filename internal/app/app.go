// Package app assembles the service from its configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/ekisa-team/neutts-openai/internal/archive"
	"github.com/ekisa-team/neutts-openai/internal/audio"
	"github.com/ekisa-team/neutts-openai/internal/backend"
	"github.com/ekisa-team/neutts-openai/internal/backend/neutts"
	"github.com/ekisa-team/neutts-openai/internal/backend/piper"
	"github.com/ekisa-team/neutts-openai/internal/config"
	"github.com/ekisa-team/neutts-openai/internal/env"
	"github.com/ekisa-team/neutts-openai/internal/logger"
	"github.com/ekisa-team/neutts-openai/internal/metrics"
	"github.com/ekisa-team/neutts-openai/internal/model"
	grpcserver "github.com/ekisa-team/neutts-openai/internal/server/grpc"
	httpserver "github.com/ekisa-team/neutts-openai/internal/server/http"
	"github.com/ekisa-team/neutts-openai/internal/service"
	"github.com/ekisa-team/neutts-openai/internal/voice"
)

// Options are the command line overrides.
type Options struct {
	Environment env.Environment
	ConfigPath  string
	HTTPPort    int
	GRPCPort    int
}

// App owns every long lived component.
type App struct {
	cfg      *config.Config
	watcher  *config.Watcher
	metrics  *metrics.Metrics
	models   *model.Manager
	backends *backend.Registry
	servers  *backend.ServerManager
	voices   *voice.Registry
	speech   *service.Speech
	archive  *archive.Archive
	http     *httpserver.Server
	grpc     *grpcserver.Server
	provider backend.BackendProvider
}

// New loads the configuration and builds the service. Nothing is started
// and no model is loaded yet.
func New(opts Options) (*App, error) {
	a := &App{
		metrics:  metrics.New(),
		models:   model.NewManager(),
		backends: backend.NewRegistry(),
		servers:  backend.NewServerManager(),
	}

	if err := a.loadConfig(opts); err != nil {
		return nil, err
	}
	cfg := a.cfg

	slog.SetDefault(logger.New(opts.Environment,
		logger.WithLogToFile(cfg.Log.ToFile),
		logger.WithLogFile(cfg.Log.File),
	))

	a.provider = backend.BackendProvider(cfg.Model.Backend)

	var encoder backend.ReferenceEncoder
	if a.provider == backend.BackendProviderNeuTTS {
		encoder = registryEncoder{backends: a.backends, provider: a.provider}
	}

	a.voices = voice.NewRegistry(voice.Options{
		Aliases:    cfg.Voices.Aliases,
		OnReload:   a.metrics.ObserveVoiceReload,
		BuiltinDir: cfg.Voices.SamplesDir,
		CustomDir:  cfg.Voices.Dir,
		Language:   cfg.Voices.Language,
	}, encoder)

	var ffmpeg *backend.Executor
	if exec, err := backend.NewExecutor(cfg.Audio.FFmpegPath, cfg.Audio.EncodeTimeout()); err != nil {
		slog.Warn("ffmpeg not found, only wav and pcm output is available", "path", cfg.Audio.FFmpegPath, "error", err)
	} else {
		ffmpeg = exec
	}

	svcOpts := service.Options{
		Metrics:        a.metrics,
		Models:         a.models.Registry(),
		Provider:       a.provider,
		DefaultVoice:   cfg.Voices.DefaultVoice,
		MaxConcurrency: cfg.Server.MaxConcurrency,
	}

	if cfg.Archive.Enabled() {
		arc, err := archive.Connect(cfg.Archive.NATSURL, cfg.Archive.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to set up audio archive: %w", err)
		}
		a.archive = arc
		svcOpts.Archiver = arc
		slog.Info("Archiving speech to NATS object store", "url", cfg.Archive.NATSURL, "bucket", cfg.Archive.Bucket)
	}

	a.speech = service.NewSpeech(a.backends, a.voices,
		audio.NewEncoder(ffmpeg, cfg.Audio.Bitrate, cfg.Audio.PCMSampleRate), svcOpts)

	a.http = httpserver.New(a.speech, httpserver.Options{
		Metrics:        a.metrics,
		Addr:           cfg.Server.Addr(),
		RequestTimeout: cfg.Server.RequestTimeout(),
	})

	if cfg.Server.GRPCPort > 0 {
		a.grpc = grpcserver.New(grpcserver.Options{
			Addr:       cfg.Server.Host + ":" + strconv.Itoa(cfg.Server.GRPCPort),
			Reflection: true,
		})
	}

	if err := a.watchConfig(opts.ConfigPath); err != nil {
		if a.archive != nil {
			a.archive.Close()
		}
		return nil, err
	}

	return a, nil
}

func (a *App) loadConfig(opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	if opts.HTTPPort > 0 {
		cfg.Server.Port = opts.HTTPPort
	}
	if opts.GRPCPort > 0 {
		cfg.Server.GRPCPort = opts.GRPCPort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	return nil
}

// watchConfig starts the config watcher once everything its callback touches
// exists, then applies the watcher's own load in case the file changed since
// loadConfig.
func (a *App) watchConfig(path string) error {
	if path == "" {
		return nil
	}

	w, err := config.NewWatcher(path, a.onConfigReload)
	if err != nil {
		return err
	}
	a.watcher = w
	a.onConfigReload(w.Snapshot(), nil)

	return nil
}

// onConfigReload applies the settings that can change without a restart.
func (a *App) onConfigReload(cfg *config.Config, err error) {
	if err != nil {
		slog.Error("Failed to reload config, keeping the previous one", "error", err)
		return
	}

	a.voices.SetAliases(cfg.Voices.Aliases)
	a.speech.SetDefaultVoice(cfg.Voices.DefaultVoice)

	slog.Info("Config reloaded", "default_voice", cfg.Voices.DefaultVoice, "aliases", len(cfg.Voices.Aliases))
}

// Config returns the effective configuration at startup.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Run serves until ctx is done or a server fails. Models load in the
// background; until then /health reports 503.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	go func() {
		errCh <- a.http.ListenAndServe()
	}()
	if a.grpc != nil {
		go func() {
			errCh <- a.grpc.ListenAndServe()
		}()
	}

	go a.load(ctx)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case runErr = <-errCh:
		slog.Error("Server stopped unexpectedly", "error", runErr)
	}

	// Abort a model load that is still in progress.
	cancel()
	a.shutdown()
	return runErr
}

// load prepares the models, starts the backend and scans the voices.
func (a *App) load(ctx context.Context) {
	if err := a.startBackend(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		a.models.MarkFailed(err)
		a.speech.MarkFailed(err)
		return
	}
	a.models.MarkLoaded()

	if _, err := a.voices.Reload(ctx); err != nil {
		slog.Error("Initial voice scan failed", "error", err)
	}

	a.speech.MarkReady()
	if a.grpc != nil {
		a.grpc.SetServing(true)
	}

	if a.cfg.Voices.Watch {
		if err := os.MkdirAll(a.cfg.Voices.Dir, 0o755); err != nil {
			slog.Warn("Cannot create voices directory", "dir", a.cfg.Voices.Dir, "error", err)
		}
		go func() {
			if err := a.voices.Watch(ctx); err != nil {
				slog.Warn("Not watching voices directory", "error", err)
			}
		}()
	}
}

func (a *App) startBackend(ctx context.Context) error {
	paths, err := a.models.Prepare(ctx, a.cfg)
	if err != nil {
		return err
	}

	b, err := a.newBackend(paths)
	if err != nil {
		return err
	}

	if loader, ok := b.(backend.Loader); ok {
		slog.Info("Loading TTS backend", "provider", b.Provider())
		if err := loader.Load(ctx); err != nil {
			_ = b.Close()
			return fmt.Errorf("failed to load %s backend: %w", b.Provider(), err)
		}
	}

	if err := a.backends.Register(b); err != nil {
		_ = b.Close()
		return err
	}

	slog.Info("TTS backend loaded", "provider", b.Provider(), "sample_rate", b.SampleRate())
	return nil
}

func (a *App) newBackend(paths map[string]string) (backend.Backend, error) {
	cfg := a.cfg

	switch a.provider {
	case backend.BackendProviderNeuTTS:
		return neutts.NewBackend(neutts.Options{
			WorkerBin:      cfg.Model.WorkerBin,
			WorkerURL:      cfg.Model.WorkerURL,
			Backbone:       paths[config.ModelIDBackbone],
			Codec:          paths[config.ModelIDCodec],
			BackboneDevice: cfg.Model.BackboneDevice,
			CodecDevice:    cfg.Model.CodecDevice,
			HFHome:         cfg.Storage.HFHome,
			HFToken:        cfg.Model.HFToken,
			Port:           cfg.Model.WorkerPort,
			ReadyTimeout:   cfg.Model.ReadyTimeout(),
			InferTimeout:   cfg.Model.InferTimeout(),
		}, a.servers), nil

	case backend.BackendProviderPiper:
		return piper.NewBackend(cfg.Piper.BinaryPath, cfg.Piper.ModelPath, cfg.Model.InferTimeout())

	default:
		return nil, fmt.Errorf("%w: %s", backend.ErrNotFound, a.provider)
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := a.http.Shutdown(ctx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if a.grpc != nil {
		a.grpc.Stop(ctx)
	}

	a.speech.Close()

	if err := a.backends.Close(); err != nil {
		slog.Error("Failed to close backends", "error", err)
	}
	a.servers.StopAll()

	if a.archive != nil {
		a.archive.Close()
	}
	a.closeWatcher()

	slog.Info("Shutdown complete")
}

func (a *App) closeWatcher() {
	if a.watcher == nil {
		return
	}
	if err := a.watcher.Close(); err != nil {
		slog.Warn("Failed to close config watcher", "error", err)
	}
}

// registryEncoder encodes references with whatever backend is registered
// for provider, so voices can be scanned once the backend has loaded.
type registryEncoder struct {
	backends *backend.Registry
	provider backend.BackendProvider
}

func (e registryEncoder) EncodeReference(ctx context.Context, path string) ([]int32, error) {
	b, ok := e.backends.Get(e.provider)
	if !ok {
		return nil, backend.ErrNotLoaded
	}

	enc, ok := b.(backend.ReferenceEncoder)
	if !ok {
		return nil, errors.New("backend cannot encode reference audio")
	}

	return enc.EncodeReference(ctx, path)
}
