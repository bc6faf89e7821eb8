package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ekisa-team/neutts-openai/internal/app"
	"github.com/ekisa-team/neutts-openai/internal/config"
	"github.com/ekisa-team/neutts-openai/internal/env"
	"github.com/ekisa-team/neutts-openai/internal/envvar"
	"github.com/ekisa-team/neutts-openai/internal/xfs"
)

func main() {
	var (
		flagHTTPPort   = flag.Int("http-port", 0, "HTTP port to listen on (overrides config and PORT)")
		flagGRPCPort   = flag.Int("grpc-port", 0, "gRPC health port to listen on (overrides config and GRPC_PORT)")
		flagConfigPath = flag.String("config", defaultConfigPath(), "Path to an optional YAML or TOML config file")
	)
	flag.Parse()

	a, err := app.New(app.Options{
		Environment: env.FromEnv(),
		ConfigPath:  *flagConfigPath,
		HTTPPort:    *flagHTTPPort,
		GRPCPort:    *flagGRPCPort,
	})
	if err != nil {
		slog.Error("Failed to start", "error", err)
		os.Exit(1)
	}

	slog.Info("Config loaded successfully", "config", *flagConfigPath, "backend", a.Config().Model.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
}

// defaultConfigPath prefers NEUTTS_CONFIG, then config.yaml in the user
// config directory if present. Empty means defaults and environment only.
func defaultConfigPath() string {
	if path := os.Getenv(envvar.NeuTTSConfigPath); path != "" {
		return path
	}

	path := filepath.Join(config.DefaultConfigPath(), "config.yaml")
	if xfs.IsFile(path) {
		return path
	}

	return ""
}
