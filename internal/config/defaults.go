package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "neutts-openai"

// Defaults returns the configuration used when neither a config file nor the
// environment says otherwise. The values match the reference container image.
func Defaults() *Config {
	return &Config{
		Version: "1",
		Server: ServerConfig{
			Host:                   "0.0.0.0",
			Port:                   8136,
			MaxConcurrency:         1,
			RequestTimeoutSeconds:  300,
			ShutdownTimeoutSeconds: 15,
		},
		Model: ModelConfig{
			Backend:             BackendNeuTTS,
			Repo:                "neuphonic/neutts-nano-german-q4-gguf",
			CodecRepo:           "neuphonic/neucodec",
			BackboneDevice:      "cpu",
			CodecDevice:         "cpu",
			Download:            true,
			WorkerBin:           "neutts-worker",
			WorkerPort:          8137,
			ReadyTimeoutSeconds: 300,
			InferTimeoutSeconds: 120,
		},
		Piper: PiperConfig{
			BinaryPath: "piper",
			ModelPath:  "./models/de_DE-thorsten-medium.onnx",
		},
		Voices: VoicesConfig{
			Dir:          "/app/voices",
			SamplesDir:   "./samples",
			DefaultVoice: "greta",
			Language:     "de",
			Aliases: map[string]string{
				"coral": "greta",
				"dave":  "greta",
			},
			Watch: true,
		},
		Audio: AudioConfig{
			FFmpegPath:           "ffmpeg",
			Bitrate:              "128k",
			PCMSampleRate:        24000,
			EncodeTimeoutSeconds: 60,
		},
		Archive: ArchiveConfig{
			Bucket: "SPEECH_AUDIO",
		},
		Log: LogConfig{
			File: filepath.Join("logs", appName+".log"),
		},
	}
}

// DefaultConfigPath returns the default path for the config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName, "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", appName)
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultModelsPath returns the default path for the models directory.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", appName, "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", appName, "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", appName, "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, appName, "models")
		}
		return filepath.Join(home, ".cache", appName, "models")
	}
}
