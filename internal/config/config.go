package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ekisa-team/neutts-openai/internal/xfs"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"

	// SourceTypeLocal represents a model that already lives on disk.
	SourceTypeLocal SourceType = "local"
)

// Backend providers understood by the service.
const (
	BackendNeuTTS = "neutts"
	BackendPiper  = "piper"
)

// Model identifiers of the two artifacts the neutts backend needs.
const (
	ModelIDBackbone = "backbone"
	ModelIDCodec    = "codec"
)

// ErrNoSource is returned by GetSource when a model is handed to the backend
// by reference only (no download, no local directory).
var ErrNoSource = errors.New("no source configured for model")

// Config holds the main configuration for the application.
type Config struct {
	Version string        `json:"version,omitempty" toml:"version,omitempty" yaml:"version,omitempty"`
	Server  ServerConfig  `json:"server"            toml:"server"            yaml:"server"`
	Model   ModelConfig   `json:"model"             toml:"model"             yaml:"model"`
	Piper   PiperConfig   `json:"piper"             toml:"piper"             yaml:"piper"`
	Voices  VoicesConfig  `json:"voices"            toml:"voices"            yaml:"voices"`
	Storage StorageConfig `json:"storage"           toml:"storage"           yaml:"storage"`
	Audio   AudioConfig   `json:"audio"             toml:"audio"             yaml:"audio"`
	Archive ArchiveConfig `json:"archive"           toml:"archive"           yaml:"archive"`
	Log     LogConfig     `json:"log"               toml:"log"               yaml:"log"`
}

// ServerConfig holds the listener and request handling settings.
type ServerConfig struct {
	Host                   string `env:"HOST"                     json:"host"                     toml:"host"                     yaml:"host"`
	Port                   int    `env:"PORT"                     json:"port"                     toml:"port"                     yaml:"port"`
	GRPCPort               int    `env:"GRPC_PORT"                json:"grpc_port"                toml:"grpc_port"                yaml:"grpc_port"`
	MaxConcurrency         int    `env:"MAX_CONCURRENCY"          json:"max_concurrency"          toml:"max_concurrency"          yaml:"max_concurrency"`
	RequestTimeoutSeconds  int    `env:"REQUEST_TIMEOUT_SECONDS"  json:"request_timeout_seconds"  toml:"request_timeout_seconds"  yaml:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" json:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// ModelConfig describes the backbone/codec pair and the worker running them.
type ModelConfig struct {
	Backend             string `env:"TTS_BACKEND"                  json:"backend"               toml:"backend"               yaml:"backend"`
	Repo                string `env:"MODEL_REPO"                   json:"repo"                  toml:"repo"                  yaml:"repo"`
	Revision            string `env:"MODEL_REVISION"               json:"revision,omitempty"    toml:"revision,omitempty"    yaml:"revision,omitempty"`
	CodecRepo           string `env:"CODEC_REPO"                   json:"codec_repo"            toml:"codec_repo"            yaml:"codec_repo"`
	CodecRevision       string `env:"CODEC_REVISION"               json:"codec_revision,omitempty" toml:"codec_revision,omitempty" yaml:"codec_revision,omitempty"`
	BackboneDevice      string `env:"BACKBONE_DEVICE"              json:"backbone_device"       toml:"backbone_device"       yaml:"backbone_device"`
	CodecDevice         string `env:"CODEC_DEVICE"                 json:"codec_device"          toml:"codec_device"          yaml:"codec_device"`
	Download            bool   `env:"MODEL_DOWNLOAD"               json:"download"              toml:"download"              yaml:"download"`
	HFToken             string `env:"HF_TOKEN"                     json:"hf_token,omitempty"    toml:"hf_token,omitempty"    yaml:"hf_token,omitempty"`
	WorkerBin           string `env:"NEUTTS_WORKER_BIN"            json:"worker_bin"            toml:"worker_bin"            yaml:"worker_bin"`
	WorkerURL           string `env:"NEUTTS_WORKER_URL"            json:"worker_url,omitempty"  toml:"worker_url,omitempty"  yaml:"worker_url,omitempty"`
	WorkerPort          int    `env:"NEUTTS_WORKER_PORT"           json:"worker_port"           toml:"worker_port"           yaml:"worker_port"`
	ReadyTimeoutSeconds int    `env:"NEUTTS_READY_TIMEOUT_SECONDS" json:"ready_timeout_seconds" toml:"ready_timeout_seconds" yaml:"ready_timeout_seconds"`
	InferTimeoutSeconds int    `env:"INFER_TIMEOUT_SECONDS"        json:"infer_timeout_seconds" toml:"infer_timeout_seconds" yaml:"infer_timeout_seconds"`
}

// PiperConfig holds settings for the piper backend.
type PiperConfig struct {
	BinaryPath string `env:"PIPER_BINARY_PATH" json:"binary_path" toml:"binary_path" yaml:"binary_path"`
	ModelPath  string `env:"PIPER_MODEL_PATH"  json:"model_path"  toml:"model_path"  yaml:"model_path"`
}

// VoicesConfig holds the voice directories and lookup behaviour.
type VoicesConfig struct {
	Dir          string            `env:"VOICES_DIR"     json:"dir"           toml:"dir"           yaml:"dir"`
	SamplesDir   string            `env:"SAMPLES_DIR"    json:"samples_dir"   toml:"samples_dir"   yaml:"samples_dir"`
	DefaultVoice string            `env:"DEFAULT_VOICE"  json:"default_voice" toml:"default_voice" yaml:"default_voice"`
	Language     string            `env:"VOICE_LANGUAGE" json:"language"      toml:"language"      yaml:"language"`
	Aliases      map[string]string `env:"VOICE_ALIASES"  json:"aliases"       toml:"aliases"       yaml:"aliases"`
	Watch        bool              `env:"VOICES_WATCH"   json:"watch"         toml:"watch"         yaml:"watch"`
}

// StorageConfig holds configuration for caching and auto-download.
type StorageConfig struct {
	ModelsDir string `env:"MODELS_DIR" json:"models_dir,omitempty" toml:"models_dir,omitempty" yaml:"models_dir,omitempty"`
	HFHome    string `env:"HF_HOME"    json:"hf_home,omitempty"    toml:"hf_home,omitempty"    yaml:"hf_home,omitempty"`
}

// AudioConfig holds output encoding settings.
type AudioConfig struct {
	FFmpegPath           string `env:"FFMPEG_PATH"            json:"ffmpeg_path"            toml:"ffmpeg_path"            yaml:"ffmpeg_path"`
	Bitrate              string `env:"AUDIO_BITRATE"          json:"bitrate"                toml:"bitrate"                yaml:"bitrate"`
	PCMSampleRate        int    `env:"PCM_SAMPLE_RATE"        json:"pcm_sample_rate"        toml:"pcm_sample_rate"        yaml:"pcm_sample_rate"`
	EncodeTimeoutSeconds int    `env:"ENCODE_TIMEOUT_SECONDS" json:"encode_timeout_seconds" toml:"encode_timeout_seconds" yaml:"encode_timeout_seconds"`
}

// ArchiveConfig enables copying every encoded response into a NATS object store.
type ArchiveConfig struct {
	NATSURL string `env:"NATS_URL"             json:"nats_url,omitempty" toml:"nats_url,omitempty" yaml:"nats_url,omitempty"`
	Bucket  string `env:"AUDIO_ARCHIVE_BUCKET" json:"bucket"             toml:"bucket"             yaml:"bucket"`
}

// LogConfig holds file logging settings.
type LogConfig struct {
	File   string `env:"LOG_FILE"    json:"file"    toml:"file"    yaml:"file"`
	ToFile bool   `env:"LOG_TO_FILE" json:"to_file" toml:"to_file" yaml:"to_file"`
}

// Enabled reports whether archiving is configured.
func (a ArchiveConfig) Enabled() bool {
	return a.NATSURL != ""
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RequestTimeout returns the per-request deadline.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown deadline.
func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeoutSeconds) * time.Second
}

// ReadyTimeout returns how long the worker may take to become healthy.
func (m ModelConfig) ReadyTimeout() time.Duration {
	return time.Duration(m.ReadyTimeoutSeconds) * time.Second
}

// InferTimeout returns the deadline of a single inference call.
func (m ModelConfig) InferTimeout() time.Duration {
	return time.Duration(m.InferTimeoutSeconds) * time.Second
}

// EncodeTimeout returns the deadline of a single transcoding run.
func (a AudioConfig) EncodeTimeout() time.Duration {
	return time.Duration(a.EncodeTimeoutSeconds) * time.Second
}

// Validate checks values that the schema cannot express or that came from
// the environment.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if c.Server.GRPCPort != 0 && c.Server.GRPCPort == c.Server.Port {
		errs = append(errs, fmt.Errorf("server.grpc_port must differ from server.port"))
	}
	if c.Server.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("server.max_concurrency must be at least 1"))
	}
	if !slices.Contains([]string{BackendNeuTTS, BackendPiper}, c.Model.Backend) {
		errs = append(errs, fmt.Errorf("model.backend %q is not supported", c.Model.Backend))
	}
	if c.Model.Backend == BackendNeuTTS {
		if c.Model.Repo == "" || c.Model.CodecRepo == "" {
			errs = append(errs, fmt.Errorf("model.repo and model.codec_repo are required"))
		}
		if c.Model.WorkerURL == "" && c.Model.WorkerBin == "" {
			errs = append(errs, fmt.Errorf("one of model.worker_bin or model.worker_url is required"))
		}
	}
	if c.Model.Backend == BackendPiper && c.Piper.ModelPath == "" {
		errs = append(errs, fmt.Errorf("piper.model_path is required"))
	}
	if c.Voices.DefaultVoice == "" {
		errs = append(errs, fmt.Errorf("voices.default_voice is required"))
	}
	if c.Audio.PCMSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.pcm_sample_rate must be positive"))
	}

	return errors.Join(errs...)
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
	Local       *LocalSource       `json:"local,omitempty"       yaml:"local,omitempty"`
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// LocalSource is a model directory that already exists on disk.
type LocalSource struct {
	Path string `json:"path" yaml:"path"`
}

// Type returns the local source type.
func (l LocalSource) Type() SourceType {
	return SourceTypeLocal
}

// ModelSpec is one artifact the backend needs, together with where it comes from.
type ModelSpec struct {
	Source SourceConfig
	ID     string
	Ref    string
}

// GetSource returns the active source for the model.
func (m *ModelSpec) GetSource() (ModelSource, error) {
	if m.Source.Local != nil {
		return *m.Source.Local, nil
	}
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, ErrNoSource
}

// Specs returns the artifacts the configured backend needs. A reference that
// names an existing directory is used in place; otherwise it is downloaded
// from Hugging Face when downloads are enabled, and handed to the worker
// verbatim when they are not.
func (m ModelConfig) Specs() []ModelSpec {
	if m.Backend != BackendNeuTTS {
		return nil
	}

	return []ModelSpec{
		m.spec(ModelIDBackbone, m.Repo, m.Revision),
		m.spec(ModelIDCodec, m.CodecRepo, m.CodecRevision),
	}
}

func (m ModelConfig) spec(id, ref, revision string) ModelSpec {
	spec := ModelSpec{ID: id, Ref: ref}

	switch expanded := xfs.ExpandTilde(ref); {
	case xfs.IsDir(expanded):
		spec.Source.Local = &LocalSource{Path: expanded}
	case m.Download:
		spec.Source.HuggingFace = &HuggingFaceSource{
			Repo:     ref,
			Revision: revision,
			Token:    m.HFToken,
		}
	}

	return spec
}
