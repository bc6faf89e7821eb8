package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	envparse "github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.yaml.in/yaml/v3"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("neutts-openai.v1.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Load builds the effective configuration: defaults, then the optional file
// at path, then environment variables.
func Load(path string) (*Config, error) {
	return load(path, envparse.Options{})
}

// LoadWithEnvironment is Load with an explicit environment instead of the
// process one.
func LoadWithEnvironment(path string, environ map[string]string) (*Config, error) {
	return load(path, envparse.Options{Environment: environ})
}

func load(path string, opts envparse.Options) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		fileCfg, err := LoadAndValidate(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := envparse.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("config: failed to apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadAndValidate loads a YAML or TOML file on top of the defaults and
// validates it against the embedded schema.
func LoadAndValidate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config: %w", err)
	}

	unmarshal, err := decoderFor(path)
	if err != nil {
		return nil, err
	}

	var raw any
	if err := unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", filepath.Ext(path), err)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("config: failed to compile schema: %w", err)
	}

	if err := s.Validate(raw); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	cfg := Defaults()
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal into Config struct: %w", err)
	}

	return cfg, nil
}

func decoderFor(path string) (func([]byte, any) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal, nil
	case ".toml":
		return toml.Unmarshal, nil
	default:
		return nil, fmt.Errorf("config: unsupported config file extension %q", filepath.Ext(path))
	}
}
