package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/neutts-openai/internal/envvar"
)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	// Development enables colored, human-readable debug logs.
	Development Environment = "development"

	// Production enables JSON logs at info level.
	Production Environment = "production"

	// Test is used by test helpers; logs are kept quiet.
	Test Environment = "test"
)

// FromEnv reads the environment from NEUTTS_ENV, defaulting to development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.NeuTTSEnv))
}

// Parse converts a raw value into an Environment. Unknown values fall back to
// development.
func Parse(raw string) Environment {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production":
		return Production
	case "test":
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether e is the production environment.
func (e Environment) IsProduction() bool {
	return e == Production
}
