package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ekisa-team/neutts-openai/internal/config"
)

// ErrUnsupportedSource is returned for source types without a downloader.
var ErrUnsupportedSource = errors.New("unsupported model source")

// Downloader makes a model available on local disk.
type Downloader interface {
	// Download returns the local directory holding the model and whether it
	// was already present.
	Download(ctx context.Context, spec *config.ModelSpec, targetDir string) (string, bool, error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, sourceType config.SourceType, storage config.StorageConfig) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeHuggingFace:
		return NewHuggingFaceDownloader(storage.HFHome), nil
	case config.SourceTypeLocal:
		return &LocalDownloader{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, sourceType)
	}
}

// EnsureModelsDirectory creates the models directory if needed and checks
// that it is writable.
func EnsureModelsDirectory(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	tmp, err := os.CreateTemp(path, ".write-tmp-*")
	if err != nil {
		return fmt.Errorf("models directory is not writable: %w", err)
	}
	name := tmp.Name()
	tmp.Close()

	return os.Remove(name)
}
