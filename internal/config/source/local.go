package source

import (
	"context"
	"fmt"

	"github.com/ekisa-team/neutts-openai/internal/config"
	"github.com/ekisa-team/neutts-openai/internal/xfs"
)

// LocalDownloader resolves models that already live on disk.
type LocalDownloader struct{}

// Download checks that the local model directory exists and returns it.
func (d *LocalDownloader) Download(_ context.Context, spec *config.ModelSpec, _ string) (string, bool, error) {
	source, err := spec.GetSource()
	if err != nil {
		return "", false, fmt.Errorf("failed to get model source: %w", err)
	}

	local, ok := source.(config.LocalSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", source)
	}

	path := xfs.ExpandTilde(local.Path)
	if !xfs.IsDir(path) {
		return "", false, fmt.Errorf("local model directory %s does not exist", path)
	}

	return path, true, nil
}
