package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/neutts-openai/internal/config"
)

type recordedRun struct {
	name string
	args []string
	env  []string
}

func fakeDownloader(t *testing.T, fail int) (*HuggingFaceDownloader, *[]recordedRun) {
	t.Helper()

	var runs []recordedRun
	d := NewHuggingFaceDownloader("/cache/hf")
	d.retryDelay = 0
	d.run = func(_ context.Context, name string, args []string, env []string) ([]byte, error) {
		runs = append(runs, recordedRun{name: name, args: args, env: env})
		if len(runs) <= fail {
			return []byte("boom"), errors.New("exit status 1")
		}
		return nil, nil
	}

	return d, &runs
}

func hfSpec(repo, revision string) *config.ModelSpec {
	return &config.ModelSpec{
		ID:  config.ModelIDBackbone,
		Ref: repo,
		Source: config.SourceConfig{
			HuggingFace: &config.HuggingFaceSource{Repo: repo, Revision: revision, Token: "hf_x"},
		},
	}
}

func TestHuggingFaceDownloader_Download(t *testing.T) {
	target := t.TempDir()
	d, runs := fakeDownloader(t, 0)

	path, cached, err := d.Download(context.Background(), hfSpec("neuphonic/neucodec", "main"), target)
	require.NoError(t, err)

	assert.False(t, cached)
	assert.Equal(t, filepath.Join(target, "neuphonic", "neucodec"), path)
	require.Len(t, *runs, 1)

	run := (*runs)[0]
	assert.Equal(t, "hf", run.name)
	assert.Equal(t, []string{
		"download", "neuphonic/neucodec",
		"--local-dir", path,
		"--revision", "main",
		"--token", "hf_x",
	}, run.args)
	assert.Equal(t, []string{"HF_HOME=/cache/hf"}, run.env)
	assert.FileExists(t, filepath.Join(path, markerFilename))
}

func TestHuggingFaceDownloader_SkipsWhenMarkerMatches(t *testing.T) {
	target := t.TempDir()
	d, runs := fakeDownloader(t, 0)

	_, _, err := d.Download(context.Background(), hfSpec("neuphonic/neucodec", ""), target)
	require.NoError(t, err)

	_, cached, err := d.Download(context.Background(), hfSpec("neuphonic/neucodec", ""), target)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Len(t, *runs, 1)

	_, cached, err = d.Download(context.Background(), hfSpec("neuphonic/neucodec", "v2"), target)
	require.NoError(t, err)
	assert.False(t, cached, "a changed revision invalidates the marker")
	assert.Len(t, *runs, 2)
}

func TestHuggingFaceDownloader_Retries(t *testing.T) {
	d, runs := fakeDownloader(t, 2)

	_, _, err := d.Download(context.Background(), hfSpec("neuphonic/neutts-air", ""), t.TempDir())
	require.NoError(t, err)
	assert.Len(t, *runs, 3)
}

func TestHuggingFaceDownloader_GivesUp(t *testing.T) {
	d, runs := fakeDownloader(t, 10)

	_, _, err := d.Download(context.Background(), hfSpec("neuphonic/neutts-air", ""), t.TempDir())
	require.ErrorContains(t, err, "after 3 attempts")
	assert.Len(t, *runs, defaultMaxRetries)
}

func TestHuggingFaceDownloader_RejectsOtherSources(t *testing.T) {
	d, _ := fakeDownloader(t, 0)

	spec := &config.ModelSpec{Source: config.SourceConfig{Local: &config.LocalSource{Path: "/x"}}}
	_, _, err := d.Download(context.Background(), spec, t.TempDir())
	require.ErrorContains(t, err, "invalid source type")
}

func TestLocalDownloader(t *testing.T) {
	dir := t.TempDir()
	spec := &config.ModelSpec{Source: config.SourceConfig{Local: &config.LocalSource{Path: dir}}}

	path, cached, err := (&LocalDownloader{}).Download(context.Background(), spec, "")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, dir, path)

	spec.Source.Local.Path = filepath.Join(dir, "missing")
	_, _, err = (&LocalDownloader{}).Download(context.Background(), spec, "")
	require.Error(t, err)
}

func TestGetDownloader(t *testing.T) {
	d, err := GetDownloader(context.Background(), config.SourceTypeHuggingFace, config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &HuggingFaceDownloader{}, d)

	d, err = GetDownloader(context.Background(), config.SourceTypeLocal, config.StorageConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LocalDownloader{}, d)

	_, err = GetDownloader(context.Background(), "s3", config.StorageConfig{})
	assert.ErrorIs(t, err, ErrUnsupportedSource)
}

func TestEnsureModelsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")

	require.NoError(t, EnsureModelsDirectory(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
