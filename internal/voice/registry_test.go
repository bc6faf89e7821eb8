package voice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEncoder struct {
	calls atomic.Int32
	fail  map[string]bool
	delay time.Duration
}

func (e *countingEncoder) EncodeReference(_ context.Context, path string) ([]int32, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	if e.fail[filepath.Base(path)] {
		return nil, errors.New("corrupt wav")
	}
	return []int32{int32(len(path))}, nil
}

func writeVoice(t *testing.T, dir, id, transcript string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+".wav"), []byte("RIFF"+id), 0o600))
	if transcript != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, id+".txt"), []byte(transcript), 0o600))
	}
}

type fixture struct {
	registry *Registry
	encoder  *countingEncoder
	builtin  string
	custom   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		encoder: &countingEncoder{},
		builtin: filepath.Join(root, "samples"),
		custom:  filepath.Join(root, "voices"),
	}

	writeVoice(t, f.builtin, "greta", "  Hallo, ich bin Greta.\n")
	writeVoice(t, f.builtin, "mateo", "")
	writeVoice(t, f.builtin, "juliette", "Bonjour.")

	f.registry = NewRegistry(Options{
		BuiltinDir: f.builtin,
		CustomDir:  f.custom,
		Language:   "de",
		Aliases:    map[string]string{"coral": "greta", "dave": "greta"},
	}, f.encoder)

	return f
}

func TestRegistry_Scan(t *testing.T) {
	f := newFixture(t)
	writeVoice(t, f.custom, "anna", "Ich bin Anna.")
	writeVoice(t, f.custom, "greta", "")
	require.NoError(t, os.WriteFile(filepath.Join(f.custom, "notes.txt"), []byte("x"), 0o600))

	ids, err := f.registry.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"greta", "juliette", "mateo", "anna"}, ids)

	greta, ok := f.registry.Get("greta")
	require.True(t, ok)
	assert.True(t, greta.Builtin(), "custom voices never shadow built-ins")
	assert.Equal(t, "Hallo, ich bin Greta.", greta.Text)
	assert.Equal(t, "German Greta (built-in)", greta.Name)
	assert.True(t, greta.HasReference())
	assert.NotEmpty(t, greta.Codes)

	mateo, _ := f.registry.Get("mateo")
	assert.False(t, mateo.HasReference())

	anna, _ := f.registry.Get("anna")
	assert.Equal(t, OriginCustom, anna.Origin)
	assert.Equal(t, "Custom voice: anna", anna.Name)
	assert.Equal(t, "de", anna.Language)
}

func TestRegistry_MissingCustomDir(t *testing.T) {
	f := newFixture(t)

	ids, err := f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestRegistry_EncodingFailureSkipsVoice(t *testing.T) {
	f := newFixture(t)
	f.encoder.fail = map[string]bool{"broken.wav": true}
	writeVoice(t, f.custom, "broken", "")
	writeVoice(t, f.custom, "anna", "")

	ids, err := f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"greta", "juliette", "mateo", "anna"}, ids)
}

func TestRegistry_ReloadReusesCodes(t *testing.T) {
	f := newFixture(t)

	_, err := f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.encoder.calls.Load())

	_, err = f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), f.encoder.calls.Load(), "unchanged files are not re-encoded")

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(f.builtin, "mateo.wav"), later, later))

	_, err = f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(4), f.encoder.calls.Load())
}

func TestRegistry_ReloadIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.encoder.delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.registry.Reload(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, f.encoder.calls.Load(), int32(6))
	assert.Equal(t, 3, f.registry.Len())
}

func TestRegistry_Resolve(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Reload(context.Background())
	require.NoError(t, err)

	v, err := f.registry.Resolve(context.Background(), "coral")
	require.NoError(t, err)
	assert.Equal(t, "greta", v.ID)

	v, err = f.registry.Resolve(context.Background(), "mateo")
	require.NoError(t, err)
	assert.Equal(t, "mateo", v.ID)

	_, err = f.registry.Resolve(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Voice 'nobody' not found. Available voices: greta, juliette, mateo")
}

func TestRegistry_ResolveReloadsOnMiss(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Reload(context.Background())
	require.NoError(t, err)

	writeVoice(t, f.custom, "anna", "")

	v, err := f.registry.Resolve(context.Background(), "anna")
	require.NoError(t, err)
	assert.Equal(t, "anna", v.ID)
	assert.Contains(t, f.registry.IDs(), "anna")
}

func TestRegistry_SetAliases(t *testing.T) {
	f := newFixture(t)
	_, err := f.registry.Reload(context.Background())
	require.NoError(t, err)

	f.registry.SetAliases(map[string]string{"alloy": "juliette"})

	v, err := f.registry.Resolve(context.Background(), "alloy")
	require.NoError(t, err)
	assert.Equal(t, "juliette", v.ID)

	_, err = f.registry.Resolve(context.Background(), "coral")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_WithoutEncoder(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry(f.registry.opts, nil)

	ids, err := r.Reload(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	v, _ := r.Get("greta")
	assert.Empty(t, v.Codes)
}

func TestRegistry_OnReload(t *testing.T) {
	f := newFixture(t)

	var got int
	f.registry.opts.OnReload = func(n int, _ time.Duration) { got = n }

	_, err := f.registry.Reload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "German Greta (built-in)", displayName("greta", OriginBuiltin, "de"))
	assert.Equal(t, "French Juliette (built-in)", displayName("juliette", OriginBuiltin, "fr"))
	assert.Equal(t, "Greta (built-in)", displayName("greta", OriginBuiltin, ""))
	assert.Equal(t, "Custom voice: anna", displayName("anna", OriginCustom, "de"))
}

func TestWatch_ReloadsOnNewFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.custom, 0o755))
	_, err := f.registry.Reload(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = f.registry.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeVoice(t, f.custom, "anna", "")

	assert.Eventually(t, func() bool {
		_, ok := f.registry.Get("anna")
		return ok
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatch_MissingDir(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.registry.Watch(context.Background()))
}
