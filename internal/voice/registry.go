package voice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ekisa-team/neutts-openai/internal/backend"
	"github.com/ekisa-team/neutts-openai/internal/xfs"
)

// Options configures a Registry.
type Options struct {
	// Aliases map request names to voice IDs, e.g. coral -> greta.
	Aliases map[string]string

	// OnReload, if set, is called after every completed scan.
	OnReload func(voices int, took time.Duration)

	// BuiltinDir holds the voices shipped with the service.
	BuiltinDir string

	// CustomDir holds user supplied voices. Custom voices never shadow
	// built-in ones.
	CustomDir string

	// Language is reported for every voice.
	Language string
}

// Registry holds the current voice snapshot. Each scan builds a new
// snapshot and swaps it in whole.
type Registry struct {
	encoder backend.ReferenceEncoder
	voices  map[string]*Voice
	aliases map[string]string
	group   singleflight.Group
	opts    Options
	order   []string
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry. encoder may be nil for backends
// without voice cloning.
func NewRegistry(opts Options, encoder backend.ReferenceEncoder) *Registry {
	return &Registry{
		opts:    opts,
		encoder: encoder,
		voices:  map[string]*Voice{},
		aliases: maps.Clone(opts.Aliases),
	}
}

// SetAliases replaces the alias table.
func (r *Registry) SetAliases(aliases map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.aliases = maps.Clone(aliases)
}

// Reload rescans both voice directories and returns the available IDs.
// Concurrent calls share one scan.
func (r *Registry) Reload(ctx context.Context) ([]string, error) {
	ids, err, _ := r.group.Do("reload", func() (any, error) {
		// Shared by every waiting caller, so detached from the first one's cancellation.
		return r.reload(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	return slices.Clone(ids.([]string)), nil
}

func (r *Registry) reload(ctx context.Context) ([]string, error) {
	start := time.Now()

	r.mu.RLock()
	prev := r.voices
	r.mu.RUnlock()

	voices := make(map[string]*Voice)
	var order []string

	var errs []error
	for _, dir := range []struct {
		path   string
		origin Origin
	}{
		{r.opts.BuiltinDir, OriginBuiltin},
		{r.opts.CustomDir, OriginCustom},
	} {
		found, err := r.scanDir(ctx, dir.path, dir.origin, prev, voices)
		if err != nil {
			errs = append(errs, err)
		}
		order = append(order, found...)
	}

	if len(voices) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	r.mu.Lock()
	r.voices = voices
	r.order = order
	r.mu.Unlock()

	took := time.Since(start)
	slog.Info("Voices loaded", "count", len(order), "voices", order, "took", took)

	if r.opts.OnReload != nil {
		r.opts.OnReload(len(order), took)
	}

	return slices.Clone(order), nil
}

// scanDir adds the voices of one directory to into and returns their IDs in
// order. A missing directory yields no voices.
func (r *Registry) scanDir(ctx context.Context, dir string, origin Origin, prev, into map[string]*Voice) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	dir = xfs.ExpandTilde(dir)

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Voices directory does not exist", "dir", dir, "origin", origin)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read voices directory %s: %w", dir, err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}

		id := xfs.Stem(entry.Name())
		if _, exists := into[id]; exists {
			slog.Debug("Skipping voice shadowed by an earlier one", "voice", id, "dir", dir)
			continue
		}

		v, err := r.load(ctx, filepath.Join(dir, entry.Name()), id, origin, prev[id])
		if err != nil {
			slog.Error("Failed to load voice", "voice", id, "path", filepath.Join(dir, entry.Name()), "error", err)
			continue
		}

		into[id] = v
		ids = append(ids, id)
	}

	return ids, nil
}

func (r *Registry) load(ctx context.Context, path, id string, origin Origin, prev *Voice) (*Voice, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	v := &Voice{
		ID:        id,
		Name:      displayName(id, origin, r.opts.Language),
		Language:  r.opts.Language,
		AudioPath: path,
		Origin:    origin,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}

	if raw, err := os.ReadFile(xfs.SiblingWithExt(path, ".txt")); err == nil {
		v.Text = strings.TrimSpace(string(raw))
	}

	if r.encoder == nil {
		return v, nil
	}

	if prev != nil && prev.sameFile(v) && len(prev.Codes) > 0 {
		v.Codes = prev.Codes
		return v, nil
	}

	codes, err := r.encoder.EncodeReference(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reference: %w", err)
	}
	v.Codes = codes

	slog.Debug("Encoded voice reference", "voice", id, "codes", len(codes))
	return v, nil
}

// Get returns a voice by ID without alias resolution or reloading.
func (r *Registry) Get(id string) (*Voice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.voices[id]
	return v, ok
}

// Resolve maps requested through the aliases and returns the voice. On a
// miss the directories are rescanned once, so freshly copied files work
// without an explicit reload.
func (r *Registry) Resolve(ctx context.Context, requested string) (*Voice, error) {
	id := r.canonical(requested)

	if v, ok := r.Get(id); ok {
		return v, nil
	}

	slog.Info("Voice not cached, rescanning", "voice", requested)
	if _, err := r.Reload(ctx); err != nil {
		slog.Error("Voice rescan failed", "error", err)
	}

	if v, ok := r.Get(id); ok {
		return v, nil
	}

	return nil, &NotFoundError{Requested: requested, Available: r.IDs()}
}

func (r *Registry) canonical(requested string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id, ok := r.aliases[requested]; ok {
		return id
	}
	return requested
}

// IDs returns the available voice IDs, built-in voices first.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.order)
}

// List returns the available voices, built-in voices first.
func (r *Registry) List() []*Voice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	voices := make([]*Voice, 0, len(r.order))
	for _, id := range r.order {
		voices = append(voices, r.voices[id])
	}

	return voices
}

// Len returns the number of available voices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}
