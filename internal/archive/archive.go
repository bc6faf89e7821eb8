// Package archive copies synthesized audio into a NATS JetStream object store.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Entry is one synthesized response.
type Entry struct {
	CreatedAt   time.Time
	ID          string
	Voice       string
	Format      string
	ContentType string
	Data        []byte
	LatencyMS   float64
}

// Key returns the object name of the entry.
func (e Entry) Key() string {
	return e.ID + "." + e.Format
}

// Archive stores entries in one object store bucket.
type Archive struct {
	conn   *nats.Conn
	store  nats.ObjectStore
	bucket string
}

// Connect dials NATS at url and opens (or creates) bucket.
func Connect(url, bucket string) (*Archive, error) {
	conn, err := nats.Connect(url,
		nats.Name("neutts-openai"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	a, err := New(js, bucket)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.conn = conn

	return a, nil
}

// New opens bucket on an existing JetStream context, creating it first if
// needed.
func New(js nats.JetStreamContext, bucket string) (*Archive, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Synthesized speech responses.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
		}

		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucket, err)
		}
	}

	return &Archive{store: store, bucket: bucket}, nil
}

// Put stores an entry under Entry.Key.
func (a *Archive) Put(ctx context.Context, e Entry) error {
	_, err := a.store.Put(&nats.ObjectMeta{
		Name:        e.Key(),
		Description: "speech " + e.ID,
		Metadata: map[string]string{
			"voice":        e.Voice,
			"format":       e.Format,
			"content_type": e.ContentType,
			"latency_ms":   strconv.FormatFloat(e.LatencyMS, 'f', 2, 64),
			"created_at":   e.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}, bytes.NewReader(e.Data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", e.Key(), a.bucket, err)
	}

	return nil
}

// Get reads an object back together with its metadata.
func (a *Archive) Get(ctx context.Context, key string) ([]byte, map[string]string, error) {
	obj, err := a.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, a.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}
	if closeErr != nil {
		return data, nil, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	info, err := obj.Info()
	if err != nil {
		return data, nil, fmt.Errorf("failed to stat object '%s': %w", key, err)
	}

	return data, info.Metadata, nil
}

// Close closes the connection if Connect opened it.
func (a *Archive) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}
