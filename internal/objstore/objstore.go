package objstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get for a key that has never been written.
var ErrNotFound = errors.New("object not found")

// Store is the narrow surface the ingest layer needs from an object store:
// write a blob, read it back, enumerate a prefix.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// GzipBytes compresses raw at level 6 with a zeroed header timestamp, so
// identical input produces identical objects.
func GzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz, err := gzip.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, err
	}
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func GunzipBytes(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(gz)
}
