package objstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.Put(ctx, "a/1", []byte("one"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(ctx, "a/2", []byte("two"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	if err := m.Put(ctx, "b/1", []byte("three"), "text/plain"); err != nil {
		t.Fatal(err)
	}

	body, err := m.Get(ctx, "a/1")
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "one" {
		t.Fatalf("unexpected body %q", body)
	}

	keys, err := m.List(ctx, "a/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "a/1" || keys[1] != "a/2" {
		t.Fatalf("unexpected listing %v", keys)
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryCopiesBuffers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	src := []byte("data")
	if err := m.Put(ctx, "k", src, ""); err != nil {
		t.Fatal(err)
	}
	src[0] = 'X'

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Fatalf("stored object must not alias the caller's buffer, got %q", got)
	}
}

func TestGzipRoundTrip(t *testing.T) {
	raw := []byte(`{"hello":"world"}`)

	packed, err := GzipBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	unpacked, err := GunzipBytes(packed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, unpacked) {
		t.Fatalf("round trip changed the data: %q", unpacked)
	}

	// Same input, same object.
	again, err := GzipBytes(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(packed, again) {
		t.Fatal("compression must be deterministic")
	}
}

func TestGunzipRejectsGarbage(t *testing.T) {
	if _, err := GunzipBytes([]byte("definitely not gzip")); err == nil {
		t.Fatal("expected an error for non-gzip input")
	}
}
