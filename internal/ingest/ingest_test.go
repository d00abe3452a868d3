package ingest

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/objstore"
)

func testChunk(sessionID string, index, total int, xs ...float64) chunks.Chunk {
	var events []chunks.Event
	for i, x := range xs {
		t := int64(1000 + index*1000 + i*16)
		x := x
		events = append(events, chunks.Event{Type: chunks.TypeClick, T: &t, XRaw: &x, YRaw: &x})
	}
	scratch := 40.0 + float64(index)
	return chunks.Chunk{
		SessionID:   sessionID,
		ChunkIndex:  index,
		TotalChunks: total,
		Events:      events,
		Meta: chunks.Meta{
			Device:         "mouse",
			ScratchPercent: &scratch,
			ROIMap: map[string]chunks.Rect{
				"canvas-container": {Left: 0, Top: 0, W: 100, H: 100},
			},
		},
		TimestampMs: int64(1000 + index*1000),
	}
}

func TestIngestRejectsInvalidChunk(t *testing.T) {
	ing := NewIngestor(objstore.NewMemory(), "archive")

	bad := testChunk("s1", 2, 2, 1)
	if err := ing.IngestChunk(context.Background(), bad); err == nil {
		t.Fatal("expected an out-of-range chunk index to be rejected")
	}
}

func TestReconstructOrderIndependence(t *testing.T) {
	ctx := context.Background()

	streams := [][]int{{0, 1, 2}, {1, 0, 2}, {2, 1, 0}}
	var want []chunks.Event
	for _, order := range streams {
		store := objstore.NewMemory()
		ing := NewIngestor(store, "archive")
		for _, idx := range order {
			chunk := testChunk("s1", idx, 3, float64(idx*10), float64(idx*10+5))
			if err := ing.IngestChunk(ctx, chunk); err != nil {
				t.Fatal(err)
			}
		}

		events, meta, err := ing.Reconstruct(ctx, "s1")
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 6 {
			t.Fatalf("expected 6 events, got %d", len(events))
		}
		// Meta always comes from chunk 0 whatever the arrival order.
		if meta.ScratchPercent == nil || *meta.ScratchPercent != 40.0 {
			t.Fatalf("expected chunk 0 meta, got %+v", meta.ScratchPercent)
		}
		if want == nil {
			want = events
			continue
		}
		for i := range events {
			if *events[i].T != *want[i].T || *events[i].XRaw != *want[i].XRaw {
				t.Fatalf("arrival order %v changed the reconstructed stream", order)
			}
		}
	}
}

func TestReconstructRedelivery(t *testing.T) {
	ctx := context.Background()
	ing := NewIngestor(objstore.NewMemory(), "archive")

	chunk := testChunk("s1", 0, 1, 10, 20)
	if err := ing.IngestChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}
	if err := ing.IngestChunk(ctx, chunk); err != nil {
		t.Fatal(err)
	}

	events, _, err := ing.Reconstruct(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("re-delivered chunk must not duplicate events, got %d", len(events))
	}
}

func TestReconstructMissingChunks(t *testing.T) {
	ctx := context.Background()
	ing := NewIngestor(objstore.NewMemory(), "archive")

	// Only chunk 1 of 3 ever arrived.
	if err := ing.IngestChunk(ctx, testChunk("s1", 1, 3, 10)); err != nil {
		t.Fatal(err)
	}

	events, meta, err := ing.Reconstruct(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the surviving chunk's events, got %d", len(events))
	}
	// Meta comes from the lowest index present.
	if meta.ScratchPercent == nil || *meta.ScratchPercent != 41.0 {
		t.Fatalf("expected chunk 1 meta, got %+v", meta.ScratchPercent)
	}
}

func TestReconstructEmptySession(t *testing.T) {
	ing := NewIngestor(objstore.NewMemory(), "archive")

	events, meta, err := ing.Reconstruct(context.Background(), "never-seen")
	if err != nil {
		t.Fatal(err)
	}
	if events != nil {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if meta.Device != "" || meta.ScratchPercent != nil {
		t.Fatalf("expected zero meta, got %+v", meta)
	}
}

func TestReconstructSkipsCorruptChunk(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	ing := NewIngestor(store, "archive")

	if err := ing.IngestChunk(ctx, testChunk("s1", 0, 2, 10)); err != nil {
		t.Fatal(err)
	}
	// Not gzip at all.
	if err := store.Put(ctx, "behavior-chunks/s1/chunk_1_2.json.gz", []byte("garbage"), "application/json"); err != nil {
		t.Fatal(err)
	}

	events, _, err := ing.Reconstruct(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("corrupt chunk must be skipped, got %d events", len(events))
	}
}

func TestArchiveWritesNDJSON(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	ing := NewIngestor(store, "behavior-archive")

	if err := ing.IngestChunk(ctx, testChunk("s1", 0, 1, 10, 20)); err != nil {
		t.Fatal(err)
	}
	if err := ing.Archive(ctx, "s1"); err != nil {
		t.Fatal(err)
	}

	keys, err := store.List(ctx, "behavior-archive/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected one archive object, got %v", keys)
	}
	if !strings.HasSuffix(keys[0], "_s1.json.gz") {
		t.Fatalf("unexpected archive key %s", keys[0])
	}

	body, err := store.Get(ctx, keys[0])
	if err != nil {
		t.Fatal(err)
	}
	raw, err := objstore.GunzipBytes(body)
	if err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected meta + 2 event lines, got %d", len(lines))
	}

	var metaLine map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &metaLine); err != nil {
		t.Fatal(err)
	}
	if metaLine["type"] != "meta" {
		t.Fatalf("first line must be tagged meta, got %v", metaLine["type"])
	}

	// Events keep their own discriminator, not a generic "event" tag.
	var eventLine map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &eventLine); err != nil {
		t.Fatal(err)
	}
	if eventLine["type"] != chunks.TypeClick {
		t.Fatalf("event line must keep its kind, got %v", eventLine["type"])
	}
}

func TestArchiveSkipsEmptySession(t *testing.T) {
	ctx := context.Background()
	store := objstore.NewMemory()
	ing := NewIngestor(store, "behavior-archive")

	if err := ing.Archive(ctx, "never-seen"); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Fatalf("empty session must not produce an archive, got %d objects", store.Len())
	}
}
