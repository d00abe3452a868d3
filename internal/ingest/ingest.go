package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/Kakao-Scratcha/scratcha-backend/internal/chunks"
	"github.com/Kakao-Scratcha/scratcha-backend/internal/objstore"
)

const chunkPrefix = "behavior-chunks"

// Ingestor persists behavior event chunks and reassembles per-session
// streams. Storage failures degrade to "no behavior data": verification
// keeps going without a signal, it never aborts on this layer.
type Ingestor struct {
	store         objstore.Store
	archivePrefix string
}

func NewIngestor(store objstore.Store, archivePrefix string) *Ingestor {
	return &Ingestor{store: store, archivePrefix: strings.Trim(archivePrefix, "/")}
}

func chunkKey(sessionID string, index, total int) string {
	return fmt.Sprintf("%s/%s/chunk_%d_%d.json.gz", chunkPrefix, sessionID, index, total)
}

// IngestChunk validates and persists one chunk under a session-namespaced,
// index-ordered key. Re-delivery of the same chunk overwrites the same key.
func (i *Ingestor) IngestChunk(ctx context.Context, chunk chunks.Chunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}

	raw, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	body, err := objstore.GzipBytes(raw)
	if err != nil {
		return fmt.Errorf("gzip chunk: %w", err)
	}

	key := chunkKey(chunk.SessionID, chunk.ChunkIndex, chunk.TotalChunks)
	if err := i.store.Put(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("store chunk %s: %w", key, err)
	}
	return nil
}

// Reconstruct merges every stored chunk of a session into one chronological
// event stream. Missing or undecodable chunks are skipped; the meta comes
// from the lowest-indexed chunk present so partial delivery stays
// deterministic. An empty stream is a valid result, not an error.
func (i *Ingestor) Reconstruct(ctx context.Context, sessionID string) ([]chunks.Event, chunks.Meta, error) {
	keys, err := i.store.List(ctx, chunkPrefix+"/"+sessionID+"/")
	if err != nil {
		return nil, chunks.Meta{}, fmt.Errorf("list chunks for %s: %w", sessionID, err)
	}

	parsed := make(map[int]chunks.Chunk)
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json.gz") {
			continue
		}
		body, err := i.store.Get(ctx, key)
		if err != nil {
			log.Printf("[Ingestor] skipping chunk %s: %v", key, err)
			continue
		}
		raw, err := objstore.GunzipBytes(body)
		if err != nil {
			log.Printf("[Ingestor] skipping undecodable chunk %s: %v", key, err)
			continue
		}
		chunk, err := chunks.ParseChunk(raw)
		if err != nil {
			log.Printf("[Ingestor] skipping invalid chunk %s: %v", key, err)
			continue
		}
		// At-least-once delivery: the first decode of an index wins.
		if _, seen := parsed[chunk.ChunkIndex]; !seen {
			parsed[chunk.ChunkIndex] = chunk
		}
	}

	if len(parsed) == 0 {
		return nil, chunks.Meta{}, nil
	}

	indexes := make([]int, 0, len(parsed))
	for idx := range parsed {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	var events []chunks.Event
	for _, idx := range indexes {
		events = append(events, parsed[idx].Events...)
	}
	return events, parsed[indexes[0]].Meta, nil
}

// Archive writes the session's full reconstructed trace as gzip NDJSON:
// one meta line, then one line per event. Called only for successful
// sessions, from the background queue.
func (i *Ingestor) Archive(ctx context.Context, sessionID string) error {
	events, meta, err := i.Reconstruct(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		log.Printf("[Ingestor] no behavior data for session %s, skipping archive", sessionID)
		return nil
	}

	lines := make([]string, 0, len(events)+1)
	metaLine, err := taggedLine("meta", meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	lines = append(lines, metaLine)
	for _, ev := range events {
		line, err := taggedLine("event", ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		lines = append(lines, line)
	}

	body, err := objstore.GzipBytes([]byte(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		return fmt.Errorf("gzip archive: %w", err)
	}

	ts := time.Now().UTC().Format("20060102-150405")
	key := strings.TrimPrefix(fmt.Sprintf("%s/%s_%s.json.gz", i.archivePrefix, ts, sessionID), "/")
	if err := i.store.Put(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("store archive %s: %w", key, err)
	}
	log.Printf("[Ingestor] archived %d events for session %s at %s", len(events), sessionID, key)
	return nil
}

// taggedLine marshals v and splices in the NDJSON type discriminator. A
// discriminator already present on v (the per-event kind) is kept.
func taggedLine(tag string, v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", err
	}
	if _, ok := fields["type"]; !ok {
		fields["type"] = tag
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
