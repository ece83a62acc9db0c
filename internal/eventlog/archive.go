package eventlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zstd"

	"github.com/dray-io/reclaim/internal/objectstore"
)

// ContentType is the content type of archived event logs.
const ContentType = "application/zstd"

// ArchiveKey returns the blobstore key for a job's event log.
func ArchiveKey(prefix, jobID string) string {
	return path.Join(prefix, jobID+".jsonl.zst")
}

// Archive compresses the log with zstd and writes it to key.
func (l *Log) Archive(ctx context.Context, store objectstore.Store, key string) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("eventlog: create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(l.Bytes(), nil)
	if err := enc.Close(); err != nil {
		return fmt.Errorf("eventlog: close zstd encoder: %w", err)
	}

	if err := store.Put(ctx, key, bytes.NewReader(compressed), int64(len(compressed)), ContentType); err != nil {
		return fmt.Errorf("eventlog: archive %s: %w", key, err)
	}
	return nil
}

// ReadArchive fetches and decodes an archived event log.
func ReadArchive(ctx context.Context, store objectstore.Store, key string) ([]Event, error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read %s: %w", key, err)
	}
	defer rc.Close()

	decoder, err := zstd.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create zstd decoder: %w", err)
	}
	defer decoder.Close()
	return Decode(decoder)
}

// Decode parses JSON-lines events from r.
func Decode(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("eventlog: decode event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: scan: %w", err)
	}
	return events, nil
}
