// AssetSentry - Protected Asset Delivery Guard
// Copyright 2026 The AssetSentry Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/assetsentry/assetsentry

package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeAsset(t *testing.T, content []byte) *Asset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return &Asset{ID: "payload.bin", Path: path, Size: int64(len(content))}
}

func TestStreamCopiesContent(t *testing.T) {
	content := bytes.Repeat([]byte("abcd"), 50_000) // spans multiple chunks
	asset := writeAsset(t, content)

	var buf bytes.Buffer
	n, err := NewStreamer(0).Stream(context.Background(), &buf, asset)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("written = %d, want %d", n, len(content))
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Error("streamed content differs from source")
	}
}

func TestStreamMissingFile(t *testing.T) {
	asset := &Asset{ID: "gone", Path: filepath.Join(t.TempDir(), "gone")}

	if _, err := NewStreamer(0).Stream(context.Background(), io.Discard, asset); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestStreamCancelledContext(t *testing.T) {
	asset := writeAsset(t, bytes.Repeat([]byte("x"), 1024))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewStreamer(0).Stream(ctx, io.Discard, asset)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// failAfterWriter simulates a client that disconnects mid-download.
type failAfterWriter struct {
	remaining int
}

func (w *failAfterWriter) Write(p []byte) (int, error) {
	if w.remaining <= 0 {
		return 0, errors.New("connection reset")
	}
	n := len(p)
	if n > w.remaining {
		n = w.remaining
	}
	w.remaining -= n
	if n < len(p) {
		return n, errors.New("connection reset")
	}
	return n, nil
}

func TestStreamWriterFailure(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 4*streamChunkSize)
	asset := writeAsset(t, content)

	n, err := NewStreamer(0).Stream(context.Background(), &failAfterWriter{remaining: streamChunkSize}, asset)
	if err == nil {
		t.Fatal("expected write error")
	}
	if n >= int64(len(content)) {
		t.Errorf("expected partial write, wrote %d of %d", n, len(content))
	}
}

func TestStreamThrottled(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 2*streamChunkSize)
	asset := writeAsset(t, content)

	// A generous budget: the limiter engages without slowing the test
	// down measurably.
	var buf bytes.Buffer
	n, err := NewStreamer(int64(100*streamChunkSize)).Stream(context.Background(), &buf, asset)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("written = %d, want %d", n, len(content))
	}
}
