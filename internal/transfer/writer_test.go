package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestWriterRoundTrip(t *testing.T) {
	m := newTestManager(t, Opts{ChunkSize: 16})
	dir := t.TempDir()

	payload := []byte("the quick brown fox jumps over the lazy dog")
	modTime := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	meta := FileMeta{
		RelPath: "docs/pangram.txt",
		Size:    int64(len(payload)),
		SHA256:  sha256Hex(payload),
		Mode:    0600,
		ModTime: modTime,
	}

	w, err := NewWriter(m, dir, meta)
	if err != nil {
		t.Fatal(err)
	}

	// Deliver chunks out of order; offsets are derived from the index.
	ctx := context.Background()
	for _, idx := range []int64{2, 0, 1} {
		start := idx * 16
		end := start + 16
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		n, err := w.WriteChunk(ctx, idx, payload[start:end])
		if err != nil {
			t.Fatalf("WriteChunk(%d): %v", idx, err)
		}
		if n != end-start {
			t.Errorf("WriteChunk(%d) wrote %d bytes, want %d", idx, n, end-start)
		}
	}
	if w.Written() != int64(len(payload)) {
		t.Errorf("Written() = %d, want %d", w.Written(), len(payload))
	}

	digest, err := w.Finalize(ctx)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if digest != meta.SHA256 {
		t.Errorf("digest = %s, want %s", digest, meta.SHA256)
	}

	written, err := os.ReadFile(filepath.Join(dir, "docs", "pangram.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(written, payload) {
		t.Error("assembled file does not match the original payload")
	}

	info, err := os.Stat(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
	if got := info.ModTime().Truncate(time.Second); !got.Equal(modTime) {
		t.Errorf("mtime = %v, want %v", got, modTime)
	}
}

func TestWriterChecksumMismatch(t *testing.T) {
	m := newTestManager(t, Opts{ChunkSize: 64})
	dir := t.TempDir()

	payload := []byte("contents that will not match the declared digest")
	meta := FileMeta{
		RelPath: "tampered.bin",
		Size:    int64(len(payload)),
		SHA256:  sha256Hex([]byte("something else entirely")),
	}

	w, err := NewWriter(m, dir, meta)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteChunk(context.Background(), 0, payload); err != nil {
		t.Fatal(err)
	}

	_, err = w.Finalize(context.Background())
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("Finalize err = %v, want ErrChecksumMismatch", err)
	}

	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Error("corrupt file still present after checksum mismatch")
	}
}

func TestWriterEmptyFile(t *testing.T) {
	m := newTestManager(t, Opts{ChunkSize: 64})
	dir := t.TempDir()

	meta := FileMeta{
		RelPath: "empty.txt",
		Size:    0,
		SHA256:  sha256Hex(nil),
	}
	w, err := NewWriter(m, dir, meta)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := w.WriteChunk(context.Background(), 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Finalize(context.Background()); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	info, err := os.Stat(w.Path())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("size = %d, want 0", info.Size())
	}
}

func TestWriterAbort(t *testing.T) {
	m := newTestManager(t, Opts{ChunkSize: 64})
	dir := t.TempDir()

	w, err := NewWriter(m, dir, FileMeta{RelPath: "partial.bin", Size: 4})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteChunk(context.Background(), 0, []byte("data")); err != nil {
		t.Fatal(err)
	}

	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Error("partial file still present after abort")
	}

	// Aborting an already-removed file is not an error.
	if err := w.Abort(); err != nil {
		t.Errorf("second Abort: %v", err)
	}
}

func TestNewWriterRejectsUnsafePath(t *testing.T) {
	m := newTestManager(t, Opts{})
	for _, rel := range []string{"", "../escape.txt", "/abs.txt"} {
		if _, err := NewWriter(m, t.TempDir(), FileMeta{RelPath: rel}); !errors.Is(err, ErrUnsafePath) {
			t.Errorf("NewWriter(%q) err = %v, want ErrUnsafePath", rel, err)
		}
	}
}

func TestChunkFile(t *testing.T) {
	const chunkSize = 32
	path, want := writeTestFile(t, chunkSize*4+9)

	m := newTestManager(t, Opts{Workers: 4})

	var delivered int
	chunks, summary, err := m.ChunkFile(context.Background(), path, chunkSize, func(*Chunk) {
		delivered++
	})
	if err != nil {
		t.Fatalf("ChunkFile: %v", err)
	}

	if summary.Chunks != 5 || summary.Succeeded != 5 || summary.Failed != 0 {
		t.Errorf("summary = %d/%d/%d, want 5/5/0", summary.Chunks, summary.Succeeded, summary.Failed)
	}
	if summary.Bytes != int64(len(want)) {
		t.Errorf("summary.Bytes = %d, want %d", summary.Bytes, len(want))
	}
	if delivered != 5 {
		t.Errorf("onChunk fired %d times, want 5", delivered)
	}

	var got bytes.Buffer
	for i, chunk := range chunks {
		if chunk.Index != int64(i) {
			t.Errorf("chunks[%d].Index = %d", i, chunk.Index)
		}
		if chunk.Hash != sha256Hex(chunk.Data) {
			t.Errorf("chunks[%d] hash does not cover its data", i)
		}
		got.Write(chunk.Data)
	}
	if !bytes.Equal(got.Bytes(), want) {
		t.Error("concatenated chunks do not match the original file")
	}

	if bytes := m.Stats().TotalBytesProcessed; bytes != int64(len(want)) {
		t.Errorf("total_bytes_processed = %d, want %d", bytes, len(want))
	}
}

func TestChunkFileMissing(t *testing.T) {
	m := newTestManager(t, Opts{})
	if _, _, err := m.ChunkFile(context.Background(), filepath.Join(t.TempDir(), "nope"), 0, nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}
