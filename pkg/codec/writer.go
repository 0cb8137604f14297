package codec

import (
	"archive/tar"
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArchiveWriter streams members into a tar stream that is zstd-compressed
// on the fly. Members are consumed in bounded chunks; nothing larger than
// the configured read buffer is ever resident per copy.
type ArchiveWriter struct {
	bw      *bufio.Writer
	enc     *zstd.Encoder
	tw      *tar.Writer
	copyBuf []byte

	members int
	bytesIn int64
	closed  bool
}

// NewArchiveWriter creates a writer that compresses everything added to it
// into w at the given zstd level, using the engine's thread bound and
// buffer sizes.
func (e *Engine) NewArchiveWriter(w io.Writer, level int) (*ArchiveWriter, error) {
	level = ClampLevel(level)

	bw := bufio.NewWriterSize(w, e.Buffers.Write)
	enc, err := zstd.NewWriter(bw,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(e.Threads),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &ArchiveWriter{
		bw:      bw,
		enc:     enc,
		tw:      tar.NewWriter(enc),
		copyBuf: make([]byte, copyChunkSize(e.Buffers.Read)),
	}, nil
}

// AddFile archives the file at path under the given member name, streaming
// its contents in chunks. The caller owns deletion of the source file.
func (w *ArchiveWriter) AddFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	return w.add(name, f, info.Size(), info.ModTime())
}

// AddBytes archives an in-memory member, used for the manifest.
func (w *ArchiveWriter) AddBytes(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: time.Now().UTC(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("write member %s: %w", name, err)
	}
	w.members++
	w.bytesIn += int64(len(data))
	return nil
}

func (w *ArchiveWriter) add(name string, r io.Reader, size int64, modTime time.Time) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    size,
		ModTime: modTime.UTC(),
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", name, err)
	}

	n, err := io.CopyBuffer(w.tw, io.LimitReader(r, size), w.copyBuf)
	if err != nil {
		return fmt.Errorf("write member %s: %w", name, err)
	}
	if n != size {
		return fmt.Errorf("write member %s: short read (%d of %d bytes)", name, n, size)
	}

	w.members++
	w.bytesIn += n
	return nil
}

// Members returns the number of members archived so far.
func (w *ArchiveWriter) Members() int {
	return w.members
}

// BytesIn returns the total uncompressed bytes consumed so far.
func (w *ArchiveWriter) BytesIn() int64 {
	return w.bytesIn
}

// Close finalizes the tar stream and the zstd frame and flushes all
// buffered output. Safe to call more than once.
func (w *ArchiveWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.tw.Close(); err != nil {
		w.enc.Close()
		return fmt.Errorf("finalize tar stream: %w", err)
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finalize zstd stream: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// copyChunkSize caps the per-member copy buffer; the bufio layers carry
// the configured sizes, the copy loop just needs a reasonable chunk.
func copyChunkSize(readBuf int) int {
	const maxChunk = 4 * 1024 * 1024
	if readBuf > maxChunk {
		return maxChunk
	}
	return readBuf
}
