package codec

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ErrMemberNotFound indicates a requested member name is absent from the
// archive stream.
var ErrMemberNotFound = errors.New("member not found in archive")

// ArchiveReader iterates the members of a compressed archive lazily, in a
// single pass over the underlying stream. It cannot be rewound; callers
// needing a second pass (peek manifest, then iterate) must reopen the
// source and build a new reader.
type ArchiveReader struct {
	dec     *zstd.Decoder
	tr      *tar.Reader
	copyBuf []byte
	closed  bool
}

// OpenArchive wraps a compressed stream for member iteration. A malformed
// zstd frame surfaces as ErrCorruptArchive.
func (e *Engine) OpenArchive(r io.Reader) (*ArchiveReader, error) {
	dec, err := zstd.NewReader(bufio.NewReaderSize(r, e.Buffers.Read),
		zstd.WithDecoderConcurrency(e.Threads),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	return &ArchiveReader{
		dec:     dec,
		tr:      tar.NewReader(dec),
		copyBuf: make([]byte, copyChunkSize(e.Buffers.Read)),
	}, nil
}

// Member is a single named entry in the archive. Its payload is only valid
// until the next call to Next on the owning reader.
type Member struct {
	Name string
	Size int64

	r *ArchiveReader
}

// Next advances to the next member. Returns io.EOF at the end of the
// archive and ErrCorruptArchive (wrapped) for a malformed stream.
func (r *ArchiveReader) Next() (*Member, error) {
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
		}
		if hdr.Typeflag == tar.TypeDir {
			continue
		}
		return &Member{Name: hdr.Name, Size: hdr.Size, r: r}, nil
	}
}

// WriteTo streams the member payload into w in bounded chunks. A truncated
// payload surfaces as a MemberError so siblings can still be processed.
func (m *Member) WriteTo(w io.Writer) (int64, error) {
	n, err := io.CopyBuffer(w, m.r.tr, m.r.copyBuf)
	if err != nil {
		return n, &MemberError{Name: m.Name, Err: err}
	}
	return n, nil
}

// Extract writes the member payload to destPath, creating parent
// directories as needed.
func (m *Member) Extract(destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create extraction dir: %w", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}

	if _, err := m.WriteTo(f); err != nil {
		f.Close()
		os.Remove(destPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("close %s: %w", destPath, err)
	}
	return nil
}

// Close releases the decoder. The underlying stream is not closed.
func (r *ArchiveReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.dec.Close()
	return nil
}

// PeekManifest opens the archive at path and extracts only the manifest
// member, leaving every other member untouched. The archive on disk can be
// re-opened afterwards for a full pass.
func (e *Engine) PeekManifest(path string) ([]byte, error) {
	var data []byte
	err := e.scanArchive(path, func(m *Member) (bool, error) {
		if m.Name != ManifestMemberName {
			return false, nil
		}
		var buf strings.Builder
		if _, err := m.WriteTo(&buf); err != nil {
			return false, err
		}
		data = []byte(buf.String())
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("peek manifest: %w", ErrMemberNotFound)
	}
	return data, nil
}

// ListMembers returns the member names in archive order without reading
// any payload bytes.
func (e *Engine) ListMembers(path string) ([]string, error) {
	var names []string
	err := e.scanArchive(path, func(m *Member) (bool, error) {
		names = append(names, m.Name)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ExtractMember extracts exactly one named member from the archive at path
// to destPath. Other members are skipped without reading their payloads.
func (e *Engine) ExtractMember(path, name, destPath string) error {
	found := false
	err := e.scanArchive(path, func(m *Member) (bool, error) {
		if m.Name != name {
			return false, nil
		}
		found = true
		return true, m.Extract(destPath)
	})
	if err != nil {
		return err
	}
	if !found {
		return &MemberError{Name: name, Err: ErrMemberNotFound}
	}
	return nil
}

// scanArchive runs a fresh single pass over the archive at path, invoking
// visit for each member until visit signals it is done.
func (e *Engine) scanArchive(path string, visit func(*Member) (bool, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	defer f.Close()

	ar, err := e.OpenArchive(f)
	if err != nil {
		return err
	}
	defer ar.Close()

	for {
		m, err := ar.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		done, err := visit(m)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}
