package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testEngine() *Engine {
	return NewEngine(512*1024*1024, 2, 1.0)
}

func writeTestArchive(t *testing.T, dir string, level int, objects map[string][]byte, manifest []byte) string {
	t.Helper()
	e := testEngine()

	archivePath := filepath.Join(dir, "batch.tar.zst")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer out.Close()

	w, err := e.NewArchiveWriter(out, level)
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}

	if err := w.AddBytes(ManifestMemberName, manifest); err != nil {
		t.Fatalf("AddBytes manifest: %v", err)
	}
	for name, data := range objects {
		src := filepath.Join(dir, "src-"+filepath.Base(name))
		if err := os.WriteFile(src, data, 0o644); err != nil {
			t.Fatalf("write source file: %v", err)
		}
		if err := w.AddFile(ObjectMemberPrefix+name, src); err != nil {
			t.Fatalf("AddFile %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return archivePath
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	objects := map[string][]byte{
		"logs/2024/app.log": bytes.Repeat([]byte("line of log data\n"), 4096),
		"data/empty":        {},
		"data/blob.bin":     bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 1<<16),
	}
	manifest := []byte(`{"entries":[]}`)

	archivePath := writeTestArchive(t, dir, 12, objects, manifest)

	e := testEngine()
	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()

	ar, err := e.OpenArchive(f)
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	defer ar.Close()

	got := map[string][]byte{}
	for {
		m, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		var buf bytes.Buffer
		n, err := m.WriteTo(&buf)
		if err != nil {
			t.Fatalf("WriteTo %s: %v", m.Name, err)
		}
		if n != m.Size {
			t.Errorf("member %s: wrote %d bytes, header says %d", m.Name, n, m.Size)
		}
		got[m.Name] = buf.Bytes()
	}

	if !bytes.Equal(got[ManifestMemberName], manifest) {
		t.Errorf("manifest member mismatch")
	}
	for name, want := range objects {
		if !bytes.Equal(got[ObjectMemberPrefix+name], want) {
			t.Errorf("member %s: payload mismatch", name)
		}
	}
	if len(got) != len(objects)+1 {
		t.Errorf("got %d members, want %d", len(got), len(objects)+1)
	}
}

func TestWriterCounters(t *testing.T) {
	dir := t.TempDir()
	e := testEngine()

	out, err := os.Create(filepath.Join(dir, "out.tar.zst"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer out.Close()

	w, err := e.NewArchiveWriter(out, 3)
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}
	if err := w.AddBytes("a", []byte("12345")); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}
	if err := w.AddBytes("b", []byte("678")); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if w.Members() != 2 {
		t.Errorf("Members() = %d, want 2", w.Members())
	}
	if w.BytesIn() != 8 {
		t.Errorf("BytesIn() = %d, want 8", w.BytesIn())
	}
}

func TestPeekManifest(t *testing.T) {
	dir := t.TempDir()
	manifest := []byte(`{"entries":[{"object_name":"x"}]}`)
	archivePath := writeTestArchive(t, dir, 5, map[string][]byte{
		"x": bytes.Repeat([]byte("x"), 1<<20),
	}, manifest)

	e := testEngine()
	got, err := e.PeekManifest(archivePath)
	if err != nil {
		t.Fatalf("PeekManifest: %v", err)
	}
	if !bytes.Equal(got, manifest) {
		t.Errorf("PeekManifest = %q, want %q", got, manifest)
	}
}

func TestPeekManifestMissing(t *testing.T) {
	dir := t.TempDir()
	e := testEngine()

	archivePath := filepath.Join(dir, "nomanifest.tar.zst")
	out, err := os.Create(archivePath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w, err := e.NewArchiveWriter(out, 1)
	if err != nil {
		t.Fatalf("NewArchiveWriter: %v", err)
	}
	if err := w.AddBytes("objects/only", []byte("payload")); err != nil {
		t.Fatalf("AddBytes: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out.Close()

	if _, err := e.PeekManifest(archivePath); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("PeekManifest error = %v, want ErrMemberNotFound", err)
	}
}

func TestExtractMember(t *testing.T) {
	dir := t.TempDir()
	want := bytes.Repeat([]byte("target payload "), 2048)
	archivePath := writeTestArchive(t, dir, 8, map[string][]byte{
		"a/first":  bytes.Repeat([]byte("a"), 1<<18),
		"b/second": want,
		"c/third":  bytes.Repeat([]byte("c"), 1<<18),
	}, []byte(`{}`))

	e := testEngine()
	dest := filepath.Join(dir, "out", "second")
	if err := e.ExtractMember(archivePath, ObjectMemberPrefix+"b/second", dest); err != nil {
		t.Fatalf("ExtractMember: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("extracted payload mismatch: got %d bytes, want %d", len(got), len(want))
	}

	var memberErr *MemberError
	err = e.ExtractMember(archivePath, "objects/missing", filepath.Join(dir, "out", "missing"))
	if !errors.As(err, &memberErr) || !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("ExtractMember missing member error = %v, want MemberError wrapping ErrMemberNotFound", err)
	}
}

func TestListMembers(t *testing.T) {
	dir := t.TempDir()
	archivePath := writeTestArchive(t, dir, 1, map[string][]byte{
		"one": []byte("1"),
	}, []byte(`{}`))

	e := testEngine()
	names, err := e.ListMembers(archivePath)
	if err != nil {
		t.Fatalf("ListMembers: %v", err)
	}
	if len(names) != 2 || names[0] != ManifestMemberName {
		t.Errorf("ListMembers = %v, want manifest first then one object", names)
	}
}

func TestCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "corrupt.tar.zst")
	if err := os.WriteFile(archivePath, []byte("this is not a zstd stream"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	e := testEngine()
	err := e.scanArchive(archivePath, func(*Member) (bool, error) { return false, nil })
	if !errors.Is(err, ErrCorruptArchive) {
		t.Errorf("scan of garbage = %v, want ErrCorruptArchive", err)
	}
}

func TestTruncatedArchive(t *testing.T) {
	dir := t.TempDir()
	archivePath := writeTestArchive(t, dir, 3, map[string][]byte{
		"big": bytes.Repeat([]byte("abcdefgh"), 1<<17),
	}, []byte(`{}`))

	data, err := os.ReadFile(archivePath)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	truncated := filepath.Join(dir, "truncated.tar.zst")
	if err := os.WriteFile(truncated, data[:len(data)/2], 0o644); err != nil {
		t.Fatalf("write truncated: %v", err)
	}

	e := testEngine()
	err = e.scanArchive(truncated, func(m *Member) (bool, error) {
		_, werr := m.WriteTo(io.Discard)
		return false, werr
	})
	if err == nil {
		t.Fatal("scan of truncated archive succeeded, want error")
	}
}

func TestClampLevel(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {-5, 1}, {1, 1}, {12, 12}, {22, 22}, {23, 22}, {100, 22},
	}
	for _, c := range cases {
		if got := ClampLevel(c.in); got != c.want {
			t.Errorf("ClampLevel(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestZstdProbe(t *testing.T) {
	p := NewZstdProbe()
	p.PayloadSize = 256 * 1024
	p.MaxIterations = 2
	p.MaxDuration = 2 * time.Second

	factor, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if factor <= 0 {
		t.Errorf("factor = %v, want > 0", factor)
	}
}

func TestFixedProbe(t *testing.T) {
	if f, _ := (FixedProbe{Factor: 2.5}).Run(context.Background()); f != 2.5 {
		t.Errorf("FixedProbe = %v, want 2.5", f)
	}
	if f, _ := (FixedProbe{}).Run(context.Background()); f != 1.0 {
		t.Errorf("zero FixedProbe = %v, want 1.0", f)
	}
}
