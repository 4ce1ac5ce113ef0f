package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

type member struct {
	name     string
	body     string
	typeflag byte
	link     string
}

func writeTar(t *testing.T, path string, members []member) {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Typeflag: m.typeflag, Linkname: m.link}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatalf("write body: %v", err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func TestExtractPlainTar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.alix")
	writeTar(t, path, []member{
		{name: "sig", body: "abc\nkey"},
		{name: "nested/", typeflag: tar.TypeDir},
		{name: "nested/ext.tgz", body: "payload"},
	})

	dir, err := Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if dir != filepath.Join(filepath.Dir(path), "pkg") {
		t.Fatalf("unexpected destination: %s", dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, "nested", "ext.tgz"))
	if err != nil || string(data) != "payload" {
		t.Fatalf("unexpected member content: %q %v", data, err)
	}
}

func TestExtractRejectsLinkAndDeviceMembers(t *testing.T) {
	cases := map[string]member{
		"symlink":  {name: "link", typeflag: tar.TypeSymlink, link: "/etc/passwd"},
		"hardlink": {name: "hard", typeflag: tar.TypeLink, link: "sig"},
		"fifo":     {name: "pipe", typeflag: tar.TypeFifo},
	}
	for name, m := range cases {
		path := filepath.Join(t.TempDir(), "pkg.alix")
		writeTar(t, path, []member{{name: "sig", body: "abc\nkey"}, m})
		if _, err := Extract(context.Background(), path); !errors.Is(err, extension.ErrArchive) {
			t.Fatalf("%s: expected archive error, got %v", name, err)
		}
		if _, err := os.Stat(DestFor(path)); !os.IsNotExist(err) {
			t.Fatalf("%s: expected destination removed, got %v", name, err)
		}
	}
}

func TestExtractGzipRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "i18n"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "manifest.json"), []byte(`{"id":"a"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "i18n", "en-us.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	if err := Create(&buf, src, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if buf.Bytes()[0] != 0x1f || buf.Bytes()[1] != 0x8b {
		t.Fatalf("expected gzip magic")
	}
	path := filepath.Join(t.TempDir(), "ext.tgz")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	dir, err := Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if filepath.Base(dir) != "ext" {
		t.Fatalf("unexpected destination: %s", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "i18n", "en-us.json")); err != nil {
		t.Fatalf("missing member: %v", err)
	}
}

func TestCreateIsDeterministic(t *testing.T) {
	src := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(src, name), []byte(name), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	var first, second bytes.Buffer
	if err := Create(&first, src, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := os.Chtimes(filepath.Join(src, "a.txt"), time.Now(), time.Now()); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := Create(&second, src, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("expected identical archives")
	}
}

func TestExtractRejectsTraversalAndCleansUp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil.alix")
	writeTar(t, path, []member{
		{name: "ok.txt", body: "fine"},
		{name: "../escape.txt", body: "bad"},
	})

	_, err := Extract(context.Background(), path)
	if !errors.Is(err, extension.ErrPathTraversal) {
		t.Fatalf("expected traversal error, got %v", err)
	}
	if _, statErr := os.Stat(DestFor(path)); !os.IsNotExist(statErr) {
		t.Fatalf("destination should be removed after failure")
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(path), "escape.txt")); !os.IsNotExist(statErr) {
		t.Fatalf("escaping member must not be written")
	}
}

func TestExtractLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.alix")
	writeTar(t, path, []member{
		{name: "a", body: "1234"},
		{name: "b", body: "5678"},
	})

	cases := []Limits{
		{MaxFiles: 1},
		{MaxFileBytes: 3},
		{MaxTotalBytes: 6},
	}
	for _, limits := range cases {
		if _, err := limits.Extract(context.Background(), path); !errors.Is(err, extension.ErrArchive) {
			t.Fatalf("expected archive error for %+v, got %v", limits, err)
		}
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.tgz")
	if err := os.WriteFile(path, []byte{0x1f, 0x8b, 0x00, 0x01}, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Extract(context.Background(), path); !errors.Is(err, extension.ErrArchive) {
		t.Fatalf("expected archive error, got %v", err)
	}
}

func TestWithExtractedRemovesOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.alix")
	writeTar(t, path, []member{{name: "sig", body: "x"}})

	boom := errors.New("boom")
	var seen string
	err := WithExtracted(context.Background(), path, func(dir string) error {
		seen = dir
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if _, statErr := os.Stat(seen); !os.IsNotExist(statErr) {
		t.Fatalf("directory should be removed when callback fails")
	}

	if err := WithExtracted(context.Background(), path, func(string) error { return nil }); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := os.Stat(filepath.Join(DestFor(path), "sig")); err != nil {
		t.Fatalf("directory should be kept on success: %v", err)
	}
}

func TestDestFor(t *testing.T) {
	if got := DestFor("/tmp/x/ext.tgz"); got != "/tmp/x/ext" {
		t.Fatalf("unexpected dest: %s", got)
	}
	if got := DestFor("/tmp/x/noext"); got != "" {
		t.Fatalf("expected empty dest, got %s", got)
	}
}
