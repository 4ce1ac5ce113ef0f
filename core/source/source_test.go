package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

func writeMeta(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadRoutes(t *testing.T) {
	root := t.TempDir()
	remote := filepath.Join(root, "remote")
	writeMeta(t, remote, `{"id":"remote","version_info_url":"https://x/v.json","package_name":"ignored.alix"}`)
	d, err := Load(remote)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !d.Remote() || d.Dir != remote {
		t.Fatalf("expected remote descriptor, got %#v", d)
	}

	local := filepath.Join(root, "local")
	writeMeta(t, local, `{"id":"local","package_name":"local.alix"}`)
	d, err = Load(local)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if d.Remote() {
		t.Fatalf("expected local descriptor")
	}
	path, err := d.PackagePath()
	if err != nil || path != filepath.Join(local, "local.alix") {
		t.Fatalf("unexpected package path %q %v", path, err)
	}
}

func TestLoadFailures(t *testing.T) {
	root := t.TempDir()
	if _, err := Load(filepath.Join(root, "none")); !errors.Is(err, ErrNoDescriptor) {
		t.Fatalf("expected missing descriptor, got %v", err)
	}

	noRoute := filepath.Join(root, "noroute")
	writeMeta(t, noRoute, `{"id":"noroute"}`)
	if _, err := Load(noRoute); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected no route, got %v", err)
	}

	invalid := filepath.Join(root, "invalid")
	writeMeta(t, invalid, `{"id":"../escape","package_name":"x"}`)
	if _, err := Load(invalid); err == nil {
		t.Fatalf("expected schema error for invalid id")
	}
}

func TestPackagePathConfined(t *testing.T) {
	d := Descriptor{ID: "x", PackageName: "../../etc/passwd", Dir: t.TempDir()}
	if _, err := d.PackagePath(); !errors.Is(err, extension.ErrPathTraversal) {
		t.Fatalf("expected traversal error, got %v", err)
	}
}

func TestScanSorted(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b", "a"} {
		if err := os.MkdirAll(filepath.Join(root, name), 0o750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "README.md"), nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	dirs, err := Scan(root)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(dirs) != 2 || filepath.Base(dirs[0]) != "a" {
		t.Fatalf("unexpected dirs: %v", dirs)
	}
}
