package pathguard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

var icons = []string{".png", ".jpg", ".jpeg", ".webp", ".svg"}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolveAcceptsContainedFile(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "assets", "logo.PNG"))

	got, err := Resolve(base, "assets/logo.PNG", icons)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want, err := filepath.EvalSymlinks(filepath.Join(base, "assets", "logo.PNG"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != want {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestResolveRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "bundle")
	writeFile(t, filepath.Join(root, "secret.png"))
	if err := os.MkdirAll(base, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	cases := []string{"../secret.png", "/etc/passwd", "a/../../secret.png", "logo\x00.png", "."}
	for _, rel := range cases {
		if _, err := Resolve(base, rel, icons); !errors.Is(err, extension.ErrPathTraversal) {
			t.Fatalf("expected traversal error for %q, got %v", rel, err)
		}
	}
}

func TestResolveMissingIsEmpty(t *testing.T) {
	got, err := Resolve(t.TempDir(), "missing.png", icons)
	if err != nil || got != "" {
		t.Fatalf("expected empty result, got %q %v", got, err)
	}
}

func TestResolveDisallowedType(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "run.sh"))
	if _, err := Resolve(base, "run.sh", icons); !errors.Is(err, ErrDisallowedType) {
		t.Fatalf("expected disallowed type, got %v", err)
	}
	if _, err := Resolve(base, "run.sh", nil); err != nil {
		t.Fatalf("empty allow-list should accept any extension: %v", err)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "bundle")
	outside := filepath.Join(root, "outside.png")
	writeFile(t, outside)
	if err := os.MkdirAll(base, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(base, "icon.png")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := Resolve(base, "icon.png", icons); !errors.Is(err, extension.ErrPathTraversal) {
		t.Fatalf("expected traversal error, got %v", err)
	}
}

func TestResolveRejectsSymlinkToDisallowedType(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "notes.txt"))
	if err := os.Symlink(filepath.Join(base, "notes.txt"), filepath.Join(base, "icon.png")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := Resolve(base, "icon.png", icons); !errors.Is(err, ErrDisallowedType) {
		t.Fatalf("expected disallowed type for link target, got %v", err)
	}
}

func TestResolveReturnsSymlinkTarget(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "assets", "logo.webp"))
	if err := os.Symlink(filepath.Join("assets", "logo.webp"), filepath.Join(base, "icon.webp")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	got, err := Resolve(base, "icon.webp", icons)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want, err := filepath.EvalSymlinks(filepath.Join(base, "assets", "logo.webp"))
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got != want {
		t.Fatalf("expected resolved target %s, got %s", want, got)
	}
}

func TestJoin(t *testing.T) {
	base := t.TempDir()
	got, err := Join(base, "i18n/zh-cn.json")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got != filepath.Join(base, "i18n", "zh-cn.json") {
		t.Fatalf("unexpected join: %s", got)
	}
	if _, err := Join(base, "../x"); !errors.Is(err, extension.ErrPathTraversal) {
		t.Fatalf("expected traversal error, got %v", err)
	}
}
