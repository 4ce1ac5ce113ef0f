package i18n

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMergePrefixesAndSkipsEmpty(t *testing.T) {
	dst := Messages{"en-us": {"other.description": "keep"}}
	Merge(dst, "demo", Fragment{
		"en-us": {"description": "Demo source", "name": "ignored"},
		"zh-cn": {"description": ""},
	})
	if dst["en-us"]["demo.description"] != "Demo source" {
		t.Fatalf("expected merged description, got %#v", dst)
	}
	if dst["en-us"]["other.description"] != "keep" {
		t.Fatalf("merge must not touch other ids")
	}
	if _, ok := dst["en-us"]["demo.name"]; ok {
		t.Fatalf("non-localizable field merged")
	}
	if _, ok := dst["zh-cn"]; ok {
		t.Fatalf("empty text should not create a language table")
	}
}

func TestCarryOverCopiesOnlyOwnedKeys(t *testing.T) {
	prior := Messages{
		"en-us": {"demo.description": "old", "demo2.description": "neighbour"},
		"ja-jp": {"demo.description": "古い"},
	}
	dst := Messages{}
	CarryOver(dst, prior, "demo")
	if len(dst["en-us"]) != 1 || dst["en-us"]["demo.description"] != "old" {
		t.Fatalf("unexpected en-us table: %#v", dst["en-us"])
	}
	if dst["ja-jp"]["demo.description"] != "古い" {
		t.Fatalf("expected ja-jp carried")
	}
	if !dst.Owned("demo") || dst.Owned("demo2") {
		t.Fatalf("unexpected ownership")
	}
}

func TestClone(t *testing.T) {
	m := Messages{"en-us": {"a.description": "x"}}
	cp := m.Clone()
	cp["en-us"]["a.description"] = "y"
	if m["en-us"]["a.description"] != "x" {
		t.Fatalf("clone shares storage")
	}
}

func TestReadFragment(t *testing.T) {
	bundle := t.TempDir()
	dir := filepath.Join(bundle, DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		"en-us.json": `{"description":"Hello","count":3}`,
		"zh-cn.json": `{broken`,
		"xx-yy.json": `{"description":"unsupported"}`,
		"notes.txt":  `ignored`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	frag := ReadFragment(bundle)
	if len(frag) != 1 {
		t.Fatalf("expected only en-us, got %#v", frag)
	}
	if frag["en-us"]["description"] != "Hello" {
		t.Fatalf("unexpected fragment: %#v", frag)
	}
	if _, ok := frag["en-us"]["count"]; ok {
		t.Fatalf("non-string values should be pruned")
	}
	if got := ReadFragment(t.TempDir()); len(got) != 0 {
		t.Fatalf("missing dir should give empty fragment")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "en-us.json"), []byte(`{"a.description":"x"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "zh-cn.json"), nil, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgs, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if msgs["en-us"]["a.description"] != "x" || msgs["zh-cn"] == nil {
		t.Fatalf("unexpected messages: %#v", msgs)
	}
	if got, err := LoadDir(filepath.Join(dir, "missing")); err != nil || len(got) != 0 {
		t.Fatalf("missing dir should be empty: %v", err)
	}
	if got := msgs.Langs(); len(got) != 2 || got[0] != "en-us" {
		t.Fatalf("unexpected langs: %v", got)
	}
}
