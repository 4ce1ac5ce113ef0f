// Package index loads and persists the public registry index: list.json, one
// registry/<id>.json per extension and i18n/<lang>.json message tables.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
)

const (
	ListFile    = "list.json"
	RegistryDir = "registry"
	I18nDir     = "i18n"
)

// Snapshot is a full, in-memory copy of the persisted index.
type Snapshot struct {
	List     []extension.ListEntry
	Registry map[string]*extension.Record
	Messages i18n.Messages
}

type listDoc struct {
	All []extension.ListEntry `json:"all"`
}

// Empty returns a snapshot with no entries.
func Empty() *Snapshot {
	return &Snapshot{
		List:     []extension.ListEntry{},
		Registry: map[string]*extension.Record{},
		Messages: i18n.Messages{},
	}
}

// Entry returns the list entry for id.
func (s *Snapshot) Entry(id string) (extension.ListEntry, bool) {
	for _, e := range s.List {
		if e.ID == id {
			return e, true
		}
	}
	return extension.ListEntry{}, false
}

// Record returns the registry record for id.
func (s *Snapshot) Record(id string) (*extension.Record, bool) {
	r, ok := s.Registry[id]
	return r, ok
}

// IDs returns the ids in list order.
func (s *Snapshot) IDs() []string {
	out := make([]string, 0, len(s.List))
	for _, e := range s.List {
		out = append(out, e.ID)
	}
	return out
}

// Check reports the first id-consistency violation between list and
// registry, or nil.
func (s *Snapshot) Check() error {
	seen := make(map[string]struct{}, len(s.List))
	for _, e := range s.List {
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("duplicate list entry %q", e.ID)
		}
		seen[e.ID] = struct{}{}
		if _, ok := s.Registry[e.ID]; !ok {
			return fmt.Errorf("list entry %q has no registry record", e.ID)
		}
	}
	for id := range s.Registry {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("registry record %q is not listed", id)
		}
	}
	return nil
}

// Load reads the index under dataDir. Missing files load as empty.
func Load(dataDir string) (*Snapshot, error) {
	snap := Empty()

	data, err := os.ReadFile(filepath.Join(dataDir, ListFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", ListFile, err)
	default:
		var doc listDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ListFile, err)
		}
		if doc.All != nil {
			snap.List = doc.All
		}
	}

	regDir := filepath.Join(dataDir, RegistryDir)
	entries, err := os.ReadDir(regDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", RegistryDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		// #nosec G304 -- path comes from listing the data directory.
		raw, err := os.ReadFile(filepath.Join(regDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read registry %s: %w", entry.Name(), err)
		}
		var rec extension.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode registry %s: %w", entry.Name(), err)
		}
		if rec.ID == "" {
			continue
		}
		snap.Registry[rec.ID] = &rec
	}

	msgs, err := i18n.LoadDir(filepath.Join(dataDir, I18nDir))
	if err != nil {
		return nil, err
	}
	snap.Messages = msgs
	return snap, nil
}

// Write replaces the index under dataDir with snap. The new tree is fully
// assembled in a staging directory first, so a failure leaves the previous
// index in place.
func Write(dataDir string, snap *Snapshot) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	staging := filepath.Join(dataDir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := stage(staging, snap); err != nil {
		return err
	}
	for _, dir := range []string{RegistryDir, I18nDir} {
		if err := swapDir(filepath.Join(staging, dir), filepath.Join(dataDir, dir)); err != nil {
			return err
		}
	}
	if err := os.Rename(filepath.Join(staging, ListFile), filepath.Join(dataDir, ListFile)); err != nil {
		return fmt.Errorf("replace %s: %w", ListFile, err)
	}
	return nil
}

func stage(dir string, snap *Snapshot) error {
	list := snap.List
	if list == nil {
		list = []extension.ListEntry{}
	}
	if err := writeJSON(filepath.Join(dir, ListFile), listDoc{All: list}); err != nil {
		return err
	}

	regDir := filepath.Join(dir, RegistryDir)
	if err := os.MkdirAll(regDir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	ids := make([]string, 0, len(snap.Registry))
	for id := range snap.Registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := writeJSON(filepath.Join(regDir, id+".json"), snap.Registry[id]); err != nil {
			return err
		}
	}

	msgDir := filepath.Join(dir, I18nDir)
	if err := os.MkdirAll(msgDir, 0o755); err != nil {
		return fmt.Errorf("create i18n dir: %w", err)
	}
	for _, lang := range snap.Messages.Langs() {
		if err := writeJSON(filepath.Join(msgDir, lang+".json"), snap.Messages[lang]); err != nil {
			return err
		}
	}
	return nil
}

// swapDir moves next into place at target, parking the old tree until the
// rename succeeds.
func swapDir(next, target string) error {
	old := target + ".old-" + uuid.NewString()
	hadOld := true
	if err := os.Rename(target, old); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("park %s: %w", filepath.Base(target), err)
		}
		hadOld = false
	}
	if err := os.Rename(next, target); err != nil {
		if hadOld {
			_ = os.Rename(old, target)
		}
		return fmt.Errorf("replace %s: %w", filepath.Base(target), err)
	}
	if hadOld {
		_ = os.RemoveAll(old)
	}
	return nil
}

// Marshal renders v the way index files are stored: two-space indent,
// no HTML escaping.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeJSON(path string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
