// Package source reads the per-extension meta.json descriptors that tell the
// builder where each extension's package comes from.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/any-listen/any-listen-extension-store/core/infra/schema"
	"github.com/any-listen/any-listen-extension-store/core/pathguard"
)

// FileName is the descriptor file inside each extension source directory.
const FileName = "meta.json"

var (
	// ErrNoDescriptor means the directory has no meta.json.
	ErrNoDescriptor = errors.New("descriptor not found")
	// ErrNoRoute means the descriptor names neither a version info URL nor a
	// package file.
	ErrNoRoute = errors.New("descriptor has no version source")
)

// Descriptor locates the package for one extension id.
type Descriptor struct {
	ID             string `json:"id"`
	VersionInfoURL string `json:"version_info_url,omitempty"`
	PackageName    string `json:"package_name,omitempty"`

	// Dir is the source directory the descriptor was read from.
	Dir string `json:"-"`
}

// Remote reports whether the package is published behind a version info URL.
// It takes precedence over a local package.
func (d Descriptor) Remote() bool {
	return d.VersionInfoURL != ""
}

// PackagePath returns the local package file, confined to the source
// directory.
func (d Descriptor) PackagePath() (string, error) {
	return pathguard.Join(d.Dir, d.PackageName)
}

// Load reads and validates <dir>/meta.json.
func Load(dir string) (Descriptor, error) {
	path := filepath.Join(dir, FileName)
	// #nosec G304 -- dir is a child of the configured extensions directory.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Descriptor{}, fmt.Errorf("%s: %w", dir, ErrNoDescriptor)
		}
		return Descriptor{}, fmt.Errorf("read %s: %w", path, err)
	}
	if err := schema.Validate(schema.Descriptor, data); err != nil {
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("decode %s: %w", path, err)
	}
	d.Dir = dir
	if d.VersionInfoURL == "" && d.PackageName == "" {
		return d, fmt.Errorf("%s: %w", d.ID, ErrNoRoute)
	}
	return d, nil
}

// Scan lists the source directories under extensionsDir in name order.
func Scan(extensionsDir string) ([]string, error) {
	entries, err := os.ReadDir(extensionsDir)
	if err != nil {
		return nil, fmt.Errorf("read extensions dir: %w", err)
	}
	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(extensionsDir, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
