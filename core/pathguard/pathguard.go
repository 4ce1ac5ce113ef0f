// Package pathguard confines untrusted relative paths to a base directory.
package pathguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/any-listen/any-listen-extension-store/core/extension"
)

// ErrDisallowedType is returned when a resolved file has an extension outside
// the caller's allow-list.
var ErrDisallowedType = errors.New("file type not allowed")

// Resolve joins rel onto base and returns the fully resolved path when it
// stays inside base, exists, and the file it finally names carries one of the
// allowed extensions. A missing target yields "" with a nil error. An empty
// allowed list accepts any extension.
func Resolve(base, rel string, allowed []string) (string, error) {
	target, err := Join(base, rel)
	if err != nil {
		return "", err
	}
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", fmt.Errorf("resolve base: %w", err)
	}
	realTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("resolve %s: %w", rel, err)
	}
	if !within(realBase, realTarget) {
		return "", extension.Errorf(extension.ErrPathTraversal, "%s resolves outside %s", rel, base)
	}
	info, err := os.Stat(realTarget)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w: is a directory", rel, ErrDisallowedType)
	}
	if len(allowed) > 0 && !allowedExt(filepath.Ext(realTarget), allowed) {
		return "", fmt.Errorf("%s: %w", rel, ErrDisallowedType)
	}
	return realTarget, nil
}

// Join lexically joins an untrusted relative name onto base, rejecting
// absolute names, NUL bytes and any name that climbs out of base.
func Join(base, name string) (string, error) {
	if strings.ContainsRune(name, 0) {
		return "", extension.Errorf(extension.ErrPathTraversal, "path contains NUL byte")
	}
	trimmed := strings.TrimSpace(name)
	if filepath.IsAbs(trimmed) || strings.HasPrefix(trimmed, "/") || strings.HasPrefix(trimmed, `\`) {
		return "", extension.Errorf(extension.ErrPathTraversal, "absolute path: %s", name)
	}
	clean := filepath.Clean(filepath.FromSlash(trimmed))
	if clean == "." || clean == "" {
		return "", extension.Errorf(extension.ErrPathTraversal, "empty path: %q", name)
	}
	cleanBase := filepath.Clean(base)
	target := filepath.Join(cleanBase, clean)
	if !within(cleanBase, target) {
		return "", extension.Errorf(extension.ErrPathTraversal, "%s escapes %s", name, base)
	}
	return target, nil
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) || filepath.IsAbs(rel) {
		return false
	}
	return true
}

func allowedExt(ext string, allowed []string) bool {
	ext = strings.ToLower(ext)
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}
