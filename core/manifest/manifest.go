// Package manifest turns an untrusted, decoded manifest.json document into an
// extension.Manifest.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
	"github.com/any-listen/any-listen-extension-store/core/pathguard"
)

// FileName is the manifest member inside the inner bundle.
const FileName = "manifest.json"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Options controls the icon side effect of Sanitize.
type Options struct {
	// BundleDir is the extracted inner bundle the manifest came from. Icon
	// paths are resolved against it.
	BundleDir string
	// ExtensionsDir holds one directory per extension id; accepted icons are
	// copied to <ExtensionsDir>/<id>/icon<.ext>. Empty skips the copy.
	ExtensionsDir string
	// AssetBaseURL prefixes the public icon URL. Empty uses
	// extension.DefaultAssetBaseURL.
	AssetBaseURL string
	// ExpectID, when set, must equal the manifest id. It is checked before
	// any icon is installed.
	ExpectID string
}

// Decode parses manifest bytes into the generic form Sanitize accepts.
func Decode(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, extension.Wrap(extension.ErrManifest, "decode "+FileName, err)
	}
	return raw, nil
}

// Sanitize validates raw and coerces it into a Manifest. Failures wrap
// extension.ErrManifest and name the first invalid required field.
func Sanitize(raw any, opts Options) (*extension.Manifest, error) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, extension.Errorf(extension.ErrManifest, "manifest must be an object, got %s", typeName(raw))
	}

	m := &extension.Manifest{ID: str(doc["id"])}
	if m.ID == "" {
		return nil, extension.Errorf(extension.ErrManifest, "id not defined")
	}
	if !idPattern.MatchString(m.ID) {
		return nil, extension.Errorf(extension.ErrManifest, "id %q invalid", m.ID)
	}
	if opts.ExpectID != "" && m.ID != opts.ExpectID {
		return nil, extension.Errorf(extension.ErrManifest, "id mismatch: expected %q, got %q", opts.ExpectID, m.ID)
	}
	if m.Name = str(doc["name"]); m.Name == "" {
		return nil, extension.Errorf(extension.ErrManifest, "name not defined")
	}
	if m.Main = str(doc["main"]); m.Main == "" {
		return nil, extension.Errorf(extension.ErrManifest, "main not defined")
	}

	m.Description = str(doc["description"])
	m.Version = str(doc["version"])
	m.TargetEngine = str(doc["target_engine"])
	m.Author = str(doc["author"])
	m.Homepage = str(doc["homepage"])
	m.License = str(doc["license"])
	m.Categories = strs(doc["categories"])
	m.Tags = strs(doc["tags"])
	m.Grant = allowed(doc["grant"], Grants)
	m.Contributes = contributes(doc["contributes"])
	m.Icon = icon(m.ID, str(doc["icon"]), opts)
	return m, nil
}

func contributes(v any) extension.Contributes {
	doc, ok := v.(map[string]any)
	if !ok {
		return extension.Contributes{}
	}
	var out extension.Contributes
	if items, ok := doc["resource"].([]any); ok {
		out.Resource = make([]extension.Resource, 0, len(items))
		for _, item := range items {
			res, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out.Resource = append(out.Resource, extension.Resource{
				ID:       str(res["id"]),
				Name:     str(res["name"]),
				Resource: allowed(res["resource"], Resources),
			})
		}
	}
	if items, ok := doc["settings"].([]any); ok {
		out.Settings = make(extension.Settings, 0, len(items))
		for _, item := range items {
			s, ok := item.(map[string]any)
			if !ok {
				logging.Warn("manifest", "setting dropped", "reason", "not an object")
				continue
			}
			if setting := settingOf(s); setting != nil {
				out.Settings = append(out.Settings, setting)
			}
		}
	}
	return out
}

func settingOf(s map[string]any) extension.Setting {
	kind, _ := s["type"].(string)
	switch kind {
	case extension.SettingInput:
		return extension.InputSetting{
			Field:       str(s["field"]),
			Name:        str(s["name"]),
			Description: str(s["description"]),
			Type:        kind,
			Textarea:    truthy(s["textarea"]),
			Default:     str(s["default"]),
		}
	case extension.SettingBoolean:
		return extension.BooleanSetting{
			Field:       str(s["field"]),
			Name:        str(s["name"]),
			Description: str(s["description"]),
			Type:        kind,
			Default:     truthy(s["default"]),
		}
	case extension.SettingSelection:
		return extension.SelectionSetting{
			Field:       str(s["field"]),
			Name:        str(s["name"]),
			Description: str(s["description"]),
			Type:        kind,
			Default:     str(s["default"]),
			Enum:        strs(s["enum"]),
			EnumName:    strs(s["enumName"]),
		}
	default:
		logging.Warn("manifest", "unknown setting type dropped", "type", fmt.Sprint(s["type"]), "field", str(s["field"]))
		return nil
	}
}

// icon resolves the declared icon inside the bundle, copies it to the
// canonical location and returns its public URL. Any failure yields "".
func icon(id, declared string, opts Options) string {
	if declared == "" || opts.BundleDir == "" {
		return ""
	}
	src, err := pathguard.Resolve(opts.BundleDir, declared, IconExtensions)
	if err != nil {
		logging.Warn("manifest", "icon rejected", "id", id, "icon", declared, "err", err)
		return ""
	}
	if src == "" {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(src))
	name := "icon" + ext
	if opts.ExtensionsDir != "" {
		if err := installIcon(filepath.Join(opts.ExtensionsDir, id), src, name); err != nil {
			logging.Warn("manifest", "icon copy failed", "id", id, "err", err)
			return ""
		}
	}
	return extension.AssetURL(opts.AssetBaseURL, id, name)
}

func installIcon(dir, src, name string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "icon.") {
			if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
				return err
			}
		}
	}
	// #nosec G304 -- src was resolved by pathguard.Resolve.
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// str coerces a decoded JSON value to a string. Arrays render as their
// elements joined with ",". Absent, null and object values become "".
func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = str(item)
		}
		return strings.Join(parts, ",")
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return t.String()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func strs(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, str(item))
	}
	return out
}

// allowed keeps the string elements of v that belong to set.
func allowed(v any, set []string) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && contains(set, s) {
			out = append(out, s)
		}
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	default:
		return true
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
