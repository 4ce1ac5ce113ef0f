// Package i18n collects localized extension text into per-language message
// maps keyed by "<id>.<field>".
package i18n

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
)

// DirName is the bundle subdirectory holding <lang>.json fragments.
const DirName = "i18n"

// Fields lists the manifest fields that may be localized.
var Fields = []string{"description"}

// Languages are the language tags accepted for fragment files.
var Languages = []string{
	"ar-sa", "cs-cz", "da-dk", "de-de", "el-gr", "en-au", "en-gb", "en-ie",
	"en-us", "en-za", "es-es", "es-mx", "fi-fi", "fr-ca", "fr-fr", "he-il",
	"hi-in", "hu-hu", "id-id", "it-it", "ja-jp", "ko-kr", "nl-be", "nl-nl",
	"no-no", "pl-pl", "pt-br", "pt-pt", "ro-ro", "ru-ru", "sk-sk", "sv-se",
	"th-th", "tr-tr", "zh-cn", "zh-hk", "zh-tw",
}

// Messages maps a language tag to its message table.
type Messages map[string]map[string]string

// Fragment is the localized text shipped by a single extension, keyed by
// language and then by bare field name.
type Fragment map[string]map[string]string

// Clone returns a deep copy of m.
func (m Messages) Clone() Messages {
	out := make(Messages, len(m))
	for lang, table := range m {
		cp := make(map[string]string, len(table))
		for k, v := range table {
			cp[k] = v
		}
		out[lang] = cp
	}
	return out
}

// Langs returns the language tags of m in sorted order.
func (m Messages) Langs() []string {
	out := make([]string, 0, len(m))
	for lang := range m {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func (m Messages) table(lang string) map[string]string {
	t, ok := m[lang]
	if !ok {
		t = map[string]string{}
		m[lang] = t
	}
	return t
}

// Merge copies the localizable, non-empty fields of frag into dst under
// "<id>.<field>".
func Merge(dst Messages, id string, frag Fragment) {
	for lang, msgs := range frag {
		for _, field := range Fields {
			text := msgs[field]
			if text == "" {
				continue
			}
			dst.table(lang)[id+"."+field] = text
		}
	}
}

// CarryOver copies every key owned by id from prior into dst verbatim.
func CarryOver(dst, prior Messages, id string) {
	prefix := id + "."
	for lang, msgs := range prior {
		for key, text := range msgs {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			dst.table(lang)[key] = text
		}
	}
}

// Owned reports whether any language in m carries a key for id.
func (m Messages) Owned(id string) bool {
	prefix := id + "."
	for _, msgs := range m {
		for key := range msgs {
			if strings.HasPrefix(key, prefix) {
				return true
			}
		}
	}
	return false
}

// ReadFragment loads <bundleDir>/i18n/<lang>.json for every supported
// language. Unreadable or malformed files are skipped with a warning and
// non-string values are pruned.
func ReadFragment(bundleDir string) Fragment {
	frag := Fragment{}
	dir := filepath.Join(bundleDir, DirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.Warn("i18n", "read fragment dir failed", "dir", dir, "err", err)
		}
		return frag
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		lang := strings.TrimSuffix(name, ".json")
		if !supported(lang) {
			continue
		}
		msgs, err := readStrings(filepath.Join(dir, name))
		if err != nil {
			logging.Warn("i18n", "fragment skipped", "file", name, "err", err)
			continue
		}
		frag[lang] = msgs
	}
	return frag
}

// LoadDir reads every <lang>.json file in dir into a Messages map. A missing
// directory yields an empty map.
func LoadDir(dir string) (Messages, error) {
	out := Messages{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read i18n dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		msgs, err := readStrings(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		out[strings.TrimSuffix(name, ".json")] = msgs
	}
	return out, nil
}

func readStrings(path string) (map[string]string, error) {
	// #nosec G304 -- path is built from a directory listing under a trusted root.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return out, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out, nil
}

func supported(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}
