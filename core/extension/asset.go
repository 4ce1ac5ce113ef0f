package extension

import "strings"

// DefaultAssetBaseURL is where locally bundled packages and icons are served.
const DefaultAssetBaseURL = "https://raw.githubusercontent.com/any-listen/any-listen-extension-store/main/extensions"

// AssetURL returns <base>/<id>/<name>, falling back to DefaultAssetBaseURL
// when base is empty.
func AssetURL(base, id, name string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultAssetBaseURL
	}
	return base + "/" + id + "/" + name
}
