package extension

import "testing"

func TestAssetURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://cdn.example.test/ext", "https://cdn.example.test/ext/demo/icon.png"},
		{"https://cdn.example.test/ext/", "https://cdn.example.test/ext/demo/icon.png"},
		{"", DefaultAssetBaseURL + "/demo/icon.png"},
		{"/", DefaultAssetBaseURL + "/demo/icon.png"},
	}
	for _, tc := range cases {
		if got := AssetURL(tc.base, "demo", "icon.png"); got != tc.want {
			t.Fatalf("AssetURL(%q) = %q, want %q", tc.base, got, tc.want)
		}
	}
}
