package schema

import (
	"encoding/json"
	"testing"
)

func TestValidateSchema(t *testing.T) {
	schema := []byte(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`)
	if err := ValidateSchema("test", schema, map[string]any{"name": "ok"}); err != nil {
		t.Fatalf("expected valid schema: %v", err)
	}
	if err := ValidateSchema("test", schema, map[string]any{"nope": "bad"}); err == nil {
		t.Fatalf("expected schema validation error")
	}
}

func TestBuiltinDescriptor(t *testing.T) {
	if err := Validate(Descriptor, []byte(`{"id":"kw","package_name":"kw.alix"}`)); err != nil {
		t.Fatalf("expected descriptor valid: %v", err)
	}
	if err := Validate(Descriptor, []byte(`{"id":"bad id"}`)); err == nil {
		t.Fatalf("expected id pattern violation")
	}
	if err := Validate(Descriptor, []byte(`{"package_name":"x"}`)); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestBuiltinVersionInfo(t *testing.T) {
	if err := Validate(VersionInfo, map[string]any{"version": "1.0.0", "download_url": "https://x/y.alix"}); err != nil {
		t.Fatalf("expected version info valid: %v", err)
	}
	for _, doc := range []string{`{"version":"1.0.0"}`, `{"download_url":"u"}`, `{"version":"","download_url":"u"}`} {
		if err := Validate(VersionInfo, json.RawMessage(doc)); err == nil {
			t.Fatalf("expected error for %s", doc)
		}
	}
	if err := Validate("nope", nil); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}

func TestNormalizeValueInvalidJSON(t *testing.T) {
	if _, err := normalizeValue(json.RawMessage("{")); err == nil {
		t.Fatalf("expected error for invalid raw json")
	}
	if _, err := normalizeValue([]byte("{")); err == nil {
		t.Fatalf("expected error for invalid byte json")
	}
}

func TestSchemaIDDefault(t *testing.T) {
	if got := schemaID(""); got != "inmemory://schema" {
		t.Fatalf("unexpected schema id: %s", got)
	}
}
