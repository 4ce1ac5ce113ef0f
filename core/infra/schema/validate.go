package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var builtin embed.FS

// Built-in schema names.
const (
	Descriptor  = "descriptor"
	VersionInfo = "version_info"
)

var (
	builtinMu       sync.Mutex
	builtinCompiled = map[string]*jsonschema.Schema{}
)

// Validate checks value against one of the built-in schemas.
func Validate(name string, value any) error {
	compiled, err := builtinSchema(name)
	if err != nil {
		return err
	}
	return validate(compiled, value)
}

func builtinSchema(name string) (*jsonschema.Schema, error) {
	builtinMu.Lock()
	defer builtinMu.Unlock()
	if s, ok := builtinCompiled[name]; ok {
		return s, nil
	}
	data, err := builtin.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q", name)
	}
	s, err := compile(name, data)
	if err != nil {
		return nil, err
	}
	builtinCompiled[name] = s
	return s, nil
}

// ValidateSchema validates a value against a JSON schema payload.
func ValidateSchema(id string, schema []byte, value any) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema is empty")
	}
	compiled, err := compile(id, schema)
	if err != nil {
		return err
	}
	return validate(compiled, value)
}

func compile(id string, schema []byte) (*jsonschema.Schema, error) {
	resourceID := schemaID(id)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceID, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func validate(compiled *jsonschema.Schema, value any) error {
	payload, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("normalize payload: %w", err)
	}
	if err := compiled.Validate(payload); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return decode(v)
	case []byte:
		return decode(v)
	default:
		return value, nil
	}
}

func decode(data []byte) (any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

func schemaID(id string) string {
	if id == "" {
		id = "schema"
	}
	return "inmemory://" + id
}
