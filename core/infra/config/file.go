package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/any-listen/any-listen-extension-store/core/infra/schema"
)

const fileSchema = "schema/config.schema.json"

//go:embed schema/*.json
var schemaFS embed.FS

func (c *Config) loadFile(path string) error {
	// #nosec G304 -- config path is operator-provided.
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return c.parse(data)
}

// parse overlays YAML data on c after validating it against the file schema.
func (c *Config) parse(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if payload == nil {
		return nil
	}
	asJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	schemaBytes, err := schemaFS.ReadFile(fileSchema)
	if err != nil {
		return fmt.Errorf("load config schema: %w", err)
	}
	if err := schema.ValidateSchema("extstore-config", schemaBytes, asJSON); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}
