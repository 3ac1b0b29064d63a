package persistence

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func snapshotSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("snapshot.schema.json", snapshotSchemaJSON)
	})
	return schema, schemaErr
}

// Validate checks raw snapshot JSON against the snapshot schema.
func Validate(raw []byte) error {
	s, err := snapshotSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	return nil
}
