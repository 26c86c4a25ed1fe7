package metadata

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// LoadFile reads entity definitions from a JSON file and validates their
// structure. Operation and column grants are validated separately when the
// permission table is built; this pass only rejects shapes that can never
// be valid regardless of permissions.
func LoadFile(path string) ([]*Entity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read entities file: %w", err)
	}

	var doc struct {
		Entities []*Entity `json:"entities"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse entities file: %w", err)
	}

	if err := validate(doc.Entities); err != nil {
		return nil, err
	}

	log.Printf("Loaded %d entity definitions from %s", len(doc.Entities), path)
	return doc.Entities, nil
}

func validate(entities []*Entity) error {
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			return fmt.Errorf("entity with empty name")
		}
		if seen[e.Name] {
			return fmt.Errorf("entity %s: defined twice", e.Name)
		}
		seen[e.Name] = true

		if e.Source.Object == "" {
			return fmt.Errorf("entity %s: missing source object", e.Name)
		}
		switch e.Source.Type {
		case SourceTable, SourceView, SourceStoredProcedure:
		case "":
			e.Source.Type = SourceTable
		default:
			return fmt.Errorf("entity %s: unknown source type %q", e.Name, e.Source.Type)
		}

		fields := make(map[string]bool, len(e.Fields))
		for _, f := range e.Fields {
			if f.Name == "" {
				return fmt.Errorf("entity %s: field with empty name", e.Name)
			}
			if fields[f.Name] {
				return fmt.Errorf("entity %s: field %s defined twice", e.Name, f.Name)
			}
			fields[f.Name] = true
		}

		if e.Source.Type != SourceStoredProcedure {
			if e.PrimaryKey.Field == "" {
				return fmt.Errorf("entity %s: missing primary key", e.Name)
			}
			if !fields[e.PrimaryKey.Field] {
				return fmt.Errorf("entity %s: primary key %s is not a field", e.Name, e.PrimaryKey.Field)
			}
		}
	}
	return nil
}
