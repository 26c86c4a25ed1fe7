package metadata

// SourceType classifies the database object an entity is backed by.
type SourceType string

const (
	SourceTable           SourceType = "table"
	SourceView            SourceType = "view"
	SourceStoredProcedure SourceType = "stored-procedure"
)

// Source describes the database object behind an entity.
type Source struct {
	Object string     `json:"object"`
	Type   SourceType `json:"type"`
}

type Entity struct {
	Name        string       `json:"name"`
	Source      Source       `json:"source"`
	PrimaryKey  PrimaryKey   `json:"primary_key"`
	Fields      []Field      `json:"fields"`
	Permissions []Permission `json:"permissions"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

// Permission grants a single role a list of actions on the entity.
type Permission struct {
	Role    string   `json:"role"`
	Actions []Action `json:"actions"`
}

// Action is one operation grant, optionally scoped to a field subset and
// guarded by policies. Operation accepts the concrete operation names plus
// the wildcard ("*" or "all").
type Action struct {
	Operation string      `json:"operation"`
	Fields    *FieldScope `json:"fields,omitempty"`
	Policy    *Policy     `json:"policy,omitempty"`
}

// FieldScope restricts the columns an action applies to. Either list may
// contain the wildcard "*". Exclude always wins over Include.
type FieldScope struct {
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// Policy holds the per-action policy expressions. Request is evaluated
// against the caller's claims before the query is built; Database is a row
// predicate template with @claims.<type> and @item.<column> tokens.
type Policy struct {
	Request  string `json:"request,omitempty"`
	Database string `json:"database,omitempty"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// UpdatableFields returns fields that can be set on UPDATE.
// Excludes the PK and auto-managed fields.
func (e *Entity) UpdatableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}
