package authz

import (
	"fmt"
	"strings"

	"crudgate/internal/metadata"
)

// Operation is a closed enum of the actions an entity permission can
// grant. OpAll is a config-time wildcard only: it is expanded while the
// permission table is built and never appears as a table key.
type Operation string

const (
	OpCreate  Operation = "create"
	OpRead    Operation = "read"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpUpsert  Operation = "upsert"
	OpExecute Operation = "execute"
	OpAll     Operation = "*"
)

// ParseOperation maps a configured operation literal to the enum. Both
// "*" and "all" denote the wildcard. Unknown literals are a configuration
// error, reported at table-build time.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(s) {
	case "create":
		return OpCreate, nil
	case "read":
		return OpRead, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	case "upsert":
		return OpUpsert, nil
	case "execute":
		return OpExecute, nil
	case "*", "all":
		return OpAll, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// OperationsForSource returns the concrete set the wildcard expands to for
// a source type: tables and views get the CRUD set, stored procedures get
// execute only.
func OperationsForSource(t metadata.SourceType) []Operation {
	if t == metadata.SourceStoredProcedure {
		return []Operation{OpExecute}
	}
	return []Operation{OpCreate, OpRead, OpUpdate, OpDelete}
}

// validFor reports whether a concrete operation may be configured for a
// source type at all.
func (o Operation) validFor(t metadata.SourceType) bool {
	if t == metadata.SourceStoredProcedure {
		return o == OpExecute
	}
	return o != OpExecute
}
