package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"crudgate/internal/metadata"
	"crudgate/internal/store"
)

type QueryPlan struct {
	Entity  *metadata.Entity
	Columns []string
	Filters []WhereClause
	Sorts   []OrderClause
	Page    int
	PerPage int
	// Predicate is the parameterized database policy for this request,
	// conjoined verbatim (after @item rewriting) into the WHERE clause.
	Predicate string
}

type WhereClause struct {
	Field    string
	Operator string
	Value    any
}

type OrderClause struct {
	Field string
	Dir   string // ASC or DESC
}

type QueryResult struct {
	SQL    string
	Params []any
}

// ParseQueryParams parses Fiber query parameters into a QueryPlan.
func ParseQueryParams(c *fiber.Ctx, entity *metadata.Entity) (*QueryPlan, error) {
	plan := &QueryPlan{
		Entity:  entity,
		Page:    1,
		PerPage: 25,
	}

	// Parse filters: filter[field]=val or filter[field.op]=val
	queries := c.Queries()
	for key, val := range queries {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1] // extract between [ and ]
		field, op := parseFilterKey(inner)

		if !entity.HasField(field) {
			return nil, &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown filter field: %s", field),
			}
		}

		coerced, err := coerceValue(entity.GetField(field), val)
		if err != nil {
			return nil, &AppError{
				Code:    "INVALID_PAYLOAD",
				Status:  400,
				Message: fmt.Sprintf("Invalid filter value for %s: %v", field, err),
			}
		}

		plan.Filters = append(plan.Filters, WhereClause{
			Field:    field,
			Operator: op,
			Value:    coerced,
		})
	}

	// Parse sort: sort=-created_at,name
	if sortParam := c.Query("sort"); sortParam != "" {
		parts := strings.Split(sortParam, ",")
		for _, part := range parts {
			part = strings.TrimSpace(part)
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !entity.HasField(field) {
				return nil, &AppError{
					Code:    "UNKNOWN_FIELD",
					Status:  400,
					Message: fmt.Sprintf("Unknown sort field: %s", field),
				}
			}
			plan.Sorts = append(plan.Sorts, OrderClause{Field: field, Dir: dir})
		}
	}

	// Parse pagination
	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			plan.Page = v
		}
	}
	if pp := c.Query("per_page"); pp != "" {
		if v, err := strconv.Atoi(pp); err == nil && v > 0 {
			plan.PerPage = v
			if plan.PerPage > 100 {
				plan.PerPage = 100
			}
		}
	}

	return plan, nil
}

// ReferencedColumns returns the select columns plus every column the
// plan's filters and sorts touch. Permission checks run against this set:
// a column hidden from the role must not be reachable through a filter or
// sort either, since result counts and ordering leak its values.
func (p *QueryPlan) ReferencedColumns(selectColumns []string) []string {
	seen := make(map[string]bool, len(selectColumns))
	cols := make([]string, 0, len(selectColumns))
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			cols = append(cols, name)
		}
	}
	for _, c := range selectColumns {
		add(c)
	}
	for _, f := range p.Filters {
		add(f.Field)
	}
	for _, s := range p.Sorts {
		add(s.Field)
	}
	return cols
}

// BuildSelectSQL builds a parameterized SELECT statement from the query plan.
// The column list is the caller-visible allow-set; SELECT * is never emitted.
func BuildSelectSQL(plan *QueryPlan, pb store.ParamBuilder) QueryResult {
	entity := plan.Entity
	columns := strings.Join(plan.Columns, ", ")

	where := buildWhereList(plan, pb)

	sql := fmt.Sprintf("SELECT %s FROM %s", columns, entity.Source.Object)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if len(plan.Sorts) > 0 {
		var orderParts []string
		for _, s := range plan.Sorts {
			orderParts = append(orderParts, fmt.Sprintf("%s %s", s.Field, s.Dir))
		}
		sql += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	limit := pb.Add(plan.PerPage)
	offset := pb.Add((plan.Page - 1) * plan.PerPage)
	sql += fmt.Sprintf(" LIMIT %s OFFSET %s", limit, offset)

	return QueryResult{SQL: sql, Params: pb.Params()}
}

// BuildCountSQL builds a COUNT query with the same filters as the select.
func BuildCountSQL(plan *QueryPlan, pb store.ParamBuilder) QueryResult {
	where := buildWhereList(plan, pb)

	sql := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", plan.Entity.Source.Object)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	return QueryResult{SQL: sql, Params: pb.Params()}
}

func buildWhereList(plan *QueryPlan, pb store.ParamBuilder) []string {
	var where []string
	for _, f := range plan.Filters {
		where = append(where, buildWhereClause(f, pb))
	}
	if plan.Predicate != "" {
		where = append(where, "("+RewritePredicate(plan.Predicate)+")")
	}
	return where
}

// RewritePredicate binds the @item.<column> tokens of a parameterized
// policy to the generated query: the single-table statements here need the
// bare column name. Tokens inside single-quoted literals stay untouched,
// so a claim value containing "@item." survives verbatim.
func RewritePredicate(predicate string) string {
	var out strings.Builder
	inQuote := false
	for i := 0; i < len(predicate); {
		ch := predicate[i]
		if ch == '\'' {
			inQuote = !inQuote
			out.WriteByte(ch)
			i++
			continue
		}
		if !inQuote && strings.HasPrefix(predicate[i:], "@item.") {
			i += len("@item.")
			continue
		}
		out.WriteByte(ch)
		i++
	}
	return out.String()
}

func buildWhereClause(f WhereClause, pb store.ParamBuilder) string {
	switch f.Operator {
	case "eq", "":
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	case "neq":
		return fmt.Sprintf("%s != %s", f.Field, pb.Add(f.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", f.Field, pb.Add(f.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", f.Field, pb.Add(f.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", f.Field, pb.Add(f.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", f.Field, pb.Add(f.Value))
	case "like":
		return fmt.Sprintf("%s LIKE %s", f.Field, pb.Add(f.Value))
	default:
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	}
}

func parseFilterKey(key string) (string, string) {
	if idx := strings.LastIndex(key, "."); idx > 0 {
		return key[:idx], key[idx+1:]
	}
	return key, "eq"
}

func coerceValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "int", "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "decimal", "float":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(val)
	default:
		return val, nil
	}
}
