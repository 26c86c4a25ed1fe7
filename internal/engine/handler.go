package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"crudgate/internal/authz"
	"crudgate/internal/metadata"
	"crudgate/internal/store"
)

type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	resolver *authz.Resolver
	policies *PolicyEvaluator
}

func NewHandler(s *store.Store, reg *metadata.Registry, resolver *authz.Resolver) *Handler {
	return &Handler{
		store:    s,
		registry: reg,
		resolver: resolver,
		policies: NewPolicyEvaluator(),
	}
}

// List handles GET /api/:entity
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	role := getRole(c)
	columns, err := h.requestedReadColumns(c, entity, role)
	if err != nil {
		return err
	}

	plan, err := ParseQueryParams(c, entity)
	if err != nil {
		return err
	}

	// Filter and sort columns go through the same permission check as the
	// select list; an excluded column is invisible to the role entirely.
	predicate, err := h.authorize(c, entity, authz.OpRead, plan.ReferencedColumns(columns))
	if err != nil {
		return err
	}
	plan.Columns = columns
	plan.Predicate = predicate

	qr := BuildSelectSQL(plan, h.store.Dialect.NewParamBuilder())
	rows, err := store.QueryRows(c.Context(), h.store.DB, qr.SQL, qr.Params...)
	if err != nil {
		return fmt.Errorf("list %s: %w", entity.Name, err)
	}

	cr := BuildCountSQL(plan, h.store.Dialect.NewParamBuilder())
	countRow, err := store.QueryRow(c.Context(), h.store.DB, cr.SQL, cr.Params...)
	if err != nil {
		return fmt.Errorf("count %s: %w", entity.Name, err)
	}

	// Ensure non-nil slice for JSON
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{
			"page":     plan.Page,
			"per_page": plan.PerPage,
			"total":    countRow["count"],
		},
	})
}

// GetByID handles GET /api/:entity/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	role := getRole(c)
	columns, err := h.requestedReadColumns(c, entity, role)
	if err != nil {
		return err
	}

	predicate, err := h.authorize(c, entity, authz.OpRead, columns)
	if err != nil {
		return err
	}

	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	where := []string{fmt.Sprintf("%s = %s", entity.PrimaryKey.Field, pb.Add(id))}
	if predicate != "" {
		where = append(where, "("+RewritePredicate(predicate)+")")
	}

	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(columns, ", "), entity.Source.Object, strings.Join(where, " AND "))
	row, err := store.QueryRow(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return respondError(c, NotFoundError(entity.Name, id))
		}
		return fmt.Errorf("get %s/%s: %w", entity.Name, id, err)
	}

	return c.JSON(fiber.Map{"data": row})
}

// Create handles POST /api/:entity
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	columns := bodyColumns(body)
	if _, err := h.authorize(c, entity, authz.OpCreate, columns); err != nil {
		return err
	}

	values := map[string]any{}
	for _, f := range entity.WritableFields() {
		if v, ok := body[f.Name]; ok {
			values[f.Name] = v
		} else if f.Required {
			return respondError(c, NewAppError("VALIDATION_FAILED", 422,
				fmt.Sprintf("Missing required field: %s", f.Name)))
		}
	}

	id := body[entity.PrimaryKey.Field]
	if entity.PrimaryKey.Generated && entity.PrimaryKey.Type == "uuid" {
		id = uuid.New().String()
		values[entity.PrimaryKey.Field] = id
	}
	if len(values) == 0 {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "No writable fields in body"))
	}

	pb := h.store.Dialect.NewParamBuilder()
	var cols, placeholders []string
	for name, v := range values {
		cols = append(cols, name)
		placeholders = append(placeholders, pb.Add(v))
	}

	sqlStr := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		entity.Source.Object, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		if errors.Is(h.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return respondError(c, NewAppError("CONFLICT", 409, "Record violates a unique constraint"))
		}
		return fmt.Errorf("create %s: %w", entity.Name, err)
	}

	return c.Status(201).JSON(fiber.Map{"data": values})
}

// Update handles PUT /api/:entity/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body"))
	}

	columns := bodyColumns(body)
	predicate, err := h.authorize(c, entity, authz.OpUpdate, columns)
	if err != nil {
		return err
	}

	values := map[string]any{}
	for _, f := range entity.UpdatableFields() {
		if v, ok := body[f.Name]; ok {
			values[f.Name] = v
		}
	}
	if len(values) == 0 {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "No updatable fields in body"))
	}

	pb := h.store.Dialect.NewParamBuilder()
	var sets []string
	for name, v := range values {
		sets = append(sets, fmt.Sprintf("%s = %s", name, pb.Add(v)))
	}

	id := c.Params("id")
	where := []string{fmt.Sprintf("%s = %s", entity.PrimaryKey.Field, pb.Add(id))}
	if predicate != "" {
		where = append(where, "("+RewritePredicate(predicate)+")")
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		entity.Source.Object, strings.Join(sets, ", "), strings.Join(where, " AND "))
	n, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", entity.Name, id, err)
	}
	if n == 0 {
		// Either the row does not exist or the policy hides it; both look
		// the same to the caller.
		return respondError(c, NotFoundError(entity.Name, id))
	}

	return c.JSON(fiber.Map{"data": values})
}

// Delete handles DELETE /api/:entity/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	predicate, err := h.authorize(c, entity, authz.OpDelete, nil)
	if err != nil {
		return err
	}

	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	where := []string{fmt.Sprintf("%s = %s", entity.PrimaryKey.Field, pb.Add(id))}
	if predicate != "" {
		where = append(where, "("+RewritePredicate(predicate)+")")
	}

	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s", entity.Source.Object, strings.Join(where, " AND "))
	n, err := store.Exec(c.Context(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", entity.Name, id, err)
	}
	if n == 0 {
		return respondError(c, NotFoundError(entity.Name, id))
	}

	return c.SendStatus(204)
}

// Permissions handles GET /api/:entity/_permissions — a discovery view of
// which roles can run an operation and see each column.
func (h *Handler) Permissions(c *fiber.Ctx) error {
	entity, err := h.resolveEntity(c)
	if err != nil {
		return err
	}

	op, err := authz.ParseOperation(c.Query("operation", string(authz.OpRead)))
	if err != nil || op == authz.OpAll {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Unknown operation"))
	}

	byColumn := fiber.Map{}
	for _, col := range entity.FieldNames() {
		byColumn[col] = h.resolver.RolesForField(entity.Name, col, op)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"operation": op,
			"roles":     h.resolver.RolesForOperation(entity.Name, op),
			"columns":   byColumn,
		},
	})
}

// authorize runs the per-request permission checks for one operation:
// operation defined for the role, requested columns inside the allow-set,
// request policy satisfied. It returns the parameterized database policy
// predicate, or "" when none is configured.
func (h *Handler) authorize(c *fiber.Ctx, entity *metadata.Entity, op authz.Operation, columns []string) (string, error) {
	role := getRole(c)
	principal := getPrincipal(c)

	if !h.resolver.AreRoleAndOperationDefinedForEntity(entity.Name, role, op) {
		return "", ForbiddenError(fmt.Sprintf("No permission for %s on %s", op, entity.Name))
	}
	if len(columns) > 0 && !h.resolver.AreColumnsAllowedForOperation(entity.Name, role, op, columns) {
		return "", ForbiddenError(fmt.Sprintf("One or more columns are not allowed for %s on %s", op, entity.Name))
	}

	if rp := h.resolver.RequestPolicy(entity.Name, role, op); rp != "" {
		claims, err := authz.ResolveClaims(principal, strings.ToLower(role))
		if err != nil {
			return "", err
		}
		if err := h.policies.EvaluateRequestPolicy(rp, claims, entity.Name, c.Method()); err != nil {
			return "", err
		}
	}

	return h.resolver.ProcessDBPolicy(entity.Name, role, op, principal)
}

// requestedReadColumns resolves the column list for a read: the explicit
// fields query parameter when present, otherwise the role's full allow-set.
func (h *Handler) requestedReadColumns(c *fiber.Ctx, entity *metadata.Entity, role string) ([]string, error) {
	if fields := c.Query("fields"); fields != "" {
		var columns []string
		for _, f := range strings.Split(fields, ",") {
			columns = append(columns, strings.TrimSpace(f))
		}
		return columns, nil
	}
	columns := h.resolver.AllowedColumns(entity.Name, role, authz.OpRead)
	if len(columns) == 0 {
		return nil, ForbiddenError(fmt.Sprintf("No readable columns on %s", entity.Name))
	}
	return columns, nil
}

// --- helpers ---

func (h *Handler) resolveEntity(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	if entity.Source.Type == metadata.SourceStoredProcedure {
		return nil, NewAppError("UNSUPPORTED_ENTITY", 400, "Stored procedure entities are not routable")
	}
	return entity, nil
}

func getPrincipal(c *fiber.Ctx) *authz.Principal {
	p, _ := c.Locals("principal").(*authz.Principal)
	return p
}

func getRole(c *fiber.Ctx) string {
	role, _ := c.Locals("role").(string)
	return role
}

func bodyColumns(body map[string]any) []string {
	columns := make([]string, 0, len(body))
	for name := range body {
		columns = append(columns, name)
	}
	return columns
}

func respondError(c *fiber.Ctx, appErr *AppError) error {
	return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
}
