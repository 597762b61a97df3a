package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"enricher/internal/engine"
	"enricher/internal/lookup"
	"enricher/internal/metadata"
	"enricher/internal/store"
)

type Handler struct {
	store     *store.Store
	registry  *metadata.Registry
	lookups   lookup.Store
	rulesPath string
}

func NewHandler(s *store.Store, reg *metadata.Registry, lookups lookup.Store, rulesPath string) *Handler {
	return &Handler{store: s, registry: reg, lookups: lookups, rulesPath: rulesPath}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/rules", h.ListRules)
	admin.Post("/rules", h.CreateRule)
	admin.Put("/rules/:id", h.UpdateRule)
	admin.Delete("/rules/:id", h.DeleteRule)
	admin.Post("/rules/reload", h.ReloadRules)

	admin.Get("/lookups/:bucket", h.ListValues)
	admin.Put("/lookups/:bucket/:key", h.PutValue)
	admin.Delete("/lookups/:bucket/:key", h.DeleteValue)
}

// --- Rule Endpoints ---

type rulePayload struct {
	Model      string                  `json:"model"`
	Trigger    string                  `json:"trigger"`
	Position   *int                    `json:"position"`
	Active     *bool                   `json:"active"`
	Definition metadata.RuleDefinition `json:"definition"`
}

// ListRules returns the rules currently in effect, from the rules file and
// the database. ?model= and ?trigger= narrow the list.
func (h *Handler) ListRules(c *fiber.Ctx) error {
	model, trigger := c.Query("model"), c.Query("trigger")
	rules := make([]*metadata.Rule, 0)
	for _, r := range h.registry.AllRules() {
		if model != "" && r.Model != model {
			continue
		}
		if trigger != "" && r.Trigger != trigger {
			continue
		}
		rules = append(rules, r)
	}
	return c.JSON(fiber.Map{"data": rules})
}

func (h *Handler) CreateRule(c *fiber.Ctx) error {
	var body rulePayload
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body.Model == "" {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "model", Rule: "required", Message: "model is required"}})
	}

	rule, err := metadata.NewRule(uuid.New().String(), body.Model, body.Trigger, body.Definition)
	if err != nil {
		return ruleValidationError(err)
	}
	if body.Position != nil {
		rule.Position = *body.Position
	} else {
		rule.Position = len(h.registry.RulesFor(body.Model, body.Trigger))
	}

	defJSON, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}

	d := h.store.Dialect
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"INSERT INTO _lookup_rules (id, model, trigger_name, position, definition, active) VALUES (%s, %s, %s, %s, %s, %s)",
		pb.Add(rule.ID), pb.Add(rule.Model), pb.Add(rule.Trigger), pb.Add(rule.Position), pb.Add(string(defJSON)), pb.Add(activeFlag(body.Active)))
	if _, err := store.Exec(c.UserContext(), h.store.DB, sqlStr, pb.Params()...); err != nil {
		if errors.Is(store.MapError(d, err), store.ErrUniqueViolation) {
			return engine.ConflictError("Rule already exists: " + rule.ID)
		}
		return fmt.Errorf("insert rule: %w", err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.Status(201).JSON(fiber.Map{"data": rule})
}

func (h *Handler) UpdateRule(c *fiber.Ctx) error {
	id := c.Params("id")
	var body rulePayload
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	ctx := c.UserContext()
	pb := h.store.Dialect.NewParamBuilder()
	existing, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf("SELECT model, trigger_name, position FROM _lookup_rules WHERE id = %s", pb.Add(id)), pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return engine.NotFoundError("Rule", id)
	}
	if err != nil {
		return fmt.Errorf("get rule %s: %w", id, err)
	}

	model, _ := existing["model"].(string)
	trigger, _ := existing["trigger_name"].(string)
	if body.Model != "" {
		model = body.Model
	}
	if body.Trigger != "" {
		trigger = body.Trigger
	}
	rule, err := metadata.NewRule(id, model, trigger, body.Definition)
	if err != nil {
		return ruleValidationError(err)
	}
	rule.Position = int(store.ToInt64(existing["position"]))
	if body.Position != nil {
		rule.Position = *body.Position
	}

	defJSON, err := json.Marshal(rule.Definition)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	pb = h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"UPDATE _lookup_rules SET model = %s, trigger_name = %s, position = %s, definition = %s, active = %s WHERE id = %s",
		pb.Add(rule.Model), pb.Add(rule.Trigger), pb.Add(rule.Position), pb.Add(string(defJSON)), pb.Add(activeFlag(body.Active)), pb.Add(id))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("update rule %s: %w", id, err)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rule})
}

func (h *Handler) DeleteRule(c *fiber.Ctx) error {
	id := c.Params("id")
	pb := h.store.Dialect.NewParamBuilder()
	n, err := store.Exec(c.UserContext(), h.store.DB,
		fmt.Sprintf("DELETE FROM _lookup_rules WHERE id = %s", pb.Add(id)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	if n == 0 {
		return engine.NotFoundError("Rule", id)
	}

	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"id": id, "deleted": true}})
}

func (h *Handler) ReloadRules(c *fiber.Ctx) error {
	if err := h.reload(c); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"models": h.registry.ModelNames(),
		"rules":  len(h.registry.AllRules()),
	}})
}

func (h *Handler) reload(c *fiber.Ctx) error {
	if err := metadata.Reload(c.UserContext(), h.store.DB, h.registry, h.rulesPath); err != nil {
		log.Printf("ERROR: reload rules: %v", err)
		return fmt.Errorf("reload registry: %w", err)
	}
	return nil
}

// --- Lookup Value Endpoints ---

func (h *Handler) ListValues(c *fiber.Ctx) error {
	bucket := c.Params("bucket")
	values, err := h.lookups.List(c.UserContext(), bucket)
	if err != nil {
		return fmt.Errorf("list %s: %w", bucket, err)
	}
	return c.JSON(fiber.Map{"data": values})
}

// PutValue stores {"value": ...} under bucket/key. Non-string values are
// stored JSON-encoded so composite rules can decode them.
func (h *Handler) PutValue(c *fiber.Ctx) error {
	bucket, key := c.Params("bucket"), c.Params("key")
	var body struct {
		Value any `json:"value"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if body.Value == nil {
		return engine.ValidationError([]engine.ErrorDetail{{Field: "value", Rule: "required", Message: "value is required"}})
	}

	raw, err := lookup.EncodeValue(body.Value)
	if err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Value cannot be encoded")
	}
	if err := h.lookups.Put(c.UserContext(), bucket, key, raw); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"bucket": bucket, "key": key, "value": raw}})
}

func (h *Handler) DeleteValue(c *fiber.Ctx) error {
	bucket, key := c.Params("bucket"), c.Params("key")
	ok, err := h.lookups.Delete(c.UserContext(), bucket, key)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	if !ok {
		return engine.NotFoundError("Lookup value", bucket+"/"+key)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"bucket": bucket, "key": key, "deleted": true}})
}

// --- helpers ---

func activeFlag(active *bool) bool {
	return active == nil || *active
}

func ruleValidationError(err error) *engine.AppError {
	field := "definition"
	if errors.Is(err, metadata.ErrInvalidPath) {
		field = "definition.at"
	}
	return engine.ValidationError([]engine.ErrorDetail{{Field: field, Rule: "invalid", Message: err.Error()}})
}
