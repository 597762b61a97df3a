package instrument

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"enricher/internal/store"
)

// EventHandler exposes the recorded spans for inspection.
type EventHandler struct {
	store *store.Store
}

func NewEventHandler(s *store.Store) *EventHandler {
	return &EventHandler{store: s}
}

// List handles GET /_events. Supported filters: trace_id, source, component,
// action, entity, status. Results are newest first.
func (h *EventHandler) List(c *fiber.Ctx) error {
	pb := h.store.Dialect.NewParamBuilder()
	var conditions []string
	for _, col := range []string{"trace_id", "source", "component", "action", "entity", "status"} {
		if v := c.Query(col); v != "" {
			conditions = append(conditions, fmt.Sprintf("%s = %s", col, pb.Add(v)))
		}
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 {
		perPage = 50
	}
	if perPage > 100 {
		perPage = 100
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	sqlStr := fmt.Sprintf(
		"SELECT trace_id, span_id, parent_span_id, source, component, action, entity, user_id, duration_ms, status, metadata, created_at FROM _events%s ORDER BY created_at DESC LIMIT %s OFFSET %s",
		where, pb.Add(perPage), pb.Add((page-1)*perPage))

	rows, err := store.QueryRows(c.UserContext(), h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	for _, row := range rows {
		if raw, ok := row["metadata"].(string); ok && raw != "" {
			var meta map[string]any
			if json.Unmarshal([]byte(raw), &meta) == nil {
				row["metadata"] = meta
			}
		}
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"meta": fiber.Map{"page": page, "per_page": perPage},
	})
}
