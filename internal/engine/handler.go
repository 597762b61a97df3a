package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"

	"github.com/gofiber/fiber/v2"

	"enricher/internal/instrument"
	"enricher/internal/lookup"
	"enricher/internal/metadata"
)

type Handler struct {
	registry *metadata.Registry
	gateway  Gateway
	memoize  bool
}

// NewHandler creates the decorate API handler. With memoize set, every
// request gets its own memo in front of gw.
func NewHandler(reg *metadata.Registry, gw Gateway, memoize bool) *Handler {
	return &Handler{registry: reg, gateway: gw, memoize: memoize}
}

// Decorate handles POST /api/:model/:trigger
func (h *Handler) Decorate(c *fiber.Ctx) error {
	modelName := c.Params("model")
	trigger := c.Params("trigger")

	set := h.registry.GetModel(modelName)
	if set == nil {
		return UnknownModelError(modelName)
	}

	doc, err := decodeDocument(c.Body())
	if err != nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Request body must be a JSON document")
	}

	ctx, span := instrument.GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "handler", "decorate")
	defer span.End()
	span.SetEntity(modelName, "")
	span.SetMetadata("trigger", trigger)

	rules := set.Rules(trigger)
	span.SetMetadata("rules", len(rules))

	gw := h.gateway
	if h.memoize {
		gw = lookup.Memoize(gw)
	}

	out, err := NewDecorator(gw).Decorate(ctx, doc, rules)
	if err != nil {
		span.SetStatus("error")
		if errors.Is(err, ErrNestedSequence) {
			return &AppError{Code: "UNSUPPORTED_DOCUMENT", Status: 422, Message: err.Error()}
		}
		log.Printf("ERROR: decorate %s.%s: %v", modelName, trigger, err)
		return NewAppError("LOOKUP_FAILED", 502, "Lookup store request failed")
	}

	span.SetStatus("ok")
	return c.JSON(fiber.Map{"data": out})
}

// decodeDocument parses exactly one JSON value. Integral numbers decode to
// int64 so large integer keys survive unchanged.
func decodeDocument(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after document")
	}
	return normalizeNumbers(doc), nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, child := range val {
			val[k] = normalizeNumbers(child)
		}
	case []any:
		for i, child := range val {
			val[i] = normalizeNumbers(child)
		}
	}
	return v
}
