package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"enricher/internal/metadata"
)

func newTestApp(t *testing.T, gw Gateway, memoize bool) *fiber.App {
	t.Helper()
	reg := metadata.NewRegistry()
	set := reg.Define("employee")
	defs := []metadata.RuleDefinition{
		{Using: "employee_id", Populate: metadata.Single("name")},
		{Using: "employee_id", Populate: metadata.Composite("age"), As: map[string]string{"age": "years"}},
	}
	for _, def := range defs {
		if _, err := set.Register("as_json", def); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
			}
			return c.Status(500).JSON(ErrorResponse{Error: &AppError{Code: "INTERNAL_ERROR", Message: err.Error()}})
		},
	})
	RegisterDecorateRoutes(app, NewHandler(reg, gw, memoize))
	return app
}

func post(t *testing.T, app *fiber.App, path, body string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode response %q: %v", raw, err)
	}
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error body, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

func TestHandler_Decorate(t *testing.T) {
	gw := &recordingGateway{values: map[string]map[string]string{"employee": {"12345678901234567": `{"age":41}`}}}
	app := newTestApp(t, gw, false)

	status, body := post(t, app, "/api/employee/as_json", `{"employee_id": 12345678901234567}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	data := body["data"].(map[string]any)
	if data["name"] != `{"age":41}` || data["years"] != 41.0 {
		t.Fatalf("unexpected data: %v", data)
	}
	if len(gw.calls) != 2 || gw.calls[0].keys[0] != "12345678901234567" {
		t.Fatalf("expected one call per rule with the exact key, got %+v", gw.calls)
	}
}

func TestHandler_DecorateMemoized(t *testing.T) {
	gw := &recordingGateway{values: map[string]map[string]string{"employee": {"1": `{"age":41}`}}}
	app := newTestApp(t, gw, true)

	status, body := post(t, app, "/api/employee/as_json", `[{"employee_id": 1}, {"employee_id": 1}]`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	if len(gw.calls) != 1 {
		t.Fatalf("memoized request must reach the gateway once, got %d calls", len(gw.calls))
	}
	for _, item := range body["data"].([]any) {
		if item.(map[string]any)["years"] != 41.0 {
			t.Fatalf("unexpected item: %v", item)
		}
	}

	post(t, app, "/api/employee/as_json", `{"employee_id": 1}`)
	if len(gw.calls) != 2 {
		t.Fatal("memo must not outlive a request")
	}
}

func TestHandler_UnknownModel(t *testing.T) {
	app := newTestApp(t, &recordingGateway{}, false)
	status, body := post(t, app, "/api/invoice/as_json", `{}`)
	if status != 404 || errorCode(t, body) != "UNKNOWN_MODEL" {
		t.Fatalf("expected 404 UNKNOWN_MODEL, got %d %v", status, body)
	}
}

func TestHandler_UnknownTriggerReturnsDocument(t *testing.T) {
	gw := &recordingGateway{}
	app := newTestApp(t, gw, false)
	status, body := post(t, app, "/api/employee/to_xml", `{"employee_id": 1}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	data := body["data"].(map[string]any)
	if len(data) != 1 || len(gw.calls) != 0 {
		t.Fatalf("expected document unchanged and no lookups, got %v", data)
	}
}

func TestHandler_InvalidPayload(t *testing.T) {
	app := newTestApp(t, &recordingGateway{}, false)
	for _, body := range []string{"", "{", `{"a":1} {"b":2}`} {
		status, resp := post(t, app, "/api/employee/as_json", body)
		if status != 400 || errorCode(t, resp) != "INVALID_PAYLOAD" {
			t.Fatalf("body %q: expected 400 INVALID_PAYLOAD, got %d %v", body, status, resp)
		}
	}
}

func TestHandler_GatewayFailure(t *testing.T) {
	app := newTestApp(t, &recordingGateway{err: errors.New("connection refused")}, false)
	status, body := post(t, app, "/api/employee/as_json", `{"employee_id": 1}`)
	if status != 502 || errorCode(t, body) != "LOOKUP_FAILED" {
		t.Fatalf("expected 502 LOOKUP_FAILED, got %d %v", status, body)
	}
}

func TestHandler_NestedSequence(t *testing.T) {
	app := newTestApp(t, &recordingGateway{}, false)
	status, body := post(t, app, "/api/employee/as_json", `[[{"employee_id": 1}]]`)
	if status != 422 || errorCode(t, body) != "UNSUPPORTED_DOCUMENT" {
		t.Fatalf("expected 422 UNSUPPORTED_DOCUMENT, got %d %v", status, body)
	}
}

func TestDecodeDocument_Numbers(t *testing.T) {
	doc, err := decodeDocument([]byte(`{"id": 9007199254740993, "ratio": 0.5, "tags": [1, 2]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := doc.(map[string]any)
	if m["id"] != int64(9007199254740993) || m["ratio"] != 0.5 {
		t.Fatalf("unexpected numbers: %#v", m)
	}
	if m["tags"].([]any)[0] != int64(1) {
		t.Fatalf("unexpected nested number: %#v", m["tags"])
	}
}
