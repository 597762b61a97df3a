package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"enricher/internal/config"
	"enricher/internal/engine"
	"enricher/internal/lookup"
	"enricher/internal/metadata"
	"enricher/internal/store"
)

type testEnv struct {
	app      *fiber.App
	registry *metadata.Registry
	lookups  *lookup.SQLGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: dir, Name: "admin"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx, config.AdminConfig{}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	rulesPath := filepath.Join(dir, "rules.yaml")
	rulesYAML := "models:\n  employee:\n    as_json:\n      - using: employee_id\n        populate: name\n"
	if err := os.WriteFile(rulesPath, []byte(rulesYAML), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, s.DB, reg, rulesPath); err != nil {
		t.Fatalf("load rules: %v", err)
	}

	gw := lookup.NewSQLGateway(s)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).JSON(fiber.Map{"error": fiber.Map{"code": "INTERNAL_ERROR", "message": err.Error()}})
		},
	})
	RegisterAdminRoutes(app, NewHandler(s, reg, gw, rulesPath))
	return &testEnv{app: app, registry: reg, lookups: gw}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return resp.StatusCode, out
}

func TestRuleLifecycle(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "POST", "/api/_admin/rules",
		`{"model":"employee","trigger":"as_json","definition":{"using":"contact_id","populate":["pager","cell"]}}`)
	if status != 201 {
		t.Fatalf("expected 201, got %d: %v", status, body)
	}
	id := body["data"].(map[string]any)["id"].(string)

	rules := env.registry.RulesFor("employee", "as_json")
	if len(rules) != 2 || rules[1].ID != id || rules[1].Position != 1 {
		t.Fatalf("expected stored rule after file rule, got %+v", rules)
	}

	status, body = env.do(t, "PUT", "/api/_admin/rules/"+id,
		`{"definition":{"using":"contact_id","populate":"pager","as":{"pager":"beeper"}}}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	rules = env.registry.RulesFor("employee", "as_json")
	if rules[1].IsComposite() || rules[1].Alias("pager") != "beeper" {
		t.Fatalf("expected updated rule, got %+v", rules[1].Definition)
	}

	status, body = env.do(t, "GET", "/api/_admin/rules?model=employee", "")
	if status != 200 || len(body["data"].([]any)) != 2 {
		t.Fatalf("expected 2 rules, got %d %v", status, body)
	}

	status, _ = env.do(t, "DELETE", "/api/_admin/rules/"+id, "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if len(env.registry.RulesFor("employee", "as_json")) != 1 {
		t.Fatal("expected deleted rule to leave the registry")
	}
	status, _ = env.do(t, "DELETE", "/api/_admin/rules/"+id, "")
	if status != 404 {
		t.Fatalf("expected 404 for missing rule, got %d", status)
	}
}

func TestCreateRule_Validation(t *testing.T) {
	env := newTestEnv(t)
	cases := []string{
		`{"trigger":"as_json","definition":{"using":"id","populate":"name"}}`,
		`{"model":"employee","trigger":"as_json","definition":{"populate":"name"}}`,
		`{"model":"employee","trigger":"as_json","definition":{"using":"id","populate":"name","at":"$.a.b"}}`,
	}
	for _, body := range cases {
		status, resp := env.do(t, "POST", "/api/_admin/rules", body)
		if status != 422 {
			t.Fatalf("body %s: expected 422, got %d %v", body, status, resp)
		}
	}
	if len(env.registry.AllRules()) != 1 {
		t.Fatal("invalid rules must not be stored")
	}
}

func TestCreateRule_Inactive(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.do(t, "POST", "/api/_admin/rules",
		`{"model":"invoice","trigger":"as_json","active":false,"definition":{"using":"customer_id","populate":"name"}}`)
	if status != 201 {
		t.Fatalf("expected 201, got %d", status)
	}
	if env.registry.GetModel("invoice") != nil {
		t.Fatal("inactive rules must not be loaded")
	}
}

func TestReloadRules(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Load(nil)
	status, body := env.do(t, "POST", "/api/_admin/rules/reload", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["data"].(map[string]any)["rules"] != 1.0 {
		t.Fatalf("expected 1 rule after reload, got %v", body)
	}
}

func TestLookupValues(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.do(t, "PUT", "/api/_admin/lookups/employees/1", `{"value":{"name":"A","age":10}}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	status, _ = env.do(t, "PUT", "/api/_admin/lookups/employee/1", `{"value":"Employee Name"}`)
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	status, _ = env.do(t, "PUT", "/api/_admin/lookups/employee/2", `{}`)
	if status != 422 {
		t.Fatalf("expected 422 for missing value, got %d", status)
	}

	got, err := env.lookups.FetchMany(context.Background(), "employees", []string{"1"})
	if err != nil || got[0] == nil || *got[0] != `{"age":10,"name":"A"}` {
		t.Fatalf("expected JSON-encoded composite value, got %v, %v", got, err)
	}

	status, body = env.do(t, "GET", "/api/_admin/lookups/employee", "")
	if status != 200 || body["data"].(map[string]any)["1"] != "Employee Name" {
		t.Fatalf("unexpected list: %d %v", status, body)
	}

	status, _ = env.do(t, "DELETE", "/api/_admin/lookups/employee/1", "")
	if status != 200 {
		t.Fatalf("expected 200, got %d", status)
	}
	status, _ = env.do(t, "DELETE", "/api/_admin/lookups/employee/1", "")
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}
