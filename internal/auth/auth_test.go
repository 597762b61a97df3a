package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"enricher/internal/config"
	"enricher/internal/engine"
	"enricher/internal/store"
)

const testSecret = "test-secret"

func TestAccessToken_RoundTrip(t *testing.T) {
	tok, err := GenerateAccessToken("u1", "a@b.c", []string{"admin"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := ParseAccessToken(tok, testSecret)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@b.c" || len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := ParseAccessToken(tok, "other-secret"); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestAccessToken_RejectsExpiredAndForeign(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	s, _ := expired.SignedString([]byte(testSecret))
	if _, err := ParseAccessToken(s, testSecret); err == nil {
		t.Fatal("expected error for expired token")
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	s, _ = foreign.SignedString([]byte(testSecret))
	if _, err := ParseAccessToken(s, testSecret); err == nil {
		t.Fatal("expected error for foreign issuer")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("changeme")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword("changeme", hash) || CheckPassword("wrong", hash) {
		t.Fatal("password check mismatch")
	}
}

func newAuthApp(t *testing.T) *fiber.App {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "auth"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Bootstrap(ctx, config.AdminConfig{Email: "admin@localhost", Password: "changeme"}); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var appErr *engine.AppError
			if errors.As(err, &appErr) {
				return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
			}
			return c.Status(500).SendString(err.Error())
		},
	})
	RegisterAuthRoutes(app, NewAuthHandler(s, testSecret))
	app.Get("/admin-only", AuthMiddleware(testSecret), RequireAdmin(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"id": GetUser(c).ID})
	})
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body, bearer string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func tokens(t *testing.T, body map[string]any) (string, string) {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected token pair, got %v", body)
	}
	return data["access_token"].(string), data["refresh_token"].(string)
}

func TestLoginRefreshLogout(t *testing.T) {
	app := newAuthApp(t)

	status, body := doJSON(t, app, "POST", "/api/auth/login", `{"email":"admin@localhost","password":"wrong"}`, "")
	if status != 401 {
		t.Fatalf("expected 401 for wrong password, got %d", status)
	}

	status, body = doJSON(t, app, "POST", "/api/auth/login", `{"email":"admin@localhost","password":"changeme"}`, "")
	if status != 200 {
		t.Fatalf("expected 200, got %d: %v", status, body)
	}
	access, refresh := tokens(t, body)

	status, _ = doJSON(t, app, "GET", "/admin-only", "", access)
	if status != 200 {
		t.Fatalf("expected admin access, got %d", status)
	}

	status, body = doJSON(t, app, "POST", "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if status != 200 {
		t.Fatalf("expected refresh to succeed, got %d: %v", status, body)
	}
	_, rotated := tokens(t, body)

	status, _ = doJSON(t, app, "POST", "/api/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	if status != 401 {
		t.Fatalf("refresh tokens must be single use, got %d", status)
	}

	status, _ = doJSON(t, app, "POST", "/api/auth/logout", `{"refresh_token":"`+rotated+`"}`, "")
	if status != 200 {
		t.Fatalf("expected logout to succeed, got %d", status)
	}
	status, _ = doJSON(t, app, "POST", "/api/auth/refresh", `{"refresh_token":"`+rotated+`"}`, "")
	if status != 401 {
		t.Fatalf("expected 401 after logout, got %d", status)
	}
}

func TestMiddleware_RejectsMissingAndNonAdmin(t *testing.T) {
	app := newAuthApp(t)

	status, _ := doJSON(t, app, "GET", "/admin-only", "", "")
	if status != 401 {
		t.Fatalf("expected 401 without token, got %d", status)
	}

	viewer, err := GenerateAccessToken("u2", "viewer@localhost", []string{"viewer"}, testSecret)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	status, body := doJSON(t, app, "GET", "/admin-only", "", viewer)
	if status != 403 {
		t.Fatalf("expected 403 for non-admin, got %d: %v", status, body)
	}
}
