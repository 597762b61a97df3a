package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"enricher/internal/engine"
	"enricher/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	store     *store.Store
	jwtSecret string
}

func NewAuthHandler(s *store.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: s, jwtSecret: jwtSecret}
}

type userRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()
	user, err := h.findUser(ctx, "email", body.Email)
	if errors.Is(err, store.ErrNotFound) {
		return engine.UnauthorizedError("Invalid email or password")
	}
	if err != nil {
		return err
	}
	if !user.Active {
		return engine.UnauthorizedError("Account is disabled")
	}
	if !CheckPassword(body.Password, user.PasswordHash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	pair, err := h.issueTokens(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	token, err := refreshTokenFromBody(c)
	if err != nil {
		return err
	}

	ctx := c.UserContext()
	d := h.store.Dialect
	pb := d.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf("SELECT id, user_id, expires_at FROM _refresh_tokens WHERE token = %s", pb.Add(token)),
		pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return engine.UnauthorizedError("Invalid refresh token")
	}
	if err != nil {
		return err
	}

	if err := h.deleteRefreshToken(ctx, "id", fmt.Sprint(row["id"])); err != nil {
		return err
	}
	if time.Now().Unix() > store.ToInt64(row["expires_at"]) {
		return engine.UnauthorizedError("Refresh token expired")
	}

	userID, _ := row["user_id"].(string)
	user, err := h.findUser(ctx, "id", userID)
	if errors.Is(err, store.ErrNotFound) {
		return engine.UnauthorizedError("Invalid refresh token")
	}
	if err != nil {
		return err
	}
	if !user.Active {
		return engine.UnauthorizedError("Account is disabled")
	}

	pair, err := h.issueTokens(ctx, user)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, err := refreshTokenFromBody(c)
	if err != nil {
		return err
	}
	if err := h.deleteRefreshToken(c.UserContext(), "token", token); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
}

func refreshTokenFromBody(c *fiber.Ctx) (string, error) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.BodyParser(&body); err != nil {
		return "", engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return "", engine.UnauthorizedError("Refresh token is required")
	}
	return body.RefreshToken, nil
}

// findUser loads a user by id or email.
func (h *AuthHandler) findUser(ctx context.Context, column, value string) (*userRecord, error) {
	pb := h.store.Dialect.NewParamBuilder()
	row, err := store.QueryRow(ctx, h.store.DB,
		fmt.Sprintf("SELECT id, email, password_hash, roles, active FROM _users WHERE %s = %s", column, pb.Add(value)),
		pb.Params()...)
	if err != nil {
		return nil, err
	}

	roles, err := h.store.Dialect.ScanArray(row["roles"])
	if err != nil {
		return nil, fmt.Errorf("user roles: %w", err)
	}
	u := &userRecord{Roles: roles, Active: store.ToBool(row["active"])}
	u.ID, _ = row["id"].(string)
	u.Email, _ = row["email"].(string)
	u.PasswordHash, _ = row["password_hash"].(string)
	return u, nil
}

func (h *AuthHandler) deleteRefreshToken(ctx context.Context, column, value string) error {
	pb := h.store.Dialect.NewParamBuilder()
	_, err := store.Exec(ctx, h.store.DB,
		fmt.Sprintf("DELETE FROM _refresh_tokens WHERE %s = %s", column, pb.Add(value)), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (h *AuthHandler) issueTokens(ctx context.Context, user *userRecord) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(user.ID, user.Email, user.Roles, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(GenerateRefreshToken()), pb.Add(user.ID), pb.Add(refreshToken), pb.Add(time.Now().Add(RefreshTokenTTL).Unix()))
	if _, err := store.Exec(ctx, h.store.DB, sqlStr, pb.Params()...); err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", 500, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
	}, nil
}
