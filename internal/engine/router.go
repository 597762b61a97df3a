package engine

import "github.com/gofiber/fiber/v2"

func RegisterDecorateRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Post("/:model/:trigger", h.Decorate)
}
