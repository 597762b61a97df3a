package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"enricher/internal/admin"
	"enricher/internal/auth"
	"enricher/internal/config"
	"enricher/internal/engine"
	"enricher/internal/instrument"
	"enricher/internal/lookup"
	"enricher/internal/metadata"
	"enricher/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s, lookup: %s)", cfg.Server.Port, cfg.Database.Driver, cfg.Lookup.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables and the admin user
	if err := db.Bootstrap(ctx, cfg.Admin); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Load lookup rules from the rules file and _lookup_rules
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg, cfg.Rules.Path); err != nil {
		log.Fatalf("Failed to load rules: %v", err)
	}

	// 5. Lookup store
	lookups, err := newLookupStore(cfg.Lookup, db)
	if err != nil {
		log.Fatalf("Failed to set up lookup store: %v", err)
	}

	// 6. Instrumentation
	var sink instrument.Sink
	if cfg.Instrumentation.Enabled {
		buffer := instrument.NewEventBuffer(db, cfg.Instrumentation.BufferSize, cfg.Instrumentation.FlushIntervalMs)
		defer buffer.Stop()
		sink = buffer
		stopCleanup := instrument.StartCleanup(db, cfg.Instrumentation.RetentionDays, time.Hour)
		defer stopCleanup()
	}

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(instrument.Middleware(cfg.Instrumentation, sink))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "models": len(reg.ModelNames())})
	})

	// 9. Auth routes (no auth required)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	adminMW := auth.RequireAdmin()

	// 10. Admin routes (auth + admin required)
	adminHandler := admin.NewHandler(db, reg, lookups, cfg.Rules.Path)
	admin.RegisterAdminRoutes(app, adminHandler, authMW, adminMW)
	app.Get("/api/_admin/events", authMW, adminMW, instrument.NewEventHandler(db).List)

	// 11. Decorate routes (auth required)
	engineHandler := engine.NewHandler(reg, lookups, cfg.Lookup.Memoize)
	engine.RegisterDecorateRoutes(app, engineHandler, authMW)

	// 12. Start server
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("ERROR: %v", err)
	}
}

func newLookupStore(cfg config.LookupConfig, db *store.Store) (lookup.Store, error) {
	switch cfg.Driver {
	case "", "sql":
		return lookup.NewSQLGateway(db), nil
	case "memory":
		gw := lookup.NewMemoryGateway()
		if cfg.SeedPath != "" {
			if err := gw.LoadSeedFile(cfg.SeedPath); err != nil {
				return nil, err
			}
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown lookup driver %q", cfg.Driver)
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	if code != fiber.StatusInternalServerError {
		return c.Status(code).JSON(engine.ErrorResponse{
			Error: &engine.AppError{Code: "HTTP_ERROR", Message: fiberErr.Message},
		})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
