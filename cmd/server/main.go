package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"crudgate/internal/auth"
	"crudgate/internal/authz"
	"crudgate/internal/config"
	"crudgate/internal/engine"
	"crudgate/internal/metadata"
	"crudgate/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Load entity definitions and build the permission table. Both are
	// fatal: a bad permission config must never reach request time.
	entities, err := metadata.LoadFile(cfg.EntitiesFile)
	if err != nil {
		log.Fatalf("Failed to load entity definitions: %v", err)
	}
	reg := metadata.NewRegistry()
	reg.Load(entities)

	resolver, err := authz.NewResolver(entities)
	if err != nil {
		log.Fatalf("Invalid permission configuration: %v", err)
	}

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 7. Auth routes (no principal required)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler)

	// 8. Dynamic entity routes behind the principal middleware. Anonymous
	// requests pass through with the anonymous role; the resolver decides
	// per entity what that role may do.
	principalMW := auth.PrincipalMiddleware(cfg.JWTSecret, resolver)
	engineHandler := engine.NewHandler(db, reg, resolver)
	engine.RegisterDynamicRoutes(app, engineHandler, principalMW)

	// 9. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
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

	var authErr *authz.Error
	if errors.As(err, &authErr) {
		return c.Status(authErr.Status).JSON(engine.ErrorResponse{
			Error: &engine.AppError{Code: authErr.Code, Status: authErr.Status, Message: authErr.Message},
		})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{Code: "INTERNAL_ERROR", Status: code, Message: "Internal server error"},
	})
}
