package main

import (
	"context"
	"fmt"
	common_api "go-insights/internal/common/api"
	"go-insights/internal/config"
	"go-insights/internal/database"
	"go-insights/internal/features/connection"
	"go-insights/internal/features/datasource"
	sync_feature "go-insights/internal/features/sync"
	"go-insights/internal/features/webhook"
	"go-insights/internal/logger"
	"go-insights/internal/middleware"
	"go-insights/internal/providers"
	"go-insights/internal/vault"
	"go-insights/pkg/utils"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Use custom CORS middleware
	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),    // Cast to Interface
		fx.ResultTags(`group:"routes"`), // Add to Group
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	log.Printf("Registering %d routes...\n", len(routes))
	for _, route := range routes {
		route.Setup(app)
	}
	log.Println("All routes registered successfully")
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			utils.SetSecret(cfg.JWTSecret)
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// InitializeIndexes ensures that necessary database indexes are created
func InitializeIndexes(lc fx.Lifecycle, connRepo connection.ConnectionRepository, dsRepo datasource.DataSourceRepository, rowRepo datasource.DataRowRepository, eventRepo webhook.WebhookEventRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := connRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure connection indexes: %v", err)
				}
				if err := dsRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure data source indexes: %v", err)
				}
				if err := rowRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure data row indexes: %v", err)
				}
				if err := eventRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure webhook event indexes: %v", err)
				}
			}()
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Credential vault and provider registry
			vault.NewVault,
			providers.NewRegistry,

			// Initialize Repository
			connection.NewConnectionRepository,
			datasource.NewDataSourceRepository,
			datasource.NewDataRowRepository,
			webhook.NewWebhookEventRepository,
			sync_feature.NewSyncLogRepository,

			datasource.NewDataSourceService,
			connection.NewConnectionService,
			webhook.NewWebhookService,
			sync_feature.NewWarehouse,
			sync_feature.NewSyncService,

			// Interface Adapters to break circular dependencies and satisfy Fx
			func(s datasource.DataSourceService) connection.DataSourceProvisioner { return s },

			// Initialize Controller
			connection.NewConnectionController,
			datasource.NewDataSourceController,
			webhook.NewWebhookController,
			sync_feature.NewSyncController,

			// Initialize API Routes
			AsRoute(connection.NewConnectionApi),
			AsRoute(datasource.NewDataSourceApi),
			AsRoute(webhook.NewWebhookApi),
			AsRoute(sync_feature.NewSyncApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,
			sync_feature.NewScheduler,
			InitializeIndexes,
		),
	)

	app.Run()
}
