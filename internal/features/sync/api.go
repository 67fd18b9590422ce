package sync

import (
	"go-insights/internal/common/api"
	"go-insights/internal/config"
	"go-insights/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type SyncApi struct {
	controller *SyncController
	config     *config.Config
}

func NewSyncApi(controller *SyncController, config *config.Config) api.Route {
	return &SyncApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers sync routes
func (h *SyncApi) Setup(app *fiber.App) {
	grp := app.Group("/api/sync", middleware.AuthMiddleware(h.config.SkipAuth))
	grp.Post("/run", h.controller.Run)
	grp.Get("/logs", h.controller.Logs)
}
