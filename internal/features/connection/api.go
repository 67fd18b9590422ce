package connection

import (
	"go-insights/internal/common/api"
	"go-insights/internal/config"
	"go-insights/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type ConnectionApi struct {
	controller *ConnectionController
	config     *config.Config
}

func NewConnectionApi(controller *ConnectionController, config *config.Config) api.Route {
	return &ConnectionApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers oauth + connection management routes
func (h *ConnectionApi) Setup(app *fiber.App) {
	// The callback is unauthenticated: identity rides inside the signed state
	app.Get("/auth/:provider/connect", middleware.AuthMiddleware(h.config.SkipAuth), h.controller.Connect)
	app.Get("/auth/:provider/callback", h.controller.Callback)

	grp := app.Group("/api/connections", middleware.AuthMiddleware(h.config.SkipAuth))
	grp.Get("/", h.controller.List)
	grp.Delete("/:provider", h.controller.Disconnect)
}
