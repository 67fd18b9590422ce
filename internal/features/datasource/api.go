package datasource

import (
	"go-insights/internal/common/api"
	"go-insights/internal/config"
	"go-insights/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type DataSourceApi struct {
	controller *DataSourceController
	config     *config.Config
}

func NewDataSourceApi(controller *DataSourceController, config *config.Config) api.Route {
	return &DataSourceApi{
		controller: controller,
		config:     config,
	}
}

// Setup registers data source routes
func (h *DataSourceApi) Setup(app *fiber.App) {
	grp := app.Group("/api/datasources", middleware.AuthMiddleware(h.config.SkipAuth))
	grp.Get("/", h.controller.List)
	grp.Get("/:id/rows", h.controller.Rows)
}
