package datasource

import (
	"strconv"

	"go-insights/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

type DataSourceController struct {
	Service DataSourceService
}

func NewDataSourceController(service DataSourceService) *DataSourceController {
	return &DataSourceController{
		Service: service,
	}
}

// List godoc
func (ctrl *DataSourceController) List(c *fiber.Ctx) error {
	claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	sources, err := ctrl.Service.List(c.Context(), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": sources,
	})
}

// Rows godoc
func (ctrl *DataSourceController) Rows(c *fiber.Ctx) error {
	claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	limit, _ := strconv.ParseInt(c.Query("limit", "100"), 10, 64)
	offset, _ := strconv.ParseInt(c.Query("offset", "0"), 10, 64)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := ctrl.Service.Rows(c.Context(), claims.UserID, c.Params("id"), limit, offset)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Data source not found",
		})
	}

	return c.JSON(fiber.Map{
		"data": rows,
	})
}
