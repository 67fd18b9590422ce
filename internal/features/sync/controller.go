package sync

import (
	"strconv"

	"go-insights/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

type SyncController struct {
	Service SyncService
}

func NewSyncController(service SyncService) *SyncController {
	return &SyncController{
		Service: service,
	}
}

// Run godoc
func (ctrl *SyncController) Run(c *fiber.Ctx) error {
	if _, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims); !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	result, err := ctrl.Service.RunAll(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": result,
	})
}

// Logs godoc
func (ctrl *SyncController) Logs(c *fiber.Ctx) error {
	claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	limit, _ := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	logs, err := ctrl.Service.Logs(c.Context(), claims.UserID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": logs,
	})
}
