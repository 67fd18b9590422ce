package connection

import (
	"errors"
	"net/url"

	"go-insights/internal/config"
	"go-insights/internal/providers"
	"go-insights/pkg/utils"

	"github.com/gofiber/fiber/v2"
)

type ConnectionController struct {
	Service ConnectionService
	Config  *config.Config
}

func NewConnectionController(service ConnectionService, cfg *config.Config) *ConnectionController {
	return &ConnectionController{
		Service: service,
		Config:  cfg,
	}
}

func claimsFromCtx(c *fiber.Ctx) (*utils.UserClaims, bool) {
	claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	return claims, ok
}

// Connect godoc
func (ctrl *ConnectionController) Connect(c *fiber.Ctx) error {
	claims, ok := claimsFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	provider := c.Params("provider")

	extra := map[string]string{}
	if shop := c.Query("shop"); shop != "" {
		extra["shop"] = shop
	}

	authorizeURL, err := ctrl.Service.StartAuthorization(c.Context(), claims.UserID, provider, extra)
	if err != nil {
		if errors.Is(err, providers.ErrUnknownProvider) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Unknown provider",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Redirect(authorizeURL, fiber.StatusFound)
}

// Callback handles the provider redirect. It never renders HTML: outcomes
// travel to the UI as query params on the connections page.
func (ctrl *ConnectionController) Callback(c *fiber.Ctx) error {
	provider := c.Params("provider")

	if provErr := c.Query("error"); provErr != "" {
		return ctrl.redirectError(c, provErr)
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return ctrl.redirectError(c, "missing code or state")
	}

	query := map[string]string{}
	if realmID := c.Query("realmId"); realmID != "" {
		query["realmId"] = realmID
	}
	if shop := c.Query("shop"); shop != "" {
		query["shop"] = shop
	}

	conn, err := ctrl.Service.CompleteAuthorization(c.Context(), provider, code, state, query)
	if err != nil {
		var stateErr *InvalidStateError
		if errors.As(err, &stateErr) {
			return ctrl.redirectError(c, "authorization state expired or invalid, please retry")
		}
		return ctrl.redirectError(c, "could not connect "+provider)
	}

	return c.Redirect(ctrl.Config.PublicBaseURL+"/connections?connected="+url.QueryEscape(conn.Provider), fiber.StatusFound)
}

func (ctrl *ConnectionController) redirectError(c *fiber.Ctx, msg string) error {
	return c.Redirect(ctrl.Config.PublicBaseURL+"/connections?error="+url.QueryEscape(msg), fiber.StatusFound)
}

// List godoc
func (ctrl *ConnectionController) List(c *fiber.Ctx) error {
	claims, ok := claimsFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	conns, err := ctrl.Service.List(c.Context(), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"data": conns,
	})
}

// Disconnect godoc
func (ctrl *ConnectionController) Disconnect(c *fiber.Ctx) error {
	claims, ok := claimsFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	provider := c.Params("provider")
	if err := ctrl.Service.Revoke(c.Context(), claims.UserID, provider); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "No connection found for " + provider,
		})
	}

	return c.JSON(fiber.Map{
		"message": "Connection revoked successfully",
	})
}
