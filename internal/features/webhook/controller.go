package webhook

import (
	"errors"

	"go-insights/internal/providers"

	"github.com/gofiber/fiber/v2"
)

type WebhookController struct {
	Service  WebhookService
	Registry *providers.Registry
}

func NewWebhookController(service WebhookService, registry *providers.Registry) *WebhookController {
	return &WebhookController{
		Service:  service,
		Registry: registry,
	}
}

// Receive godoc
func (ctrl *WebhookController) Receive(c *fiber.Ctx) error {
	provider := c.Params("provider")
	token := c.Params("token")

	signature := ""
	if adapter, err := ctrl.Registry.Get(provider); err == nil {
		signature = c.Get(adapter.SignatureHeader())
	}

	// c.Body() is the raw bytes the signature was computed over
	written, err := ctrl.Service.Ingest(c.Context(), provider, token, c.Body(), signature)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownToken):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Not found",
			})
		case errors.Is(err, ErrBadSignature):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
	}

	return c.JSON(fiber.Map{
		"rows_written": written,
	})
}
