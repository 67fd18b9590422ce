package webhook

import (
	"go-insights/internal/common/api"

	"github.com/gofiber/fiber/v2"
)

type WebhookApi struct {
	controller *WebhookController
}

func NewWebhookApi(controller *WebhookController) api.Route {
	return &WebhookApi{
		controller: controller,
	}
}

// Setup registers the public ingestion endpoint. No auth middleware: the
// unguessable token plus the provider signature are the credentials here.
func (h *WebhookApi) Setup(app *fiber.App) {
	app.Post("/webhooks/:provider/:token", h.controller.Receive)
}
