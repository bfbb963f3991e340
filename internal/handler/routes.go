package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AutoSendServices are the services behind /v1/auto-send.
type AutoSendServices struct {
	Trigger    TriggerService
	Batches    BatchService
	Settings   SettingsService
	Recipients RecipientService
}

func RegisterAutoSendRoutes(router fiber.Router, services AutoSendServices, cronSecret string, logger *zap.Logger) error {
	autoSend, err := NewAutoSendHandler(services.Trigger, services.Batches, cronSecret, logger)
	if err != nil {
		return err
	}
	admin, err := NewAdminHandler(services.Settings, services.Recipients)
	if err != nil {
		return err
	}

	group := router.Group("/v1/auto-send", CorrelationID())
	autoSend.register(group)
	admin.register(group)

	return nil
}
