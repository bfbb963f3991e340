package handler

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/autosend-engine/internal/document"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/service"
)

// toHTTPError maps service errors to HTTP errors. Upstream document failures keep their cause
// wrapped for the error log while the response only names the failing step.
func toHTTPError(err error) error {
	var composeErr *document.ComposeError
	var storeErr *service.ArtifactStoreError
	switch {
	case errors.As(err, &composeErr):
		msg := fmt.Sprintf("document could not be composed (%s stage)", composeErr.Stage)
		return fmt.Errorf("%w: %w", fiber.NewError(fiber.StatusBadGateway, msg), err)
	case errors.As(err, &storeErr):
		msg := fmt.Sprintf("document storage unavailable (%s)", storeErr.Op)
		return fmt.Errorf("%w: %w", fiber.NewError(fiber.StatusBadGateway, msg), err)
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
