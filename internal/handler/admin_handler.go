package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/service"
)

type SettingsService interface {
	Get(ctx context.Context) (*domain.Settings, error)
	Update(ctx context.Context, update domain.SettingsUpdate) (*domain.Settings, error)
}

type RecipientService interface {
	List(ctx context.Context) ([]domain.Recipient, error)
	Create(ctx context.Context, req service.CreateRecipientsRequest) (*service.CreateRecipientsResult, error)
	Update(ctx context.Context, id string, req service.UpdateRecipientRequest) (*domain.Recipient, error)
	Delete(ctx context.Context, id string) error
}

// AdminHandler serves the settings and recipient endpoints.
type AdminHandler struct {
	settings   SettingsService
	recipients RecipientService
}

func NewAdminHandler(settings SettingsService, recipients RecipientService) (*AdminHandler, error) {
	if settings == nil || recipients == nil {
		return nil, fmt.Errorf("settings and recipient services are required")
	}
	return &AdminHandler{settings: settings, recipients: recipients}, nil
}

func (h *AdminHandler) register(group fiber.Router) {
	admin := RequireRole(RoleAdmin)

	group.Get("/settings", admin, h.GetSettings)
	group.Put("/settings", admin, h.UpdateSettings)
	group.Get("/recipients", admin, h.ListRecipients)
	group.Post("/recipients", admin, h.CreateRecipients)
	group.Patch("/recipients/:id", admin, h.UpdateRecipient)
	group.Delete("/recipients/:id", admin, h.DeleteRecipient)
}

type settingsRequest struct {
	IsEnabled            *bool     `json:"isEnabled"`
	SelectedRecipientIDs *[]string `json:"selectedRecipientIds"`
	IncludeCertificates  *bool     `json:"includeCertificates"`
}

type settingsResponse struct {
	IsEnabled            bool      `json:"isEnabled"`
	SelectedRecipientIDs []string  `json:"selectedRecipientIds"`
	IncludeCertificates  bool      `json:"includeCertificates"`
	UpdatedBy            *string   `json:"updatedBy,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

type createRecipientsRequest struct {
	Emails string  `json:"emails"`
	Name   *string `json:"name"`
}

type updateRecipientRequest struct {
	Email    *string `json:"email"`
	Name     *string `json:"name"`
	IsActive *bool   `json:"isActive"`
}

type recipientResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      *string   `json:"name,omitempty"`
	IsActive  bool      `json:"isActive"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.settings.Get(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSettingsResponse(settings))
}

func (h *AdminHandler) UpdateSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	actor := actorFrom(c).ID
	updated, err := h.settings.Update(c.UserContext(), domain.SettingsUpdate{
		IsEnabled:            req.IsEnabled,
		SelectedRecipientIDs: req.SelectedRecipientIDs,
		IncludeCertificates:  req.IncludeCertificates,
		UpdatedBy:            &actor,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toSettingsResponse(updated))
}

func (h *AdminHandler) ListRecipients(c *fiber.Ctx) error {
	recipients, err := h.recipients.List(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]recipientResponse, 0, len(recipients))
	for i := range recipients {
		data = append(data, toRecipientResponse(&recipients[i]))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *AdminHandler) CreateRecipients(c *fiber.Ctx) error {
	var req createRecipientsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.recipients.Create(c.UserContext(), service.CreateRecipientsRequest{
		Emails:  req.Emails,
		Name:    req.Name,
		ActorID: actorFrom(c).ID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"created": result.Created,
		"skipped": result.Skipped,
	})
}

func (h *AdminHandler) UpdateRecipient(c *fiber.Ctx) error {
	var req updateRecipientRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updated, err := h.recipients.Update(c.UserContext(), strings.TrimSpace(c.Params("id")), service.UpdateRecipientRequest{
		Email:    req.Email,
		Name:     req.Name,
		IsActive: req.IsActive,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRecipientResponse(updated))
}

func (h *AdminHandler) DeleteRecipient(c *fiber.Ctx) error {
	if err := h.recipients.Delete(c.UserContext(), strings.TrimSpace(c.Params("id"))); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toSettingsResponse(s *domain.Settings) settingsResponse {
	ids := s.SelectedRecipientIDs
	if ids == nil {
		ids = []string{}
	}
	return settingsResponse{
		IsEnabled:            s.IsEnabled,
		SelectedRecipientIDs: ids,
		IncludeCertificates:  s.IncludeCertificates,
		UpdatedBy:            s.UpdatedBy,
		UpdatedAt:            s.UpdatedAt,
	}
}

func toRecipientResponse(r *domain.Recipient) recipientResponse {
	return recipientResponse{
		ID:        r.ID,
		Email:     r.Email,
		Name:      r.Name,
		IsActive:  r.IsActive,
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
