package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
	"github.com/kursadbilgin/autosend-engine/internal/service"
	"go.uber.org/zap"
)

const (
	defaultBatchListLimit = 20
	maxBatchListLimit     = 100
)

type TriggerService interface {
	Manual(ctx context.Context, req service.ManualRequest) (*service.ManualResult, error)
	Scheduled(ctx context.Context) (*service.ScheduledResult, error)
	Resume(ctx context.Context, batchID string, actorID string) error
	Location() *time.Location
}

type BatchService interface {
	List(ctx context.Context, limit int) ([]service.BatchSummary, error)
	Get(ctx context.Context, id string) (*service.BatchDetail, error)
	Download(ctx context.Context, itemID string) (*service.Artifact, error)
}

type AutoSendHandler struct {
	trigger    TriggerService
	batches    BatchService
	cronSecret string
	logger     *zap.Logger
}

func NewAutoSendHandler(trigger TriggerService, batches BatchService, cronSecret string, logger *zap.Logger) (*AutoSendHandler, error) {
	if trigger == nil {
		return nil, fmt.Errorf("trigger service is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoSendHandler{
		trigger:    trigger,
		batches:    batches,
		cronSecret: cronSecret,
		logger:     logger,
	}, nil
}

func (h *AutoSendHandler) register(group fiber.Router) {
	operators := RequireRole(RoleAdmin, RoleManager)
	anyRole := RequireRole()

	group.Post("/trigger", operators, h.Trigger)
	group.Post("/cron", h.Cron)
	group.Get("/batches", anyRole, h.ListBatches)
	group.Get("/batches/:batchId", anyRole, h.GetBatch)
	group.Post("/batches/:batchId/execute", operators, h.ExecuteBatch)
	group.Get("/items/:itemId/download", anyRole, h.DownloadItem)
}

type triggerRequest struct {
	DateFrom            *string  `json:"dateFrom"`
	DateTo              *string  `json:"dateTo"`
	RecipientIDs        []string `json:"recipientIds"`
	IncludeCertificates *bool    `json:"includeCertificates"`
}

type triggerResponse struct {
	Success       bool   `json:"success"`
	BatchID       string `json:"batchId"`
	BatchSequence int64  `json:"batchSequence"`
	Items         int    `json:"items"`
}

type cronResponse struct {
	Success   bool   `json:"success"`
	Skipped   bool   `json:"skipped,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	BatchID   string `json:"batchId,omitempty"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Status    string `json:"status,omitempty"`
}

type statusCountResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

type batchResponse struct {
	ID          string                `json:"id"`
	Sequence    int64                 `json:"sequence"`
	DateFrom    time.Time             `json:"dateFrom"`
	DateTo      time.Time             `json:"dateTo"`
	Trigger     string                `json:"trigger"`
	InitiatedBy *string               `json:"initiatedBy,omitempty"`
	CreatedAt   time.Time             `json:"createdAt"`
	Status      string                `json:"status"`
	Total       int                   `json:"total"`
	Counts      []statusCountResponse `json:"counts"`
}

type batchItemResponse struct {
	ID                  string     `json:"id"`
	RecipientID         string     `json:"recipientId"`
	RecipientEmail      string     `json:"recipientEmail"`
	Sequence            int        `json:"sequence"`
	EntryIDs            []string   `json:"entryIds"`
	IncludeCertificates bool       `json:"includeCertificates"`
	Status              string     `json:"status"`
	Error               *string    `json:"error,omitempty"`
	SentAt              *time.Time `json:"sentAt,omitempty"`
	Filename            string     `json:"filename"`
}

type batchDetailResponse struct {
	batchResponse
	Items []batchItemResponse `json:"items"`
}

type listBatchesResponse struct {
	Data []batchResponse `json:"data"`
}

// Trigger plans a manual batch and starts it in the background.
func (h *AutoSendHandler) Trigger(c *fiber.Ctx) error {
	var req triggerRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	dr, err := parseDateRange(req.DateFrom, req.DateTo, h.trigger.Location())
	if err != nil {
		return toHTTPError(err)
	}

	actor := actorFrom(c)
	result, err := h.trigger.Manual(c.UserContext(), service.ManualRequest{
		Range:               dr,
		RecipientIDs:        req.RecipientIDs,
		IncludeCertificates: req.IncludeCertificates,
		ActorID:             actor.ID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(triggerResponse{
		Success:       true,
		BatchID:       result.BatchID,
		BatchSequence: result.BatchSequence,
		Items:         result.Items,
	})
}

// Cron runs the scheduled send for an external scheduler. It fails closed: without a configured
// secret nothing runs.
func (h *AutoSendHandler) Cron(c *fiber.Ctx) error {
	if h.cronSecret == "" {
		h.logger.Error("cron endpoint called but no cron secret is configured")
		return fiber.NewError(fiber.StatusInternalServerError, "cron secret is not configured")
	}
	if !h.validCronToken(c.Get(fiber.HeaderAuthorization)) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid cron token")
	}

	result, err := h.trigger.Scheduled(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(cronResponse{
		Success:   result.Success,
		Skipped:   result.Skipped,
		Reason:    result.Reason,
		Message:   result.Message,
		BatchID:   result.BatchID,
		Sent:      result.Sent,
		Failed:    result.Failed,
		Remaining: result.Remaining,
		Status:    string(result.Status),
	})
}

func (h *AutoSendHandler) validCronToken(header string) bool {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

func (h *AutoSendHandler) ListBatches(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultBatchListLimit)
	if limit < 1 || limit > maxBatchListLimit {
		return toHTTPError(fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxBatchListLimit))
	}

	summaries, err := h.batches.List(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchResponse, 0, len(summaries))
	for _, s := range summaries {
		data = append(data, toBatchResponse(s))
	}
	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{Data: data})
}

func (h *AutoSendHandler) GetBatch(c *fiber.Ctx) error {
	detail, err := h.batches.Get(c.UserContext(), strings.TrimSpace(c.Params("batchId")))
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]batchItemResponse, 0, len(detail.Items))
	for _, item := range detail.Items {
		items = append(items, batchItemResponse{
			ID:                  item.ID,
			RecipientID:         item.RecipientID,
			RecipientEmail:      item.RecipientEmail,
			Sequence:            item.Sequence,
			EntryIDs:            item.EntryIDs,
			IncludeCertificates: item.IncludeCertificates,
			Status:              item.Status.String(),
			Error:               item.Error,
			SentAt:              item.SentAt,
			Filename:            domain.ArtifactFilename(detail.Batch.Sequence, item.Sequence),
		})
	}

	return c.Status(fiber.StatusOK).JSON(batchDetailResponse{
		batchResponse: toBatchResponse(detail.BatchSummary),
		Items:         items,
	})
}

// ExecuteBatch resumes the remaining PENDING items of a batch in the background.
func (h *AutoSendHandler) ExecuteBatch(c *fiber.Ctx) error {
	ctx := c.UserContext()
	detail, err := h.batches.Get(ctx, strings.TrimSpace(c.Params("batchId")))
	if err != nil {
		return toHTTPError(err)
	}
	if detail.Status != domain.BatchStatusInProgress {
		return toHTTPError(fmt.Errorf("%w: batch has no pending items", domain.ErrConflict))
	}

	if err := h.trigger.Resume(ctx, detail.Batch.ID, actorFrom(c).ID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"batchId": detail.Batch.ID,
	})
}

func (h *AutoSendHandler) DownloadItem(c *fiber.Ctx) error {
	artifact, err := h.batches.Download(c.UserContext(), strings.TrimSpace(c.Params("itemId")))
	if err != nil {
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, artifact.Filename))
	return c.Status(fiber.StatusOK).Send(artifact.Content)
}

func toBatchResponse(s service.BatchSummary) batchResponse {
	counts := make([]statusCountResponse, 0, len(s.Counts))
	for _, count := range s.Counts {
		counts = append(counts, statusCountResponse{
			Status: count.Status.String(),
			Count:  count.Count,
		})
	}

	return batchResponse{
		ID:          s.Batch.ID,
		Sequence:    s.Batch.Sequence,
		DateFrom:    s.Batch.DateFrom,
		DateTo:      s.Batch.DateTo,
		Trigger:     s.Batch.Trigger.String(),
		InitiatedBy: s.Batch.InitiatedBy,
		CreatedAt:   s.Batch.CreatedAt,
		Status:      s.Status.String(),
		Total:       s.Total,
		Counts:      counts,
	}
}
