package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/autosend-engine/internal/domain"
)

const defaultRenderTimeout = 30 * time.Second

var pdfMagic = []byte("%PDF-")

// Renderer turns one fuel entry into a standalone PDF document.
type Renderer interface {
	Render(ctx context.Context, entry domain.FuelEntry) ([]byte, error)
}

type renderRequest struct {
	ID              string    `json:"id"`
	DeliveredAt     time.Time `json:"deliveredAt"`
	DeliveryNumber  string    `json:"deliveryNumber"`
	SupplierName    string    `json:"supplierName"`
	TransporterName string    `json:"transporterName,omitempty"`
	VehiclePlate    string    `json:"vehiclePlate,omitempty"`
	ProductType     string    `json:"productType"`
	Liters          float64   `json:"liters"`
}

// HTTPRenderer posts entries to the document render service and expects a PDF body back.
type HTTPRenderer struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPRenderer(endpoint string) (*HTTPRenderer, error) {
	client := resty.New()
	client.SetTimeout(defaultRenderTimeout)
	client.SetRetryCount(0)

	return NewHTTPRendererWithClient(endpoint, client)
}

func NewHTTPRendererWithClient(endpoint string, client *resty.Client) (*HTTPRenderer, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("renderer endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid renderer endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultRenderTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPRenderer{
		client:   client,
		endpoint: trimmed,
	}, nil
}

func (r *HTTPRenderer) Render(ctx context.Context, entry domain.FuelEntry) ([]byte, error) {
	if r == nil || r.client == nil {
		return nil, fmt.Errorf("renderer is not initialized")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return nil, fmt.Errorf("%w: entry id is required", domain.ErrValidation)
	}

	response, err := r.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/pdf").
		SetBody(renderRequest{
			ID:              entry.ID,
			DeliveredAt:     entry.DeliveredAt,
			DeliveryNumber:  entry.DeliveryNumber,
			SupplierName:    entry.SupplierName,
			TransporterName: entry.TransporterName,
			VehiclePlate:    entry.VehiclePlate,
			ProductType:     entry.ProductType,
			Liters:          entry.Liters,
		}).
		Post(r.endpoint)
	if err != nil {
		return nil, &RenderError{
			Message:   "render request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &RenderError{
			StatusCode: statusCode,
			Message:    renderErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	body := response.Body()
	if !bytes.HasPrefix(body, pdfMagic) {
		return nil, &RenderError{
			StatusCode: statusCode,
			Message:    "render service did not return a PDF",
		}
	}

	return body, nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func renderErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("render service returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s: %s", base, body)
}
