// Package billing forwards consumption records to an external usage API.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/artpar/nubo/internal/core/domain"
)

// =============================================================================
// Client Interface
// =============================================================================

// Client defines the interface for reporting consumption records to the
// usage API.
type Client interface {
	// ReportConsumption reports a single consumption record.
	ReportConsumption(ctx context.Context, c domain.Consumption) error

	// ReportConsumptionBatch reports multiple consumption records at once.
	ReportConsumptionBatch(ctx context.Context, records []domain.Consumption) error
}

// =============================================================================
// HTTP Client Implementation
// =============================================================================

// HTTPClient implements Client against the usage API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPConfig holds configuration for the usage API client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultConfig returns default usage API client configuration.
func DefaultConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL: "http://localhost:8080",
		Timeout: 30 * time.Second,
	}
}

// NewHTTPClient creates a new usage API client.
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// consumptionRequest represents the request body for reporting usage.
type consumptionRequest struct {
	Records []consumptionPayload `json:"records"`
}

// consumptionPayload represents a single record in the report request.
type consumptionPayload struct {
	RecordID     string  `json:"record_id"`
	ResourceType string  `json:"resource_type"`
	ResourceID   int     `json:"resource_id"`
	Provider     string  `json:"provider"`
	InstanceType string  `json:"instance_type,omitempty"`
	FromDate     string  `json:"from_date"`
	ToDate       string  `json:"to_date"`
	PriceHourly  float64 `json:"price_hourly"`
	Amount       float64 `json:"amount"`
}

// ReportConsumption reports a single consumption record.
func (c *HTTPClient) ReportConsumption(ctx context.Context, record domain.Consumption) error {
	return c.ReportConsumptionBatch(ctx, []domain.Consumption{record})
}

// ReportConsumptionBatch reports multiple consumption records.
func (c *HTTPClient) ReportConsumptionBatch(ctx context.Context, records []domain.Consumption) error {
	if len(records) == 0 {
		return nil
	}

	payload := consumptionRequest{
		Records: make([]consumptionPayload, len(records)),
	}

	for i, record := range records {
		payload.Records[i] = consumptionPayload{
			RecordID:     record.ID,
			ResourceType: record.ResourceType,
			ResourceID:   record.ResourceID,
			Provider:     string(record.Provider),
			InstanceType: record.InstanceType,
			FromDate:     record.FromDate.Format(time.RFC3339),
			ToDate:       record.ToDate.Format(time.RFC3339),
			PriceHourly:  record.PriceHourly,
			Amount:       record.Amount,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal consumption request: %w", err)
	}

	url := c.baseURL + "/api/v1/consumptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send consumption request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("usage API returned error %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// =============================================================================
// No-Op Client (for development/testing)
// =============================================================================

// NoOpClient is a billing client that does nothing (for development mode).
type NoOpClient struct{}

// NewNoOpClient creates a no-op billing client.
func NewNoOpClient() *NoOpClient {
	return &NoOpClient{}
}

// ReportConsumption does nothing.
func (c *NoOpClient) ReportConsumption(ctx context.Context, record domain.Consumption) error {
	return nil
}

// ReportConsumptionBatch does nothing.
func (c *NoOpClient) ReportConsumptionBatch(ctx context.Context, records []domain.Consumption) error {
	return nil
}
