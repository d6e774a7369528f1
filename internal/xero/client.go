package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client calls the Xero accounting API. Every request carries a bearer token
// and the Xero-tenant-id header.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewClient creates a Xero accounting API client
func NewClient(baseURL string, httpClient *http.Client, limits RateLimitConfig, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		limiter:    NewRateLimiter(limits),
		logger:     logger,
		tracer:     otel.Tracer("xero-client"),
	}
}

// GetOrganisation returns the organisation behind tenantID
func (c *Client) GetOrganisation(ctx context.Context, accessToken, tenantID string) (*Organisation, error) {
	var response struct {
		Organisations []Organisation `json:"Organisations"`
	}
	if err := c.do(ctx, http.MethodGet, "/Organisation", nil, accessToken, tenantID, nil, &response); err != nil {
		return nil, err
	}
	if len(response.Organisations) == 0 {
		return nil, fmt.Errorf("no organisation returned for tenant %s", tenantID)
	}
	return &response.Organisations[0], nil
}

// GetAccounts returns the chart of accounts of tenantID
func (c *Client) GetAccounts(ctx context.Context, accessToken, tenantID string) ([]Account, error) {
	var response struct {
		Accounts []Account `json:"Accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/Accounts", nil, accessToken, tenantID, nil, &response); err != nil {
		return nil, err
	}
	return response.Accounts, nil
}

// GetInvoices returns one page of invoices of tenantID. Pages start at 1.
func (c *Client) GetInvoices(ctx context.Context, accessToken, tenantID string, page int) ([]Invoice, error) {
	if page < 1 {
		page = 1
	}
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("order", "Date DESC")

	var response struct {
		Invoices []Invoice `json:"Invoices"`
	}
	if err := c.do(ctx, http.MethodGet, "/Invoices", params, accessToken, tenantID, nil, &response); err != nil {
		return nil, err
	}
	return response.Invoices, nil
}

// CreateManualJournal creates journal and returns it as stored by Xero
func (c *Client) CreateManualJournal(ctx context.Context, accessToken, tenantID string, journal ManualJournal) (*ManualJournal, error) {
	request := struct {
		ManualJournals []ManualJournal `json:"ManualJournals"`
	}{ManualJournals: []ManualJournal{journal}}

	var response struct {
		ManualJournals []ManualJournal `json:"ManualJournals"`
	}
	if err := c.do(ctx, http.MethodPost, "/ManualJournals", nil, accessToken, tenantID, request, &response); err != nil {
		return nil, err
	}
	if len(response.ManualJournals) == 0 || response.ManualJournals[0].ManualJournalID == "" {
		return nil, fmt.Errorf("xero returned no manual journal")
	}
	return &response.ManualJournals[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, accessToken, tenantID string, in, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "xero.api"+path, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("xero.tenant_id", tenantID),
	))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Xero-tenant-id", tenantID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to call xero %s: %w", path, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Op: method + " " + path, StatusCode: resp.StatusCode, Body: string(raw)}
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(seconds) * time.Second
		}
		span.RecordError(apiErr)
		c.logger.Warn("Xero API call failed",
			zap.String("path", path),
			zap.String("tenant_id", tenantID),
			zap.Int("status", resp.StatusCode))
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
