// Package remote talks to the spreadsheet-backed system of record. Every call is
// a single JSON POST; the endpoint replies with an ok/duplicate/updated/notFound
// envelope or an error/code pair.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// APIKeyHeader carries the shared secret.
const APIKeyHeader = "X-Api-Key"

const maxBodyBytes = 8 << 20

// Config configures Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	// HTTPClient overrides the default client; tests inject httptest clients.
	HTTPClient *http.Client
}

// Client issues calls against the remote endpoint. It never retries.
type Client struct {
	url    string
	apiKey string
	http   *http.Client
	logger *slog.Logger
}

// New constructs a Client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("remote: url required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: cfg.URL, apiKey: cfg.APIKey, http: hc, logger: logger.With(slog.String("component", "remote"))}, nil
}

// Upsert writes one record.
func (c *Client) Upsert(ctx context.Context, requestID string, rec Record) (Result, error) {
	return c.mutate(ctx, ActionUpsert, request{Action: ActionUpsert, RequestID: requestID, VehicleName: rec.VehicleName, Record: &rec})
}

// Get reads one record. A missing record yields an error matching ErrNotFound.
func (c *Client) Get(ctx context.Context, vehicle, medicine string) (Record, error) {
	resp, err := c.call(ctx, ActionGet, request{Action: ActionGet, VehicleName: vehicle, Medicine: medicine})
	if err != nil {
		return Record{}, err
	}
	if len(resp.Data) == 0 || bytes.Equal(resp.Data, []byte("null")) || contains(resp.NotFound, medicine) {
		return Record{}, &Error{Kind: KindRejected, Action: ActionGet, Code: CodeNotFound, Message: "record not found"}
	}
	var rec Record
	if err := json.Unmarshal(resp.Data, &rec); err != nil {
		return Record{}, &Error{Kind: KindDecode, Action: ActionGet, Err: err}
	}
	return rec, nil
}

// GetAllForVehicle reads every record of a vehicle.
func (c *Client) GetAllForVehicle(ctx context.Context, vehicle string) ([]Record, error) {
	return c.records(ctx, ActionGetAllForVehicle, request{Action: ActionGetAllForVehicle, VehicleName: vehicle})
}

// GetAllForDate reads the records uploaded for date. An empty vehicle reads
// every vehicle.
func (c *Client) GetAllForDate(ctx context.Context, vehicle, date string) ([]Record, error) {
	return c.records(ctx, ActionGetAllForDate, request{Action: ActionGetAllForDate, VehicleName: vehicle, Date: date})
}

// Balances reads the authoritative balances of a vehicle.
func (c *Client) Balances(ctx context.Context, vehicle string) ([]Record, error) {
	return c.records(ctx, ActionBalances, request{Action: ActionBalances, VehicleName: vehicle})
}

// BulkUpload sends a day's ledger in one call.
func (c *Client) BulkUpload(ctx context.Context, requestID, date string, records []Record) (Result, error) {
	return c.mutate(ctx, ActionBulkUpload, request{Action: ActionBulkUpload, RequestID: requestID, Date: date, Records: records})
}

// SubmitMode sends a consumption, issue or rollover batch and reports which
// items the endpoint updated and which it could not find.
func (c *Client) SubmitMode(ctx context.Context, requestID string, mode Mode, vehicle string, items []ModeItem) (Result, error) {
	return c.mutate(ctx, string(mode), request{Mode: mode, RequestID: requestID, VehicleName: vehicle, Items: items})
}

func (c *Client) mutate(ctx context.Context, action string, req request) (Result, error) {
	resp, err := c.call(ctx, action, req)
	if err != nil {
		return Result{}, err
	}
	res := Result{Duplicate: resp.Duplicate, Updated: resp.Updated, NotFound: resp.NotFound}
	if resp.Duplicate {
		return res, &Error{Kind: KindRejected, Action: action, Code: CodeDuplicate, Message: "already applied"}
	}
	return res, nil
}

func (c *Client) records(ctx context.Context, action string, req request) ([]Record, error) {
	resp, err := c.call(ctx, action, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || bytes.Equal(resp.Data, []byte("null")) {
		return nil, nil
	}
	var out []Record
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, &Error{Kind: KindDecode, Action: action, Err: err}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, action string, req request) (response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return response{}, fmt.Errorf("remote %s: marshal: %w", action, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return response{}, fmt.Errorf("remote %s: build request: %w", action, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set(APIKeyHeader, c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("remote call failed", slog.String("action", action), slog.Any("error", err))
		return response{}, &Error{Kind: KindTransport, Action: action, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return response{}, &Error{Kind: KindTransport, Action: action, Err: err}
	}
	c.logger.Debug("remote call",
		slog.String("action", action),
		slog.String("request_id", req.RequestID),
		slog.Int("status", httpResp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return response{}, &Error{Kind: KindStatus, Action: action, Status: httpResp.StatusCode, Message: snippet(body)}
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return response{}, &Error{Kind: KindDecode, Action: action, Status: httpResp.StatusCode, Err: err}
	}
	if !resp.OK {
		if resp.Duplicate && resp.Code == "" {
			resp.Code = CodeDuplicate
		}
		msg := resp.Error
		if msg == "" {
			msg = "request rejected"
		}
		return response{}, &Error{Kind: KindRejected, Action: action, Status: httpResp.StatusCode, Code: resp.Code, Message: msg}
	}
	return resp, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
