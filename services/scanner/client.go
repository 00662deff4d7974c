package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrRejected marks a submission the server refused outright (bad request,
// invalid code, finished audit). Retrying will not help; the entry needs
// operator attention.
var ErrRejected = errors.New("submission rejected")

// SubmitResult is the server's classification answer for one scan.
type SubmitResult struct {
	Outcome  string `json:"outcome"`
	Replayed bool   `json:"replayed"`
}

// Client talks to the stocktaked audit API.
type Client struct {
	http *resty.Client
}

// NewClient builds a client for the audit API at baseURL.
func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}, nil
}

type scanResponse struct {
	Scan struct {
		Outcome string `json:"outcome"`
	} `json:"scan"`
	Replayed bool   `json:"replayed"`
	Error    string `json:"error"`
}

// SubmitScan records one scan against its audit. Transport failures and 5xx
// responses return plain errors so the caller requeues; 4xx responses wrap
// ErrRejected because the server will never accept the entry as-is.
func (c *Client) SubmitScan(ctx context.Context, scan QueuedScan) (SubmitResult, error) {
	body := map[string]any{
		"id":          scan.EventID,
		"raw_code":    scan.RawCode,
		"source":      scan.Source,
		"captured_at": scan.CapturedAt,
	}

	var parsed scanResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&parsed).
		SetError(&parsed).
		Post(fmt.Sprintf("/v1/audits/%s/scans", scan.AuditID))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("submit scan: %w", err)
	}

	switch {
	case resp.IsSuccess():
		return SubmitResult{Outcome: parsed.Scan.Outcome, Replayed: parsed.Replayed}, nil
	case resp.StatusCode() >= 400 && resp.StatusCode() < 500:
		msg := parsed.Error
		if msg == "" {
			msg = resp.Status()
		}
		return SubmitResult{}, fmt.Errorf("%w: %s", ErrRejected, msg)
	default:
		return SubmitResult{}, fmt.Errorf("submit scan: server returned %s", resp.Status())
	}
}

// Healthy probes the audit API's health endpoint. Used by the connectivity
// watcher to detect the offline-to-online transition.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/healthz")
	return err == nil && resp.IsSuccess()
}
