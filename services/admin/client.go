package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"stocktake/services/audit"
)

// OutstandingError reports an audit the server refused to finish because
// discrepancies remain. The caller can confirm and retry.
type OutstandingError struct {
	Missing       int
	Discrepancies int
}

func (e *OutstandingError) Error() string {
	return fmt.Sprintf("audit has %d missing items and %d discrepancy scans outstanding", e.Missing, e.Discrepancies)
}

// Client talks to the stocktaked audit API on behalf of an operator.
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
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}, nil
}

type errorResponse struct {
	Error         string `json:"error"`
	Missing       int    `json:"missing"`
	Discrepancies int    `json:"discrepancies"`
}

// AuditDetail is one audit plus its snapshot progress.
type AuditDetail struct {
	Audit         audit.Audit `json:"audit"`
	SnapshotSize  int         `json:"snapshot_size"`
	DistinctFound int         `json:"distinct_found"`
}

// GetAudit fetches one audit with its live counters and progress.
func (c *Client) GetAudit(ctx context.Context, auditID uuid.UUID) (AuditDetail, error) {
	var (
		parsed  AuditDetail
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&parsed).
		SetError(&failure).
		Get(fmt.Sprintf("/v1/audits/%s", auditID))
	if err != nil {
		return AuditDetail{}, fmt.Errorf("get audit: %w", err)
	}
	if !resp.IsSuccess() {
		return AuditDetail{}, apiError(resp, failure)
	}
	return parsed, nil
}

// ListAudits fetches every audit, newest first.
func (c *Client) ListAudits(ctx context.Context) ([]audit.Audit, error) {
	var (
		parsed struct {
			Audits []audit.Audit `json:"audits"`
		}
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&parsed).
		SetError(&failure).
		Get("/v1/audits")
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp, failure)
	}
	return parsed.Audits, nil
}

type finishResponse struct {
	Audit        audit.Audit `json:"audit"`
	TasksCreated int         `json:"tasks_created"`
}

// FinishAudit closes an audit. Without confirm the server rejects completion
// while discrepancies remain; that case surfaces as *OutstandingError.
func (c *Client) FinishAudit(ctx context.Context, auditID uuid.UUID, confirm bool, note string) (audit.Audit, int, error) {
	var (
		parsed  finishResponse
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"confirm": confirm, "note": note}).
		SetResult(&parsed).
		SetError(&failure).
		Post(fmt.Sprintf("/v1/audits/%s/finish", auditID))
	if err != nil {
		return audit.Audit{}, 0, fmt.Errorf("finish audit: %w", err)
	}
	if resp.StatusCode() == 409 && (failure.Missing > 0 || failure.Discrepancies > 0) {
		return audit.Audit{}, 0, &OutstandingError{Missing: failure.Missing, Discrepancies: failure.Discrepancies}
	}
	if !resp.IsSuccess() {
		return audit.Audit{}, 0, apiError(resp, failure)
	}
	return parsed.Audit, parsed.TasksCreated, nil
}

type resetResponse struct {
	Audit        audit.Audit `json:"audit"`
	ScansDeleted int64       `json:"scans_deleted"`
}

// ResetAudit wipes every scan from an audit. The confirm string must repeat
// the audit id exactly or the server refuses.
func (c *Client) ResetAudit(ctx context.Context, auditID uuid.UUID, confirm string) (audit.Audit, int64, error) {
	var (
		parsed  resetResponse
		failure errorResponse
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"confirm": confirm}).
		SetResult(&parsed).
		SetError(&failure).
		Post(fmt.Sprintf("/v1/audits/%s/reset", auditID))
	if err != nil {
		return audit.Audit{}, 0, fmt.Errorf("reset audit: %w", err)
	}
	if !resp.IsSuccess() {
		return audit.Audit{}, 0, apiError(resp, failure)
	}
	return parsed.Audit, parsed.ScansDeleted, nil
}

// ListTasks fetches the follow-up tasks generated for an audit.
func (c *Client) ListTasks(ctx context.Context, auditID uuid.UUID, status string) ([]audit.Task, error) {
	var (
		parsed struct {
			Tasks []audit.Task `json:"tasks"`
		}
		failure errorResponse
	)
	req := c.http.R().
		SetContext(ctx).
		SetResult(&parsed).
		SetError(&failure)
	if status != "" {
		req.SetQueryParam("status", status)
	}
	resp, err := req.Get(fmt.Sprintf("/v1/audits/%s/tasks", auditID))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp, failure)
	}
	return parsed.Tasks, nil
}

func apiError(resp *resty.Response, failure errorResponse) error {
	if failure.Error != "" {
		return fmt.Errorf("server: %s", failure.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status())
}
