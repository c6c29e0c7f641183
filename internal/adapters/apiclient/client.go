// Package apiclient — типизированный клиент HTTP API для engagectl.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"engagement-hub/internal/domain"
	"engagement-hub/internal/usecase/workflow"
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
	scope      string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithToken задаёт bearer-токен.
func WithToken(token string) Option {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithScope задаёт область для режима разработки (заголовок X-Scope).
func WithScope(scope string) Option {
	return func(c *Client) { c.scope = strings.TrimSpace(scope) }
}

// APIError — ошибка, которую вернул сервер. Unwrap отдаёт sentinel домена по коду.
type APIError struct {
	Status      int                    `json:"-"`
	Message     string                 `json:"error"`
	Code        string                 `json:"code"`
	ActiveJobID string                 `json:"active_job_id,omitempty"`
	Item        *domain.EngagementItem `json:"item,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error: status=%d message=%s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error [%s]: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return domain.ErrorForCode(e.Code) }

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// StartJob запускает задачу и возвращает её начальное состояние.
func (c *Client) StartJob(ctx context.Context, kind domain.JobKind, params domain.JobParams) (domain.Job, error) {
	payload := map[string]any{"kind": kind, "params": params}
	var resp struct {
		JobID string     `json:"job_id"`
		Job   domain.Job `json:"job"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/jobs", nil, payload, &resp); err != nil {
		return domain.Job{}, err
	}
	return resp.Job, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var job domain.Job
	err := c.send(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, &job)
	return job, err
}

func (c *Client) ListJobs(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	q := url.Values{}
	setIf(q, "kind", string(filter.Kind))
	setIf(q, "status", string(filter.Status))
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var resp struct {
		Jobs []domain.Job `json:"jobs"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/jobs", q, nil, &resp)
	return resp.Jobs, err
}

// WaitJob опрашивает задачу, пока она не завершится. onPoll вызывается на каждом опросе.
func (c *Client) WaitJob(ctx context.Context, id string, interval time.Duration, onPoll func(domain.Job)) (domain.Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return domain.Job{}, err
		}
		if onPoll != nil {
			onPoll(job)
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.EngagementItem, error) {
	q := url.Values{}
	for _, s := range filter.Statuses {
		q.Add("status", string(s))
	}
	setIf(q, "community", filter.Community)
	setIf(q, "before", filter.Before)
	if filter.Recommended != nil {
		q.Set("recommended", strconv.FormatBool(*filter.Recommended))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	var resp struct {
		Items []domain.EngagementItem `json:"items"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/items", q, nil, &resp)
	return resp.Items, err
}

func (c *Client) GetItem(ctx context.Context, id string) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodGet, id, "", nil)
}

func (c *Client) Analyze(ctx context.Context, id string) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPost, id, "analyze", nil)
}

func (c *Client) GenerateDraft(ctx context.Context, id string, req workflow.DraftRequest) (domain.EngagementItem, error) {
	payload := map[string]string{
		"account_id":   req.AccountID,
		"length":       req.Options.Length,
		"style":        req.Options.Style,
		"voice":        req.Options.Voice,
		"instructions": req.Options.Instructions,
	}
	return c.itemCall(ctx, http.MethodPost, id, "draft", payload)
}

func (c *Client) EditDraft(ctx context.Context, id, text string) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPut, id, "draft", map[string]string{"text": text})
}

func (c *Client) Refine(ctx context.Context, id string, req workflow.RefineRequest) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPost, id, "refine", map[string]string{"action": string(req.Action), "target_style": req.TargetStyle})
}

func (c *Client) SubmitForReview(ctx context.Context, id, reviewerID string) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPost, id, "submit", map[string]string{"reviewer_id": reviewerID})
}

func (c *Client) Approve(ctx context.Context, id string, review workflow.Review) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPost, id, "approve", reviewPayload(review))
}

func (c *Client) Reject(ctx context.Context, id string, review workflow.Review) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPost, id, "reject", reviewPayload(review))
}

func (c *Client) Publish(ctx context.Context, id string) (domain.EngagementItem, error) {
	return c.itemCall(ctx, http.MethodPost, id, "publish", nil)
}

// Batch одобряет или отклоняет набор элементов.
func (c *Client) Batch(ctx context.Context, action workflow.BatchAction, ids []string, review workflow.Review) ([]workflow.Outcome, error) {
	payload := reviewPayload(review)
	payload["ids"] = ids
	var resp struct {
		Outcomes []workflow.Outcome `json:"outcomes"`
	}
	err := c.send(ctx, http.MethodPost, "/api/v1/items/batch/"+url.PathEscape(string(action)), nil, payload, &resp)
	return resp.Outcomes, err
}

func (c *Client) ListChannels(ctx context.Context, limit int) ([]domain.DiscoveredChannel, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Channels []domain.DiscoveredChannel `json:"channels"`
	}
	err := c.send(ctx, http.MethodGet, "/api/v1/channels", q, nil, &resp)
	return resp.Channels, err
}

// itemCall возвращает элемент и при ошибке, если сервер его приложил.
func (c *Client) itemCall(ctx context.Context, method, id, action string, body any) (domain.EngagementItem, error) {
	endpoint := "/api/v1/items/" + url.PathEscape(id)
	if action != "" {
		endpoint += "/" + action
	}
	var item domain.EngagementItem
	err := c.send(ctx, method, endpoint, nil, body, &item)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Item != nil {
		return *apiErr.Item, err
	}
	return item, err
}

func reviewPayload(review workflow.Review) map[string]any {
	return map[string]any{"reviewer_id": review.ReviewerID, "notes": review.Notes}
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, body any, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, query, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	if !strings.HasSuffix(endpoint, "/") && strings.HasSuffix(resolved.Path, "/") {
		resolved.Path = strings.TrimSuffix(resolved.Path, "/")
	}
	if len(query) > 0 {
		resolved.RawQuery = query.Encode()
	}
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.scope != "" {
		req.Header.Set("X-Scope", c.scope)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
