// Package client 网关 HTTP 客户端，供远程媒体工作者与运维脚本使用
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ngoclaw/wagent/internal/application/usecase"
	apperrors "github.com/ngoclaw/wagent/pkg/errors"
)

// Client 网关客户端; 实现 usecase.JobSource，远程工作者与本地工作者共用同一套循环
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ usecase.JobSource = (*Client)(nil)

// NewClient creates a gateway client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures the client
type Option func(*Client)

// WithToken sets the bearer token for authentication
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Claim 领取下一个待处理任务; 队列为空时返回 nil, nil
func (c *Client) Claim(ctx context.Context, workerID string) (*usecase.JobTask, error) {
	var task usecase.JobTask
	status, err := c.do(ctx, http.MethodPost, "/api/v1/jobs/claim", map[string]string{"worker_id": workerID}, &task)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &task, nil
}

// Complete 提交任务结果
func (c *Client) Complete(ctx context.Context, jobID, result string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/complete", map[string]string{"result": result}, nil)
	return err
}

// Fail 上报任务失败
func (c *Client) Fail(ctx context.Context, jobID, reason string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/fail", map[string]string{"reason": reason}, nil)
	return err
}

// Resubmit 将失败任务重新放回队列
func (c *Client) Resubmit(ctx context.Context, jobID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(jobID)+"/resubmit", nil, nil)
	return err
}

// Ask 调用检索问答
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	var resp struct {
		Answer string `json:"answer"`
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/ask", map[string]string{"question": question}, &resp); err != nil {
		return "", err
	}
	return resp.Answer, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.NewServiceUnavailableError("gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// decodeError 把网关错误码还原成 AppError，调用方可用 apperrors.IsConflict 等判断
func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(raw))
	}
	msg := fmt.Sprintf("gateway %d: %s", resp.StatusCode, payload.Error)

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return apperrors.NewInvalidInputError(msg)
	case http.StatusUnauthorized:
		return apperrors.NewUnauthorizedError(msg)
	case http.StatusNotFound:
		return apperrors.NewNotFoundError(msg)
	case http.StatusConflict:
		return apperrors.NewConflictError(msg, nil)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return apperrors.NewServiceUnavailableError(msg, nil)
	default:
		return apperrors.NewInternalError(msg)
	}
}
