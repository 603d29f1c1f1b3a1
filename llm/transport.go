package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/answerflow/internal/tlsutil"
	"github.com/BaSui01/answerflow/llm/circuitbreaker"
	"github.com/BaSui01/answerflow/types"
)

// HTTPClient 外部 HTTP 能力（生成、向量化、重排）的公共调用层，
// 负责 JSON 编解码、错误映射与熔断。
type HTTPClient struct {
	name    string
	client  *http.Client
	baseURL string
	headers map[string]string
	breaker circuitbreaker.CircuitBreaker
}

// HTTPConfig HTTP 调用层配置
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
	Breaker circuitbreaker.CircuitBreaker
}

// NewHTTPClient 创建 HTTP 调用层
func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	return &HTTPClient{
		name:    cfg.Name,
		client:  tlsutil.SecureHTTPClient(timeout),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		breaker: cfg.Breaker,
	}
}

// Name 返回调用方名称
func (c *HTTPClient) Name() string { return c.name }

// PostJSON 发送 JSON 请求并将响应解码到 out
func (c *HTTPClient) PostJSON(ctx context.Context, endpoint string, body, out any) error {
	data, err := circuitbreaker.CallWithResultTyped(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return c.do(ctx, http.MethodPost, endpoint, body)
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		code := types.ErrUpstreamError
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			code = types.ErrUpstreamTimeout
		}
		return nil, types.NewError(code, c.name+" request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, MapHTTPError(resp.StatusCode, string(respBody), c.name)
	}
	return respBody, nil
}

// MapHTTPError 映射 HTTP 状态到结构化错误
func MapHTTPError(status int, msg, provider string) *types.Error {
	code := types.ErrUpstreamError
	retryable := status >= 500

	switch status {
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
		retryable = true
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		code = types.ErrUpstreamTimeout
		retryable = true
	}

	return types.NewError(code, fmt.Sprintf("%s: %s", provider, strings.TrimSpace(msg))).
		WithHTTPStatus(status).
		WithRetryable(retryable)
}
