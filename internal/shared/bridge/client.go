package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// Client — 桥接服务基础客户端
// 桥接服务直连车间CNC控制器，本客户端封装其队列/智能任务/手动料卡/材料等HTTP接口
// 所有请求带X-Bridge-Key头认证，供queue/smartjob/manual/machine各子模块共用
// =============================================================================

// Config 客户端配置（由调用方注入，不使用包级单例）
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// Client 桥接服务客户端
type Client struct {
	baseURL      string
	apiKey       string
	probeTimeout time.Duration
	httpClient   *http.Client
}

// NewClient 创建桥接客户端实例
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 2500 * time.Millisecond
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		probeTimeout: probeTimeout,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ProbeTimeout 健康探测的有界超时
func (c *Client) ProbeTimeout() time.Duration {
	return c.probeTimeout
}

// UpstreamError 桥接服务返回非2xx时的错误
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("桥接服务错误[%d]: %s", e.StatusCode, e.Message)
}

// doRequest 执行桥接API请求
// 自动添加认证头，非2xx响应转为*UpstreamError
// method: HTTP方法（GET/POST/PATCH/PUT/DELETE）
// path: API路径（如 /machines/M01/queue）
// body: 请求体（会被JSON序列化，nil则不发送body）
// result: 响应结构体指针（会被JSON反序列化，nil则丢弃响应体）
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	status, respBody, err := c.doRequestRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return &UpstreamError{StatusCode: status, Message: upstreamMessage(respBody)}
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("解析响应体失败: %w", err)
		}
	}
	return nil
}

// doRequestRaw 执行请求并返回原始状态码和响应体
// 智能任务接口需要区分200同步完成和202异步受理，所以单独暴露状态码
func (c *Client) doRequestRaw(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("X-Bridge-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("请求桥接服务失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// doRequestBinary 上传原始文件内容（NC程序文本等，不做JSON包装）
func (c *Client) doRequestBinary(ctx context.Context, method, path string, content []byte, contentType string) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(content))
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Bridge-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求桥接服务失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &UpstreamError{StatusCode: resp.StatusCode, Message: upstreamMessage(respBody)}
	}
	return nil
}

// upstreamMessage 尽量从响应体里提取错误消息
func upstreamMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
