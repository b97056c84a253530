package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// =============================================================================
// 智能任务接口 — 异步受理协议
// 桥接服务可能同步返回结果，也可能返回202+jobId表示"已受理，完成后回调"
// 这里统一归一化为SmartJobResult
// =============================================================================

func (c *Client) smartCall(ctx context.Context, machineID, action string, req *SmartJobRequest) (*SmartJobResult, error) {
	path := fmt.Sprintf("/machines/%s/smart/%s", url.PathEscape(machineID), action)
	status, respBody, err := c.doRequestRaw(ctx, "POST", path, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{StatusCode: status, Message: upstreamMessage(respBody)}
	}

	body := map[string]interface{}{}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &body); err != nil {
			return nil, fmt.Errorf("解析智能任务响应失败: %w", err)
		}
	}

	result := &SmartJobResult{Body: body}
	if status == http.StatusAccepted {
		result.Accepted = true
		if id, ok := body["jobId"].(string); ok {
			result.JobID = id
		}
	}
	return result, nil
}

// SmartUpload 上传NC程序到机台
func (c *Client) SmartUpload(ctx context.Context, machineID string, req *SmartJobRequest) (*SmartJobResult, error) {
	return c.smartCall(ctx, machineID, "upload", req)
}

// SmartEnqueue 入队加工任务
func (c *Client) SmartEnqueue(ctx context.Context, machineID string, req *SmartJobRequest) (*SmartJobResult, error) {
	return c.smartCall(ctx, machineID, "enqueue", req)
}

// SmartDequeue 出队加工任务
func (c *Client) SmartDequeue(ctx context.Context, machineID string, req *SmartJobRequest) (*SmartJobResult, error) {
	return c.smartCall(ctx, machineID, "dequeue", req)
}

// SmartReplace 替换机台当前程序
func (c *Client) SmartReplace(ctx context.Context, machineID string, req *SmartJobRequest) (*SmartJobResult, error) {
	return c.smartCall(ctx, machineID, "replace", req)
}

// SmartStart 启动加工
func (c *Client) SmartStart(ctx context.Context, machineID string, req *SmartJobRequest) (*SmartJobResult, error) {
	return c.smartCall(ctx, machineID, "start", req)
}

// SmartStatus 查询机台智能任务状态（纯透传读取，不影响本地状态）
func (c *Client) SmartStatus(ctx context.Context, machineID string) (map[string]interface{}, error) {
	var result map[string]interface{}
	path := fmt.Sprintf("/machines/%s/smart/status", url.PathEscape(machineID))
	if err := c.doRequest(ctx, "GET", path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetJobResult 查询异步任务执行结果（纯透传读取）
func (c *Client) GetJobResult(ctx context.Context, machineID, jobID string) (map[string]interface{}, error) {
	var result map[string]interface{}
	path := fmt.Sprintf("/machines/%s/smart/jobs/%s", url.PathEscape(machineID), url.PathEscape(jobID))
	if err := c.doRequest(ctx, "GET", path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ContinuousEnqueue 连续加工模式入队
func (c *Client) ContinuousEnqueue(ctx context.Context, machineID string, req *SmartJobRequest) (*SmartJobResult, error) {
	return c.smartCall(ctx, machineID, "continuous-enqueue", req)
}

// ContinuousState 查询连续加工模式状态
func (c *Client) GetContinuousState(ctx context.Context, machineID string) (*ContinuousState, error) {
	var state ContinuousState
	path := fmt.Sprintf("/machines/%s/continuous/state", url.PathEscape(machineID))
	if err := c.doRequest(ctx, "GET", path, nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}
