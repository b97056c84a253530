package bridge

import (
	"context"
	"fmt"
	"net/url"
)

// =============================================================================
// 队列接口 — 桥接服务内部维护一份自己的执行队列，这里的调用用于镜像DB侧变更
// 和在resync时读取桥接侧权威队列
// =============================================================================

// GetQueue 读取桥接侧队列（resync-on-miss时作为权威来源）
func (c *Client) GetQueue(ctx context.Context, machineID string) ([]QueueJob, error) {
	var resp QueueResponse
	path := fmt.Sprintf("/machines/%s/queue", url.PathEscape(machineID))
	if err := c.doRequest(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// ReorderQueue 下发新的队列顺序
func (c *Client) ReorderQueue(ctx context.Context, machineID string, jobIDs []string) error {
	path := fmt.Sprintf("/machines/%s/queue/reorder", url.PathEscape(machineID))
	return c.doRequest(ctx, "PUT", path, map[string]interface{}{"order": jobIDs}, nil)
}

// ClearQueue 清空桥接侧队列
func (c *Client) ClearQueue(ctx context.Context, machineID string) error {
	path := fmt.Sprintf("/machines/%s/queue", url.PathEscape(machineID))
	return c.doRequest(ctx, "DELETE", path, nil, nil)
}

// UpdateJobQty 修改单个任务数量
func (c *Client) UpdateJobQty(ctx context.Context, machineID, jobID string, qty int) error {
	path := fmt.Sprintf("/machines/%s/queue/%s/qty", url.PathEscape(machineID), url.PathEscape(jobID))
	return c.doRequest(ctx, "PATCH", path, map[string]interface{}{"qty": qty}, nil)
}

// UpdateJobPause 修改单个任务暂停状态
func (c *Client) UpdateJobPause(ctx context.Context, machineID, jobID string, paused bool) error {
	path := fmt.Sprintf("/machines/%s/queue/%s/pause", url.PathEscape(machineID), url.PathEscape(jobID))
	return c.doRequest(ctx, "PATCH", path, map[string]interface{}{"paused": paused}, nil)
}

// DeleteJobs 批量删除任务
func (c *Client) DeleteJobs(ctx context.Context, machineID string, jobIDs []string) error {
	path := fmt.Sprintf("/machines/%s/queue/delete", url.PathEscape(machineID))
	return c.doRequest(ctx, "POST", path, map[string]interface{}{"jobIds": jobIDs}, nil)
}
