package bridge

import (
	"context"
	"fmt"
	"net/url"
)

// =============================================================================
// 手动料卡接口 — 人工上料机台固定两槽位（1=当前，2=下一个）物理预载
// =============================================================================

// PreloadManualFile 在指定槽位预载手动文件
func (c *Client) PreloadManualFile(ctx context.Context, machineID string, slot int, path string) error {
	apiPath := fmt.Sprintf("/machines/%s/manual/preload", url.PathEscape(machineID))
	return c.doRequest(ctx, "POST", apiPath, map[string]interface{}{
		"slot": slot,
		"path": path,
	}, nil)
}

// PlayManual 触发手动槽位播放
func (c *Client) PlayManual(ctx context.Context, machineID string, slot int) error {
	apiPath := fmt.Sprintf("/machines/%s/manual/play", url.PathEscape(machineID))
	return c.doRequest(ctx, "POST", apiPath, map[string]interface{}{"slot": slot}, nil)
}
