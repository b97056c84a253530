package bridge

import (
	"context"
	"fmt"
	"net/url"
)

// ListMachineStatuses 读取桥接侧全部机台状态
func (c *Client) ListMachineStatuses(ctx context.Context) ([]MachineStatus, error) {
	var resp struct {
		Machines []MachineStatus `json:"machines"`
	}
	if err := c.doRequest(ctx, "GET", "/machines/status", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Machines, nil
}

// GetMachineStatus 读取单台机台状态（材料变更自动派工前的健康探测用）
// 调用方需要自带有界超时context，探测失败按离线处理
func (c *Client) GetMachineStatus(ctx context.Context, machineID string) (*MachineStatus, error) {
	var status MachineStatus
	path := fmt.Sprintf("/machines/%s/status", url.PathEscape(machineID))
	if err := c.doRequest(ctx, "GET", path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// PushMaterial 下发材料变更通知
func (c *Client) PushMaterial(ctx context.Context, machineID string, material *MaterialPush) error {
	path := fmt.Sprintf("/machines/%s/material", url.PathEscape(machineID))
	return c.doRequest(ctx, "PUT", path, material, nil)
}

// StoreFile 按桥接相对路径存储文件内容（NC程序原文）
func (c *Client) StoreFile(ctx context.Context, machineID, filePath string, content []byte, contentType string) error {
	apiPath := fmt.Sprintf("/machines/%s/files?path=%s", url.PathEscape(machineID), url.QueryEscape(filePath))
	return c.doRequestBinary(ctx, "PUT", apiPath, content, contentType)
}

// GetActiveProgram 读取机台当前活动程序
func (c *Client) GetActiveProgram(ctx context.Context, machineID string) (*ActiveProgram, error) {
	var prog ActiveProgram
	path := fmt.Sprintf("/machines/%s/program/active", url.PathEscape(machineID))
	if err := c.doRequest(ctx, "GET", path, nil, &prog); err != nil {
		return nil, err
	}
	return &prog, nil
}
