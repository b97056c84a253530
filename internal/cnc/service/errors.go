package service

import "errors"

// 错误定义
// 调用方只观察DB侧主写入的成败；桥接镜像失败走日志，从不上抛
var (
	// ErrValidation 缺少必要标识/路径，在任何网络调用之前拒绝
	ErrValidation = errors.New("validation error")
	// ErrJobNotFound 经过一次resync后任务仍不存在
	ErrJobNotFound = errors.New("job not found")
	// ErrMachineNotFound 机台不存在
	ErrMachineNotFound = errors.New("machine not found")
)
