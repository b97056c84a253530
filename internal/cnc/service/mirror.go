package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mirror 桥接镜像调度器
// DB写入是调用方可见的契约，桥接通知只是尽力而为的副本：
// 每个镜像调用在独立goroutine里执行，结果只记日志，失败可由resync恢复
type Mirror struct {
	logger  *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewMirror 创建镜像调度器
func NewMirror(logger *zap.Logger) *Mirror {
	return &Mirror{
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Dispatch 投递一个尽力而为的桥接调用
// 失败只记warn日志，从不上抛给调用方，也不重试
func (m *Mirror) Dispatch(op, machineID string, fn func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.logger.Warn("桥接镜像调用失败",
				zap.String("op", op),
				zap.String("machine_id", machineID),
				zap.Error(err),
			)
			return
		}
		m.logger.Debug("桥接镜像调用完成",
			zap.String("op", op),
			zap.String("machine_id", machineID),
		)
	}()
}

// Wait 等待在途镜像调用结束（优雅关闭和测试用）
func (m *Mirror) Wait() {
	m.wg.Wait()
}
