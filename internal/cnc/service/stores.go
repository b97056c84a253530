package service

import (
	"context"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
)

// 存储接口：生产环境由gorm仓库实现，测试用testutil内存实现
// 快照存储必须可替换，这是队列同步逻辑可独立测试的前提

// MachineStore 机台+队列快照存储
type MachineStore interface {
	List(ctx context.Context) ([]entity.Machine, error)
	FindByMachineID(ctx context.Context, machineID string) (*entity.Machine, error)

	// 队列快照：Get缺失时返回空默认值；Save整体替换并盖updatedAt
	GetSnapshot(ctx context.Context, machineID string) (*entity.QueueSnapshot, error)
	SaveSnapshot(ctx context.Context, machineID string, jobs []entity.Job) error
	MarkBridgeSynced(ctx context.Context, machineID string) error

	UpdateMaterial(ctx context.Context, machineID string, u repository.MaterialUpdate) error
	UpdateManualCard(ctx context.Context, machineID, nowID, nextID string) error
	SetLastPlayStatus(ctx context.Context, machineID string, status entity.JSONB) error
}

// OrderStore 制造订单存储（协作方契约）
type OrderStore interface {
	FindByRequestNo(ctx context.Context, requestNo string) (*entity.ManufacturingOrder, error)
	RollbackPreQueue(ctx context.Context, requestNo string) error
	UpdateMachiningProgress(ctx context.Context, requestNo string, progress entity.JSONB) error
	CompleteMachining(ctx context.Context, requestNo string) error
	ResequenceQueue(ctx context.Context, machineID string) error
	FindPendingByDiameter(ctx context.Context, diameter float64, limit int) ([]entity.ManufacturingOrder, error)
	MaxQueuePosition(ctx context.Context, machineID string) (int, error)
	AssignToMachine(ctx context.Context, orderID, machineID string, position int) error
}

// RecordStore 加工记录存储
type RecordStore interface {
	EnsureRunning(ctx context.Context, machineID, requestID, jobID string) (*entity.MachiningRecord, error)
	UpdateProgress(ctx context.Context, id, phase string, percent float64, elapsedSeconds int64) error
	MarkCompleted(ctx context.Context, requestID, jobID string) error
	MarkFailed(ctx context.Context, requestID, jobID, reason string, alarms []string) error
	ListByMachine(ctx context.Context, machineID string, page, pageSize int) ([]entity.MachiningRecord, int64, error)
}

// EventLog 审计事件写入
type EventLog interface {
	Log(ctx context.Context, machineID, requestID, jobID, sourceStep, status, eventType, message string, metadata entity.JSONB)
}

// EventStore 审计事件读写
type EventStore interface {
	EventLog
	ListByMachine(ctx context.Context, machineID string, page, pageSize int) ([]entity.CncEvent, int64, error)
}
