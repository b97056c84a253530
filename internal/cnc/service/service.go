package service

import (
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services 服务集合
type Services struct {
	Machine    *MachineService
	Queue      *QueueService
	Dispatch   *DispatchService
	ManualCard *ManualCardService
	Material   *MaterialService
	Event      *EventService
	Storage    *StorageService
	Mirror     *Mirror
	Hub        *sse.Hub
}

// Dependencies 服务层外部依赖
// redis和minio可为nil，对应能力降级但不影响核心队列同步
type Dependencies struct {
	Repos       *repository.Repositories
	Bridge      *bridge.Client
	Redis       *redis.Client
	Minio       *minio.Client
	MinioBucket string
	Logger      *zap.Logger
}

// NewServices 组装全部服务
func NewServices(deps Dependencies) *Services {
	hub := sse.NewHub()
	mirror := NewMirror(deps.Logger)
	storage := NewStorageService(deps.Minio, deps.MinioBucket, deps.Logger)

	var archive Archiver
	if deps.Minio != nil {
		archive = storage
	}

	return &Services{
		Machine:    NewMachineService(deps.Repos.Machine, deps.Bridge),
		Queue:      NewQueueService(deps.Repos.Machine, deps.Repos.Order, deps.Repos.Event, deps.Bridge, mirror, hub, deps.Logger),
		Dispatch:   NewDispatchService(deps.Repos.Machine, deps.Repos.Event, deps.Bridge, hub, deps.Logger),
		ManualCard: NewManualCardService(deps.Repos.Machine, deps.Repos.Event, deps.Bridge, archive, hub, deps.Logger),
		Material:   NewMaterialService(deps.Repos.Machine, deps.Repos.Order, deps.Repos.Event, deps.Bridge, mirror, deps.Logger),
		Event:      NewEventService(deps.Repos.Record, deps.Repos.Order, deps.Repos.Event, hub, deps.Redis, deps.Logger),
		Storage:    storage,
		Mirror:     mirror,
		Hub:        hub,
	}
}
