package service

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"go.uber.org/zap"
)

// QueueService 队列同步服务
// DB快照是调用方可见的唯一事实来源；桥接侧有自己独立运转的内部队列，
// 通过镜像写入保持大致一致，错位时用单次resync吸收
type QueueService struct {
	machines MachineStore
	orders   OrderStore
	events   EventLog
	bridge   *bridge.Client
	mirror   *Mirror
	hub      *sse.Hub
	logger   *zap.Logger
}

// NewQueueService 创建队列同步服务
func NewQueueService(machines MachineStore, orders OrderStore, events EventLog, bc *bridge.Client, mirror *Mirror, hub *sse.Hub, logger *zap.Logger) *QueueService {
	return &QueueService{
		machines: machines,
		orders:   orders,
		events:   events,
		bridge:   bc,
		mirror:   mirror,
		hub:      hub,
		logger:   logger,
	}
}

// List 读取队列：设备任务（priority=1）整体排在加工任务之前，
// 两个分组各自保持原始相对顺序（稳定两桶划分，不是全排序）；
// 手动料卡任务走独立FIFO，不出现在主队列里
func (s *QueueService) List(ctx context.Context, machineID string) ([]entity.Job, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}
	return partitionByPriority(snap.Jobs), nil
}

func partitionByPriority(jobs []entity.Job) []entity.Job {
	equipment := make([]entity.Job, 0, len(jobs))
	machining := make([]entity.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Kind == entity.JobKindManualFile {
			continue
		}
		if j.Priority.IsEquipment() {
			equipment = append(equipment, j)
		} else {
			machining = append(machining, j)
		}
	}
	return append(equipment, machining...)
}

// Consume 消费单个任务（机台开始执行时把它从快照里弹出）
// 本地未命中时从桥接侧拉取一次权威队列覆盖本地后重查一次；
// 这次有界resync吸收桥接内部队列已经领先于DB快照的良性竞态
func (s *QueueService) Consume(ctx context.Context, machineID, jobID string) (*entity.Job, error) {
	if machineID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID或任务ID", ErrValidation)
	}

	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}

	idx := snap.FindJob(jobID)
	if idx < 0 {
		// 单次resync：桥接侧队列为权威，整体覆盖本地快照
		resynced, rerr := s.resyncFromBridge(ctx, machineID)
		if rerr != nil {
			return nil, rerr
		}
		snap = resynced
		idx = snap.FindJob(jobID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
	}

	job := snap.Jobs[idx]
	remaining := append(append([]entity.Job{}, snap.Jobs[:idx]...), snap.Jobs[idx+1:]...)
	if err := s.machines.SaveSnapshot(ctx, machineID, remaining); err != nil {
		return nil, err
	}

	s.events.Log(ctx, machineID, job.RequestID, job.ID, entity.EventStepQueue,
		"success", "job_consume", "任务已消费: "+job.FileName, nil)
	return &job, nil
}

// resyncFromBridge 拉取桥接侧权威队列并覆盖本地快照
func (s *QueueService) resyncFromBridge(ctx context.Context, machineID string) (*entity.QueueSnapshot, error) {
	bridgeJobs, err := s.bridge.GetQueue(ctx, machineID)
	if err != nil {
		return nil, err
	}

	jobs := make([]entity.Job, 0, len(bridgeJobs))
	for _, bj := range bridgeJobs {
		fileName := bj.FileName
		if fileName == "" {
			fileName = path.Base(bj.Path)
		}
		qty := bj.Qty
		if qty < 1 {
			qty = 1
		}
		kind := entity.JobKindFile
		requestID := extractRequestNo(bj.Path)
		if requestID != "" {
			kind = entity.JobKindRequestedFile
		}
		jobs = append(jobs, entity.Job{
			ID:         bj.ID,
			Kind:       kind,
			FileName:   fileName,
			BridgePath: bj.Path,
			RequestID:  requestID,
			Qty:        qty,
			Paused:     bj.Paused,
			Priority:   entity.JobPriority(bj.Priority).Normalize(),
			Source:     entity.JobSourceBridgeResync,
			CreatedAt:  time.Now(),
		})
	}

	if err := s.machines.SaveSnapshot(ctx, machineID, jobs); err != nil {
		return nil, err
	}
	if err := s.machines.MarkBridgeSynced(ctx, machineID); err != nil {
		s.logger.Warn("盖桥接同步时间戳失败", zap.String("machine_id", machineID), zap.Error(err))
	}

	s.logger.Info("队列快照已从桥接侧resync",
		zap.String("machine_id", machineID),
		zap.Int("jobs", len(jobs)),
	)
	now := time.Now()
	return &entity.QueueSnapshot{MachineID: machineID, Jobs: jobs, UpdatedAt: &now, SyncedAt: &now}, nil
}

// Reorder 按给定ID顺序重排，未提及的任务保持原相对顺序接在尾部；
// 持久化后把新顺序尽力转发给桥接（转发失败只记日志）
func (s *QueueService) Reorder(ctx context.Context, machineID string, order []string) ([]entity.Job, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}

	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}

	reordered := applyOrder(snap.Jobs, order)
	if err := s.machines.SaveSnapshot(ctx, machineID, reordered); err != nil {
		return nil, err
	}

	ids := jobIDs(reordered)
	s.mirror.Dispatch("queue_reorder", machineID, func(ctx context.Context) error {
		return s.bridge.ReorderQueue(ctx, machineID, ids)
	})
	s.hub.PublishQueueUpdate(machineID, "reorder")
	return reordered, nil
}

func applyOrder(jobs []entity.Job, order []string) []entity.Job {
	byID := make(map[string]int, len(jobs))
	for i, j := range jobs {
		byID[j.ID] = i
	}

	result := make([]entity.Job, 0, len(jobs))
	mentioned := make(map[string]bool, len(order))
	for _, id := range order {
		if idx, ok := byID[id]; ok && !mentioned[id] {
			result = append(result, jobs[idx])
			mentioned[id] = true
		}
	}
	for _, j := range jobs {
		if !mentioned[j.ID] {
			result = append(result, j)
		}
	}
	return result
}

func jobIDs(jobs []entity.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

// UpdateQty 修改任务数量（钳制到≥1），持久化后尽力镜像到桥接
func (s *QueueService) UpdateQty(ctx context.Context, machineID, jobID string, qty int) (*entity.Job, error) {
	if machineID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID或任务ID", ErrValidation)
	}
	if qty < 1 {
		qty = 1
	}

	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}
	idx := snap.FindJob(jobID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	snap.Jobs[idx].Qty = qty
	if err := s.machines.SaveSnapshot(ctx, machineID, snap.Jobs); err != nil {
		return nil, err
	}

	q := qty
	s.mirror.Dispatch("queue_qty", machineID, func(ctx context.Context) error {
		return s.bridge.UpdateJobQty(ctx, machineID, jobID, q)
	})
	return &snap.Jobs[idx], nil
}

// UpdatePause 修改任务暂停状态，持久化后尽力镜像到桥接
func (s *QueueService) UpdatePause(ctx context.Context, machineID, jobID string, paused bool) (*entity.Job, error) {
	if machineID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID或任务ID", ErrValidation)
	}

	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}
	idx := snap.FindJob(jobID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	snap.Jobs[idx].Paused = paused
	if err := s.machines.SaveSnapshot(ctx, machineID, snap.Jobs); err != nil {
		return nil, err
	}

	p := paused
	s.mirror.Dispatch("queue_pause", machineID, func(ctx context.Context) error {
		return s.bridge.UpdateJobPause(ctx, machineID, jobID, p)
	})
	return &snap.Jobs[idx], nil
}

// QtyUpdate 批量数量修改
type QtyUpdate struct {
	JobID string `json:"job_id" binding:"required"`
	Qty   int    `json:"qty"`
}

// PauseUpdate 批量暂停修改
type PauseUpdate struct {
	JobID  string `json:"job_id" binding:"required"`
	Paused bool   `json:"paused"`
}

// BatchRequest 批量变更请求
type BatchRequest struct {
	Clear        bool          `json:"clear"`
	Order        []string      `json:"order"`
	QtyUpdates   []QtyUpdate   `json:"qty_updates"`
	DeleteJobIDs []string      `json:"delete_job_ids"`
	PauseUpdates []PauseUpdate `json:"pause_updates"`
}

// ApplyBatch 批量变更
// clear为真时队列直接清空并通知桥接，其余字段全部短路忽略。
// 否则按固定顺序应用：删除→数量→暂停→重排 —— 删除必须先于order里的
// ID引用生效。只持久化一次；之后各变更类型独立镜像到桥接，单个网络
// 调用失败不影响其余镜像。被删任务的requestId去重后各回滚一次订单，
// 保证已排程任务被移除时其制造订单不会卡死在加工中
func (s *QueueService) ApplyBatch(ctx context.Context, machineID string, req *BatchRequest) ([]entity.Job, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}

	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}

	if req.Clear {
		removed := snap.Jobs
		if err := s.machines.SaveSnapshot(ctx, machineID, []entity.Job{}); err != nil {
			return nil, err
		}
		s.mirror.Dispatch("queue_clear", machineID, func(ctx context.Context) error {
			return s.bridge.ClearQueue(ctx, machineID)
		})
		s.rollbackRemoved(ctx, machineID, removed)
		s.hub.PublishQueueUpdate(machineID, "clear")
		return []entity.Job{}, nil
	}

	jobs := snap.Jobs

	// 1. 删除
	var removed []entity.Job
	if len(req.DeleteJobIDs) > 0 {
		deleteSet := make(map[string]bool, len(req.DeleteJobIDs))
		for _, id := range req.DeleteJobIDs {
			deleteSet[id] = true
		}
		kept := make([]entity.Job, 0, len(jobs))
		for _, j := range jobs {
			if deleteSet[j.ID] {
				removed = append(removed, j)
			} else {
				kept = append(kept, j)
			}
		}
		jobs = kept
	}

	// 2. 数量
	for _, u := range req.QtyUpdates {
		for i := range jobs {
			if jobs[i].ID == u.JobID {
				qty := u.Qty
				if qty < 1 {
					qty = 1
				}
				jobs[i].Qty = qty
				break
			}
		}
	}

	// 3. 暂停
	for _, u := range req.PauseUpdates {
		for i := range jobs {
			if jobs[i].ID == u.JobID {
				jobs[i].Paused = u.Paused
				break
			}
		}
	}

	// 4. 重排
	if len(req.Order) > 0 {
		jobs = applyOrder(jobs, req.Order)
	}

	if err := s.machines.SaveSnapshot(ctx, machineID, jobs); err != nil {
		return nil, err
	}

	// 各变更类型独立镜像，互不影响
	if len(removed) > 0 {
		ids := make([]string, len(removed))
		for i, j := range removed {
			ids[i] = j.ID
		}
		s.mirror.Dispatch("queue_delete", machineID, func(ctx context.Context) error {
			return s.bridge.DeleteJobs(ctx, machineID, ids)
		})
	}
	for _, u := range req.QtyUpdates {
		u := u
		s.mirror.Dispatch("queue_qty", machineID, func(ctx context.Context) error {
			qty := u.Qty
			if qty < 1 {
				qty = 1
			}
			return s.bridge.UpdateJobQty(ctx, machineID, u.JobID, qty)
		})
	}
	for _, u := range req.PauseUpdates {
		u := u
		s.mirror.Dispatch("queue_pause", machineID, func(ctx context.Context) error {
			return s.bridge.UpdateJobPause(ctx, machineID, u.JobID, u.Paused)
		})
	}
	if len(req.Order) > 0 {
		ids := jobIDs(jobs)
		s.mirror.Dispatch("queue_reorder", machineID, func(ctx context.Context) error {
			return s.bridge.ReorderQueue(ctx, machineID, ids)
		})
	}

	s.rollbackRemoved(ctx, machineID, removed)
	s.hub.PublishQueueUpdate(machineID, "batch")
	return jobs, nil
}

// rollbackRemoved 被移除任务的requestId去重后各回滚一次
// 回滚失败属于一致性告警：主写入已成功，只记日志不上抛
func (s *QueueService) rollbackRemoved(ctx context.Context, machineID string, removed []entity.Job) {
	seen := make(map[string]bool)
	for _, j := range removed {
		if j.RequestID == "" || seen[j.RequestID] {
			continue
		}
		seen[j.RequestID] = true
		if err := s.orders.RollbackPreQueue(ctx, j.RequestID); err != nil {
			s.logger.Error("订单回滚失败",
				zap.String("machine_id", machineID),
				zap.String("request_no", j.RequestID),
				zap.Error(err),
			)
			continue
		}
		s.events.Log(ctx, machineID, j.RequestID, j.ID, entity.EventStepQueue,
			"success", "queue_rollback", "队列条目移除，订单已回滚到入队前阶段", nil)
	}
}
