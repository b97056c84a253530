package service

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 手动料卡固定槽位：1=当前（now），2=下一个（next）
const (
	manualSlotNow  = 1
	manualSlotNext = 2
)

var stemSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Archiver 手动上传NC文件的对象存储归档（尽力而为，可为nil）
type Archiver interface {
	ArchiveManualFile(ctx context.Context, machineID, fileName string, content []byte, contentType string) (string, error)
}

// ManualCardService 手动料卡控制服务
// 人工上料机台需要始终保持当前+下一个两个物理槽位有程序可用，
// 维护一条独立于主优先级队列的manual_file FIFO
type ManualCardService struct {
	machines MachineStore
	events   EventLog
	bridge   *bridge.Client
	archive  Archiver
	hub      *sse.Hub
	logger   *zap.Logger
}

// NewManualCardService 创建手动料卡服务
func NewManualCardService(machines MachineStore, events EventLog, bc *bridge.Client, archive Archiver, hub *sse.Hub, logger *zap.Logger) *ManualCardService {
	return &ManualCardService{
		machines: machines,
		events:   events,
		bridge:   bc,
		archive:  archive,
		hub:      hub,
		logger:   logger,
	}
}

// manualFIFO 从快照中抽出手动料卡FIFO（保持原顺序）
func manualFIFO(jobs []entity.Job) []entity.Job {
	fifo := make([]entity.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Kind == entity.JobKindManualFile {
			fifo = append(fifo, j)
		}
	}
	return fifo
}

// CardStatus 料卡状态
type CardStatus struct {
	Items           []entity.Job `json:"items"`
	PreloadedNowID  string       `json:"preloadedNowId"`
	PreloadedNextID string       `json:"preloadedNextId"`
	LastPlayStatus  entity.JSONB `json:"lastPlayStatus,omitempty"`
}

// Status 读取料卡状态
func (s *ManualCardService) Status(ctx context.Context, machineID string) (*CardStatus, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	machine, err := s.machines.FindByMachineID(ctx, machineID)
	if err != nil {
		return nil, err
	}
	return &CardStatus{
		Items:           manualFIFO(machine.Queue),
		PreloadedNowID:  machine.PreloadedNowID,
		PreloadedNextID: machine.PreloadedNextID,
		LastPlayStatus:  machine.LastPlayStatus,
	}, nil
}

// PreloadTop2 预载FIFO前两项到物理槽位
// 头部→槽位1，第二项→槽位2；把当前预载的条目ID持久化，
// 保证状态上报幂等。任一槽位预载失败向上返回错误，
// 上传流程的调用方会把它降级为仅记日志
func (s *ManualCardService) PreloadTop2(ctx context.Context, machineID string) error {
	if machineID == "" {
		return fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return err
	}
	fifo := manualFIFO(snap.Jobs)

	var nowID, nextID string
	if len(fifo) > 0 {
		nowID = fifo[0].ID
		if err := s.bridge.PreloadManualFile(ctx, machineID, manualSlotNow, fifo[0].BridgePath); err != nil {
			return fmt.Errorf("槽位%d预载失败: %w", manualSlotNow, err)
		}
	}
	if len(fifo) > 1 {
		nextID = fifo[1].ID
		if err := s.bridge.PreloadManualFile(ctx, machineID, manualSlotNext, fifo[1].BridgePath); err != nil {
			return fmt.Errorf("槽位%d预载失败: %w", manualSlotNext, err)
		}
	}

	if err := s.machines.UpdateManualCard(ctx, machineID, nowID, nextID); err != nil {
		return err
	}
	s.logger.Info("手动料卡预载完成",
		zap.String("machine_id", machineID),
		zap.String("now_id", nowID),
		zap.String("next_id", nextID),
	)
	return nil
}

// CompleteManualFileJob 当前料卡加工完成
// 弹出FIFO头部并持久化，重新预载让原第二项顶上成为新的当前项；
// 仅当机台allowAutoMachining为真时自动触发新头部播放，
// 否则料卡停在原地等人工播放
func (s *ManualCardService) CompleteManualFileJob(ctx context.Context, machineID string) error {
	if machineID == "" {
		return fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	machine, err := s.machines.FindByMachineID(ctx, machineID)
	if err != nil {
		return err
	}

	snap := machine.Snapshot()
	fifo := manualFIFO(snap.Jobs)
	if len(fifo) == 0 {
		return fmt.Errorf("%w: 料卡队列为空", ErrJobNotFound)
	}
	headID := fifo[0].ID

	remaining := make([]entity.Job, 0, len(snap.Jobs)-1)
	for _, j := range snap.Jobs {
		if j.ID != headID {
			remaining = append(remaining, j)
		}
	}
	if err := s.machines.SaveSnapshot(ctx, machineID, remaining); err != nil {
		return err
	}

	s.events.Log(ctx, machineID, fifo[0].RequestID, headID, entity.EventStepManualCard,
		"success", "manual_complete", "料卡任务完成: "+fifo[0].FileName, nil)

	// 原第二项成为新头部；预载失败属一致性告警，主写入已成功
	if err := s.PreloadTop2(ctx, machineID); err != nil {
		s.logger.Error("料卡完成后重新预载失败",
			zap.String("machine_id", machineID), zap.Error(err))
		return nil
	}

	if machine.AllowAutoMachining && len(fifo) > 1 {
		if err := s.bridge.PlayManual(ctx, machineID, manualSlotNow); err != nil {
			s.logger.Error("自动播放新头部失败",
				zap.String("machine_id", machineID), zap.Error(err))
		} else {
			s.events.Log(ctx, machineID, fifo[1].RequestID, fifo[1].ID, entity.EventStepManualCard,
				"success", "manual_auto_play", "新头部已自动播放: "+fifo[1].FileName, nil)
		}
	}
	s.hub.PublishQueueUpdate(machineID, "manual_complete")
	return nil
}

// UploadInput 手动上传请求
type UploadInput struct {
	FileName    string
	TargetPath  string
	ContentType string
	Content     []byte
}

// deriveManualPath 未显式给目标路径时从文件名推导一个：
// 净化后的文件名词干+随机后缀，与其他来源的路径空间隔离
func deriveManualPath(fileName string) string {
	stem := strings.TrimSuffix(strings.TrimSuffix(fileName, path.Ext(fileName)), ".")
	stem = stemSanitizePattern.ReplaceAllString(stem, "_")
	if stem == "" {
		stem = "manual"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("nc/manual/%s-%s.nc", stem, suffix)
}

// UploadAndPreload 上传手动NC文件并机会性预载
// 内容原样存到桥接侧文件存储并追加进料卡FIFO；预载失败不导致上传失败 ——
// 队列条目已持久化，后续完成/重试会再次预载（设计上的最终一致）
func (s *ManualCardService) UploadAndPreload(ctx context.Context, machineID string, in *UploadInput) (*entity.Job, error) {
	if machineID == "" || len(in.Content) == 0 {
		return nil, fmt.Errorf("%w: 缺少机台ID或文件内容", ErrValidation)
	}
	if in.FileName == "" {
		in.FileName = "manual.nc"
	}

	targetPath := in.TargetPath
	if targetPath == "" {
		targetPath = deriveManualPath(in.FileName)
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	if err := s.bridge.StoreFile(ctx, machineID, targetPath, in.Content, contentType); err != nil {
		return nil, err
	}

	job := entity.Job{
		ID:         uuid.New().String()[:32],
		Kind:       entity.JobKindManualFile,
		FileName:   in.FileName,
		BridgePath: targetPath,
		RequestID:  extractRequestNo(targetPath),
		Qty:        1,
		Priority:   entity.PriorityMachining,
		Source:     entity.JobSourceManualUpload,
		CreatedAt:  time.Now(),
		FileSize:   int64(len(in.Content)),
	}

	// 对象存储归档，尽力而为
	if s.archive != nil {
		if key, err := s.archive.ArchiveManualFile(ctx, machineID, in.FileName, in.Content, contentType); err != nil {
			s.logger.Warn("手动文件归档失败",
				zap.String("machine_id", machineID), zap.Error(err))
		} else {
			job.S3Key = key
		}
	}

	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}
	if err := s.machines.SaveSnapshot(ctx, machineID, append(snap.Jobs, job)); err != nil {
		return nil, err
	}

	s.events.Log(ctx, machineID, job.RequestID, job.ID, entity.EventStepManualCard,
		"success", "manual_upload", "手动文件已上传: "+in.FileName, entity.JSONB{"path": targetPath})

	if err := s.PreloadTop2(ctx, machineID); err != nil {
		s.logger.Warn("上传后机会性预载失败",
			zap.String("machine_id", machineID), zap.Error(err))
	}
	s.hub.PublishQueueUpdate(machineID, "manual_upload")
	return &job, nil
}

// Play 播放指定料卡条目
// 从FIFO解析出bridgePath后依次调用智能上传→替换→启动，
// 任何一步失败即中止并把失败原因记入料卡的last-play状态
func (s *ManualCardService) Play(ctx context.Context, machineID, itemID string) error {
	if machineID == "" || itemID == "" {
		return fmt.Errorf("%w: 缺少机台ID或条目ID", ErrValidation)
	}
	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return err
	}

	var item *entity.Job
	slot := 0
	for i, j := range manualFIFO(snap.Jobs) {
		if j.ID == itemID {
			item = &j
			slot = i + 1
			break
		}
	}
	if item == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, itemID)
	}

	req := &bridge.SmartJobRequest{Path: item.BridgePath, Qty: item.Qty}
	steps := []struct {
		name string
		call func(context.Context, string, *bridge.SmartJobRequest) (*bridge.SmartJobResult, error)
	}{
		{"upload", s.bridge.SmartUpload},
		{"replace", s.bridge.SmartReplace},
		{"start", s.bridge.SmartStart},
	}

	for _, step := range steps {
		if _, err := step.call(ctx, machineID, req); err != nil {
			status := entity.JSONB{
				"itemId":   itemID,
				"step":     step.name,
				"success":  false,
				"reason":   err.Error(),
				"failedAt": time.Now().Format(time.RFC3339),
			}
			if serr := s.machines.SetLastPlayStatus(ctx, machineID, status); serr != nil {
				s.logger.Error("记录播放失败状态出错",
					zap.String("machine_id", machineID), zap.Error(serr))
			}
			s.events.Log(ctx, machineID, item.RequestID, itemID, entity.EventStepManualCard,
				"failed", "manual_play", fmt.Sprintf("播放失败于%s: %s", step.name, err.Error()), nil)
			return err
		}
	}

	status := entity.JSONB{
		"itemId":    itemID,
		"slot":      slot,
		"success":   true,
		"startedAt": time.Now().Format(time.RFC3339),
	}
	if err := s.machines.SetLastPlayStatus(ctx, machineID, status); err != nil {
		s.logger.Error("记录播放成功状态出错",
			zap.String("machine_id", machineID), zap.Error(err))
	}
	s.events.Log(ctx, machineID, item.RequestID, itemID, entity.EventStepManualCard,
		"success", "manual_play", "播放序列完成: "+item.FileName, nil)
	return nil
}
