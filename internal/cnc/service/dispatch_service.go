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

// orderNoPattern 文件路径里内嵌的订单号：8位数字-6到10位字母数字
var orderNoPattern = regexp.MustCompile(`(?i)(\d{8}-[a-z0-9]{6,10})`)

// normalizeBridgePath 归一化桥接相对路径：去掉开头的nc/段和结尾的.nc/.stl后缀
func normalizeBridgePath(p string) string {
	p = strings.TrimPrefix(p, "nc/")
	lower := strings.ToLower(p)
	if strings.HasSuffix(lower, ".nc") {
		return p[:len(p)-3]
	}
	if strings.HasSuffix(lower, ".stl") {
		return p[:len(p)-4]
	}
	return p
}

// extractRequestNo 从路径中提取订单号（大小写不敏感匹配，提取后转大写）
// 提取不到返回空串，表示这个文件不关联任何制造订单
func extractRequestNo(p string) string {
	m := orderNoPattern.FindString(normalizeBridgePath(p))
	if m == "" {
		return ""
	}
	return strings.ToUpper(m)
}

// DispatchService 智能任务调度服务
// 桥接侧可能同步返回也可能202异步受理；入队/替换在调用桥接之前
// 先把本地快照写好 —— 加工完成回调可能抢在出站调用的响应之前到达，
// 它必须能读到一致的队列
type DispatchService struct {
	machines MachineStore
	events   EventLog
	bridge   *bridge.Client
	hub      *sse.Hub
	logger   *zap.Logger
}

// NewDispatchService 创建智能任务调度服务
func NewDispatchService(machines MachineStore, events EventLog, bc *bridge.Client, hub *sse.Hub, logger *zap.Logger) *DispatchService {
	return &DispatchService{
		machines: machines,
		events:   events,
		bridge:   bc,
		hub:      hub,
		logger:   logger,
	}
}

// SmartJobInput 智能任务请求
type SmartJobInput struct {
	Paths  []string `json:"paths"`
	Path   string   `json:"path"`
	Qty    int      `json:"qty"`
	Paused bool     `json:"paused"`
}

func (in *SmartJobInput) allPaths() []string {
	paths := make([]string, 0, len(in.Paths)+1)
	for _, p := range in.Paths {
		if p != "" {
			paths = append(paths, p)
		}
	}
	if in.Path != "" {
		paths = append(paths, in.Path)
	}
	return paths
}

func (in *SmartJobInput) toBridge() *bridge.SmartJobRequest {
	return &bridge.SmartJobRequest{
		Paths:  in.Paths,
		Path:   in.Path,
		Qty:    in.Qty,
		Paused: in.Paused,
	}
}

// deriveJobs 从文件路径推导本地快照条目
func deriveJobs(paths []string, qty int, paused bool, source string) []entity.Job {
	if qty < 1 {
		qty = 1
	}
	jobs := make([]entity.Job, 0, len(paths))
	for _, p := range paths {
		requestNo := extractRequestNo(p)
		kind := entity.JobKindFile
		if requestNo != "" {
			kind = entity.JobKindRequestedFile
		}
		jobs = append(jobs, entity.Job{
			ID:         uuid.New().String()[:32],
			Kind:       kind,
			FileName:   path.Base(p),
			BridgePath: p,
			RequestID:  requestNo,
			Qty:        qty,
			Paused:     paused,
			Priority:   entity.PriorityMachining,
			Source:     source,
			CreatedAt:  time.Now(),
		})
	}
	return jobs
}

// appendToSnapshot 把推导出的任务追加进本地快照并持久化
func (s *DispatchService) appendToSnapshot(ctx context.Context, machineID string, jobs []entity.Job) error {
	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return err
	}
	merged := append(append([]entity.Job{}, snap.Jobs...), jobs...)
	return s.machines.SaveSnapshot(ctx, machineID, merged)
}

// Upload 上传NC程序（不落本地快照，纯转发）
func (s *DispatchService) Upload(ctx context.Context, machineID string, in *SmartJobInput) (*bridge.SmartJobResult, error) {
	if machineID == "" || len(in.allPaths()) == 0 {
		return nil, fmt.Errorf("%w: 缺少机台ID或文件路径", ErrValidation)
	}
	return s.bridge.SmartUpload(ctx, machineID, in.toBridge())
}

// Enqueue 入队加工任务
// 先写本地快照再调桥接：桥接调用失败时本地条目保留，后续resync会修正
func (s *DispatchService) Enqueue(ctx context.Context, machineID string, in *SmartJobInput) (*bridge.SmartJobResult, error) {
	paths := in.allPaths()
	if machineID == "" || len(paths) == 0 {
		return nil, fmt.Errorf("%w: 缺少机台ID或文件路径", ErrValidation)
	}

	jobs := deriveJobs(paths, in.Qty, in.Paused, entity.JobSourceSmartEnqueue)
	if err := s.appendToSnapshot(ctx, machineID, jobs); err != nil {
		return nil, err
	}
	s.hub.PublishQueueUpdate(machineID, "enqueue")

	result, err := s.bridge.SmartEnqueue(ctx, machineID, in.toBridge())
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.events.Log(ctx, machineID, j.RequestID, j.ID, entity.EventStepDispatch,
			"success", "smart_enqueue", "任务已入队: "+j.FileName, nil)
	}
	return result, nil
}

// Dequeue 出队（桥接侧移除自身队列条目，本地快照由resync对齐）
func (s *DispatchService) Dequeue(ctx context.Context, machineID string, in *SmartJobInput) (*bridge.SmartJobResult, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	return s.bridge.SmartDequeue(ctx, machineID, in.toBridge())
}

// Replace 替换机台当前程序，本地快照写入先于桥接调用
func (s *DispatchService) Replace(ctx context.Context, machineID string, in *SmartJobInput) (*bridge.SmartJobResult, error) {
	paths := in.allPaths()
	if machineID == "" || len(paths) == 0 {
		return nil, fmt.Errorf("%w: 缺少机台ID或文件路径", ErrValidation)
	}

	jobs := deriveJobs(paths, in.Qty, in.Paused, entity.JobSourceSmartReplace)
	if err := s.appendToSnapshot(ctx, machineID, jobs); err != nil {
		return nil, err
	}
	s.hub.PublishQueueUpdate(machineID, "replace")

	return s.bridge.SmartReplace(ctx, machineID, in.toBridge())
}

// Start 启动加工
func (s *DispatchService) Start(ctx context.Context, machineID string, in *SmartJobInput) (*bridge.SmartJobResult, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	result, err := s.bridge.SmartStart(ctx, machineID, in.toBridge())
	if err != nil {
		return nil, err
	}
	s.events.Log(ctx, machineID, extractRequestNo(in.Path), "", entity.EventStepDispatch,
		"success", "smart_start", "加工启动指令已下发", nil)
	return result, nil
}

// Status 查询智能任务状态（纯透传，不动本地状态）
func (s *DispatchService) Status(ctx context.Context, machineID string) (map[string]interface{}, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	return s.bridge.SmartStatus(ctx, machineID)
}

// JobResult 查询异步任务结果（纯透传）
func (s *DispatchService) JobResult(ctx context.Context, machineID, jobID string) (map[string]interface{}, error) {
	if machineID == "" || jobID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID或任务ID", ErrValidation)
	}
	return s.bridge.GetJobResult(ctx, machineID, jobID)
}

// ContinuousEnqueue 连续加工模式入队
func (s *DispatchService) ContinuousEnqueue(ctx context.Context, machineID string, in *SmartJobInput) (*bridge.SmartJobResult, error) {
	paths := in.allPaths()
	if machineID == "" || len(paths) == 0 {
		return nil, fmt.Errorf("%w: 缺少机台ID或文件路径", ErrValidation)
	}
	jobs := deriveJobs(paths, in.Qty, in.Paused, entity.JobSourceSmartEnqueue)
	if err := s.appendToSnapshot(ctx, machineID, jobs); err != nil {
		return nil, err
	}
	return s.bridge.ContinuousEnqueue(ctx, machineID, in.toBridge())
}

// ContinuousState 查询连续加工模式状态（纯透传）
func (s *DispatchService) ContinuousState(ctx context.Context, machineID string) (*bridge.ContinuousState, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	return s.bridge.GetContinuousState(ctx, machineID)
}
