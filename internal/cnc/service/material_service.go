package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"go.uber.org/zap"
)

// autoAssignBatchCap 单次材料变更最多自动派工的订单数，限制写放大
const autoAssignBatchCap = 5

// onlineStates 健康探测认可的"在线"状态集合
var onlineStates = map[string]bool{
	"online": true,
	"idle":   true,
	"run":    true,
	"ready":  true,
}

// MaterialService 材料变更与自动派工服务
// 材料落库后对等待该直径的未分配待产订单做一次机会性CAM重试派工，
// 三道独立防线全部通过才会触发，任何一道存疑都按关闭处理
type MaterialService struct {
	machines MachineStore
	orders   OrderStore
	events   EventLog
	bridge   *bridge.Client
	mirror   *Mirror
	logger   *zap.Logger
}

// NewMaterialService 创建材料服务
func NewMaterialService(machines MachineStore, orders OrderStore, events EventLog, bc *bridge.Client, mirror *Mirror, logger *zap.Logger) *MaterialService {
	return &MaterialService{
		machines: machines,
		orders:   orders,
		events:   events,
		bridge:   bc,
		mirror:   mirror,
		logger:   logger,
	}
}

// MaterialInput 材料变更请求
type MaterialInput struct {
	MaterialType    string  `json:"material_type"`
	HeatNo          string  `json:"heat_no"`
	Diameter        float64 `json:"diameter" binding:"required"`
	DiameterGroup   string  `json:"diameter_group" binding:"required"`
	RemainingLength float64 `json:"remaining_length"`
}

// UpdateMaterial 更新机台装载材料
// 直径分组归一化到 6/8/10/10+，无法识别直接拒绝；落库后重算
// 已排队订单的位置、把材料推给桥接（尽力而为），再尝试自动派工
func (s *MaterialService) UpdateMaterial(ctx context.Context, machineID string, in *MaterialInput) (*entity.Machine, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	group, err := entity.NormalizeDiameterGroup(in.DiameterGroup)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, err.Error())
	}

	if err := s.machines.UpdateMaterial(ctx, machineID, repository.MaterialUpdate{
		MaterialType:    in.MaterialType,
		HeatNo:          in.HeatNo,
		Diameter:        in.Diameter,
		DiameterGroup:   group,
		RemainingLength: in.RemainingLength,
	}); err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrMachineNotFound
		}
		return nil, err
	}

	// 已排队匹配订单的队列位置由订单侧重算
	if err := s.orders.ResequenceQueue(ctx, machineID); err != nil {
		s.logger.Error("材料变更后队列位置重算失败",
			zap.String("machine_id", machineID), zap.Error(err))
	}

	push := &bridge.MaterialPush{
		MaterialType:    in.MaterialType,
		HeatNo:          in.HeatNo,
		Diameter:        in.Diameter,
		DiameterGroup:   group,
		RemainingLength: in.RemainingLength,
	}
	s.mirror.Dispatch("material_push", machineID, func(ctx context.Context) error {
		return s.bridge.PushMaterial(ctx, machineID, push)
	})

	s.events.Log(ctx, machineID, "", "", entity.EventStepMaterial,
		"success", "material_update",
		fmt.Sprintf("材料已更新: %s Φ%.2f (组%s)", in.MaterialType, in.Diameter, group),
		nil)

	machine, err := s.machines.FindByMachineID(ctx, machineID)
	if err != nil {
		return nil, err
	}

	assigned := s.autoAssignPending(ctx, machine, in.Diameter)
	if assigned > 0 {
		s.logger.Info("材料变更触发自动派工",
			zap.String("machine_id", machineID),
			zap.Float64("diameter", in.Diameter),
			zap.Int("assigned", assigned),
		)
	}
	return machine, nil
}

// autoAssignPending 机会性CAM重试派工，返回成功派工数
// 防线：(a) allowAutoMachining必须显式为真；(b) allowJobStart不能显式为假；
// (c) 有界健康探测报告在线 —— 探测报错或超时一律按离线处理，不派工。
// 队列位置只查一次最大值，之后在内存里递增，不逐单回查
func (s *MaterialService) autoAssignPending(ctx context.Context, machine *entity.Machine, diameter float64) int {
	if !machine.AllowAutoMachining {
		return 0
	}
	if !machine.JobStartAllowed() {
		return 0
	}
	if !s.probeOnline(ctx, machine.MachineID) {
		return 0
	}

	orders, err := s.orders.FindPendingByDiameter(ctx, diameter, autoAssignBatchCap)
	if err != nil {
		s.logger.Error("查找待派工订单失败",
			zap.String("machine_id", machine.MachineID), zap.Error(err))
		return 0
	}
	if len(orders) == 0 {
		return 0
	}

	position, err := s.orders.MaxQueuePosition(ctx, machine.MachineID)
	if err != nil {
		s.logger.Error("读取最大队列位置失败",
			zap.String("machine_id", machine.MachineID), zap.Error(err))
		return 0
	}

	assigned := 0
	for _, o := range orders {
		position++
		if err := s.orders.AssignToMachine(ctx, o.ID, machine.MachineID, position); err != nil {
			s.logger.Error("自动派工失败",
				zap.String("machine_id", machine.MachineID),
				zap.String("request_no", o.RequestNo),
				zap.Error(err))
			continue
		}
		assigned++
		s.events.Log(ctx, machine.MachineID, o.RequestNo, "", entity.EventStepMaterial,
			"success", "auto_assign",
			fmt.Sprintf("订单自动派工到位置%d", position), nil)
	}
	return assigned
}

// probeOnline 有界健康探测
// 探测超时独立于普通桥接调用超时（约2.5秒）；失败按关闭处理
func (s *MaterialService) probeOnline(ctx context.Context, machineID string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.bridge.ProbeTimeout())
	defer cancel()

	status, err := s.bridge.GetMachineStatus(probeCtx, machineID)
	if err != nil {
		s.logger.Warn("健康探测失败，按离线处理",
			zap.String("machine_id", machineID), zap.Error(err))
		return false
	}
	return onlineStates[strings.ToLower(status.State)]
}
