package service

import (
	"context"
	"fmt"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
)

// MachineService 机台查询服务
// 机台注册（安全开关等）由独立模块维护，这里只提供读取视图
type MachineService struct {
	machines MachineStore
	bridge   *bridge.Client
}

// NewMachineService 创建机台查询服务
func NewMachineService(machines MachineStore, bc *bridge.Client) *MachineService {
	return &MachineService{machines: machines, bridge: bc}
}

// List 机台列表
func (s *MachineService) List(ctx context.Context) ([]entity.Machine, error) {
	return s.machines.List(ctx)
}

// Get 按业务主键查找机台
func (s *MachineService) Get(ctx context.Context, machineID string) (*entity.Machine, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	m, err := s.machines.FindByMachineID(ctx, machineID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil, ErrMachineNotFound
		}
		return nil, err
	}
	return m, nil
}

// BridgeStatuses 读取桥接侧全部机台实时状态（纯透传）
func (s *MachineService) BridgeStatuses(ctx context.Context) ([]bridge.MachineStatus, error) {
	return s.bridge.ListMachineStatuses(ctx)
}

// ActiveProgram 读取机台当前活动程序（纯透传）
func (s *MachineService) ActiveProgram(ctx context.Context, machineID string) (*bridge.ActiveProgram, error) {
	if machineID == "" {
		return nil, fmt.Errorf("%w: 缺少机台ID", ErrValidation)
	}
	return s.bridge.GetActiveProgram(ctx, machineID)
}

// FindQueueJob 在机台快照里按ID找任务（预签名下载用）
func (s *MachineService) FindQueueJob(ctx context.Context, machineID, jobID string) (*entity.Job, error) {
	snap, err := s.machines.GetSnapshot(ctx, machineID)
	if err != nil {
		return nil, err
	}
	idx := snap.FindJob(jobID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return &snap.Jobs[idx], nil
}
