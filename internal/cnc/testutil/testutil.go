package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/repository"
	"github.com/google/uuid"
)

// 内存实现的存储接口，队列同步/派工逻辑不依赖真实Postgres即可测试

// MachineStore 内存机台存储
type MachineStore struct {
	mu       sync.Mutex
	machines map[string]*entity.Machine

	SaveCount int // SaveSnapshot调用次数
}

// NewMachineStore 创建内存机台存储
func NewMachineStore() *MachineStore {
	return &MachineStore{machines: make(map[string]*entity.Machine)}
}

// AddMachine 注入测试机台
func (s *MachineStore) AddMachine(m *entity.Machine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.New().String()[:32]
	}
	s.machines[m.MachineID] = m
}

func (s *MachineStore) List(ctx context.Context) ([]entity.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		out = append(out, *m)
	}
	return out, nil
}

func (s *MachineStore) FindByMachineID(ctx context.Context, machineID string) (*entity.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MachineStore) GetSnapshot(ctx context.Context, machineID string) (*entity.QueueSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return &entity.QueueSnapshot{MachineID: machineID, Jobs: []entity.Job{}}, nil
	}
	return m.Snapshot(), nil
}

func (s *MachineStore) SaveSnapshot(ctx context.Context, machineID string, jobs []entity.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveCount++
	now := time.Now()
	m, ok := s.machines[machineID]
	if !ok {
		m = &entity.Machine{ID: uuid.New().String()[:32], MachineID: machineID}
		s.machines[machineID] = m
	}
	m.Queue = append(entity.JobList{}, jobs...)
	m.QueueUpdatedAt = &now
	return nil
}

func (s *MachineStore) MarkBridgeSynced(ctx context.Context, machineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.machines[machineID]; ok {
		now := time.Now()
		m.BridgeQueueSyncedAt = &now
	}
	return nil
}

func (s *MachineStore) UpdateMaterial(ctx context.Context, machineID string, u repository.MaterialUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now()
	m.MaterialType = u.MaterialType
	m.HeatNo = u.HeatNo
	m.Diameter = u.Diameter
	m.DiameterGroup = u.DiameterGroup
	m.RemainingLength = u.RemainingLength
	m.MaterialSetAt = &now
	return nil
}

func (s *MachineStore) UpdateManualCard(ctx context.Context, machineID, nowID, nextID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return repository.ErrNotFound
	}
	m.PreloadedNowID = nowID
	m.PreloadedNextID = nextID
	return nil
}

func (s *MachineStore) SetLastPlayStatus(ctx context.Context, machineID string, status entity.JSONB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.machines[machineID]
	if !ok {
		return repository.ErrNotFound
	}
	m.LastPlayStatus = status
	return nil
}

// OrderStore 内存订单存储
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]*entity.ManufacturingOrder // requestNo -> order

	RollbackCalls []string // RollbackPreQueue按调用顺序记录的requestNo
}

// NewOrderStore 创建内存订单存储
func NewOrderStore() *OrderStore {
	return &OrderStore{orders: make(map[string]*entity.ManufacturingOrder)}
}

// AddOrder 注入测试订单
func (s *OrderStore) AddOrder(o *entity.ManufacturingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.New().String()[:32]
	}
	s.orders[o.RequestNo] = o
}

// Get 按订单号取订单（断言用）
func (s *OrderStore) Get(requestNo string) *entity.ManufacturingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[requestNo]; ok {
		cp := *o
		return &cp
	}
	return nil
}

func (s *OrderStore) FindByRequestNo(ctx context.Context, requestNo string) (*entity.ManufacturingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[requestNo]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *OrderStore) RollbackPreQueue(ctx context.Context, requestNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RollbackCalls = append(s.RollbackCalls, requestNo)
	if o, ok := s.orders[requestNo]; ok {
		o.Stage = entity.OrderStageNcReady
		o.AssignedMachine = ""
		o.QueuePosition = 0
		o.NcPreloadStatus = entity.NcPreloadNone
	}
	return nil
}

func (s *OrderStore) UpdateMachiningProgress(ctx context.Context, requestNo string, progress entity.JSONB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[requestNo]; ok {
		o.Stage = entity.OrderStageMachining
		o.MachiningProgress = progress
	}
	return nil
}

func (s *OrderStore) CompleteMachining(ctx context.Context, requestNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[requestNo]
	if !ok {
		return nil
	}
	if o.Stage == entity.OrderStageMachined {
		return nil
	}
	now := time.Now()
	o.Stage = entity.OrderStageMachined
	o.ActualCompletedAt = &now
	return nil
}

func (s *OrderStore) ResequenceQueue(ctx context.Context, machineID string) error {
	return nil
}

func (s *OrderStore) FindPendingByDiameter(ctx context.Context, diameter float64, limit int) ([]entity.ManufacturingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.ManufacturingOrder
	for _, o := range s.orders {
		if len(out) >= limit {
			break
		}
		if o.Stage == entity.OrderStagePending && o.AssignedMachine == "" && o.Diameter == diameter {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (s *OrderStore) MaxQueuePosition(ctx context.Context, machineID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, o := range s.orders {
		if o.AssignedMachine == machineID && o.QueuePosition > max {
			max = o.QueuePosition
		}
	}
	return max, nil
}

func (s *OrderStore) AssignToMachine(ctx context.Context, orderID, machineID string, position int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ID == orderID {
			o.Stage = entity.OrderStageNcReady
			o.AssignedMachine = machineID
			o.QueuePosition = position
			o.CamStatus = "pending"
			return nil
		}
	}
	return repository.ErrNotFound
}

// RecordStore 内存加工记录存储
type RecordStore struct {
	mu      sync.Mutex
	records []*entity.MachiningRecord
}

// NewRecordStore 创建内存加工记录存储
func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// Find 按(requestID, jobID)取记录（断言用）
func (s *RecordStore) Find(requestID, jobID string) *entity.MachiningRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.RequestID == requestID && r.JobID == jobID {
			cp := *r
			return &cp
		}
	}
	return nil
}

// SeedRunning 注入一条指定开始时间的执行中记录
func (s *RecordStore) SeedRunning(machineID, requestID, jobID string, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, &entity.MachiningRecord{
		ID:        uuid.New().String()[:32],
		MachineID: machineID,
		RequestID: requestID,
		JobID:     jobID,
		Status:    entity.MachiningStatusRunning,
		StartedAt: startedAt,
	})
}

func (s *RecordStore) EnsureRunning(ctx context.Context, machineID, requestID, jobID string) (*entity.MachiningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.RequestID == requestID && r.JobID == jobID && r.Status == entity.MachiningStatusRunning {
			cp := *r
			return &cp, nil
		}
	}
	rec := &entity.MachiningRecord{
		ID:        uuid.New().String()[:32],
		MachineID: machineID,
		RequestID: requestID,
		JobID:     jobID,
		Status:    entity.MachiningStatusRunning,
		StartedAt: time.Now(),
	}
	s.records = append(s.records, rec)
	cp := *rec
	return &cp, nil
}

func (s *RecordStore) UpdateProgress(ctx context.Context, id, phase string, percent float64, elapsedSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.ID == id {
			now := time.Now()
			r.Phase = phase
			r.Percent = percent
			r.ElapsedSeconds = elapsedSeconds
			r.LastTickAt = &now
			return nil
		}
	}
	return repository.ErrNotFound
}

func (s *RecordStore) MarkCompleted(ctx context.Context, requestID, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.RequestID == requestID && r.JobID == jobID && r.Status == entity.MachiningStatusRunning {
			now := time.Now()
			r.Status = entity.MachiningStatusCompleted
			r.Percent = 100
			r.CompletedAt = &now
		}
	}
	return nil
}

func (s *RecordStore) MarkFailed(ctx context.Context, requestID, jobID, reason string, alarms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.RequestID == requestID && r.JobID == jobID && r.Status == entity.MachiningStatusRunning {
			now := time.Now()
			r.Status = entity.MachiningStatusFailed
			r.FailReason = reason
			r.Alarms = entity.StringList(alarms)
			r.CompletedAt = &now
		}
	}
	return nil
}

func (s *RecordStore) ListByMachine(ctx context.Context, machineID string, page, pageSize int) ([]entity.MachiningRecord, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []entity.MachiningRecord
	for _, r := range s.records {
		if r.MachineID == machineID {
			all = append(all, *r)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []entity.MachiningRecord{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// EventStore 内存审计事件存储
type EventStore struct {
	mu     sync.Mutex
	events []entity.CncEvent
}

// NewEventStore 创建内存审计事件存储
func NewEventStore() *EventStore {
	return &EventStore{}
}

// CountByType 按事件类型计数（断言用）
func (s *EventStore) CountByType(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func (s *EventStore) Log(ctx context.Context, machineID, requestID, jobID, sourceStep, status, eventType, message string, metadata entity.JSONB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, entity.CncEvent{
		ID:         uuid.New().String()[:32],
		MachineID:  machineID,
		RequestID:  requestID,
		JobID:      jobID,
		SourceStep: sourceStep,
		Status:     status,
		EventType:  eventType,
		Message:    message,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}

func (s *EventStore) ListByMachine(ctx context.Context, machineID string, page, pageSize int) ([]entity.CncEvent, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []entity.CncEvent
	for _, e := range s.events {
		if e.MachineID == machineID {
			all = append(all, e)
		}
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return []entity.CncEvent{}, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// JobIDs 任务切片转ID切片（断言用）
func JobIDs(jobs []entity.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

// MakeJob 构造测试任务
func MakeJob(id, requestID string, priority entity.JobPriority) entity.Job {
	return entity.Job{
		ID:         id,
		Kind:       entity.JobKindFile,
		FileName:   fmt.Sprintf("%s.nc", id),
		BridgePath: fmt.Sprintf("nc/%s.nc", id),
		RequestID:  requestID,
		Qty:        1,
		Priority:   priority,
		Source:     entity.JobSourceSmartEnqueue,
		CreatedAt:  time.Now(),
	}
}
