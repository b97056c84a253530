package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/testutil"
	"go.uber.org/zap"
)

func newMaterialFixture(t *testing.T) (*MaterialService, *testutil.MachineStore, *testutil.OrderStore, *fakeBridge, *Mirror) {
	t.Helper()
	fb := newFakeBridge()
	t.Cleanup(fb.close)

	machines := testutil.NewMachineStore()
	orders := testutil.NewOrderStore()
	events := testutil.NewEventStore()
	mirror := NewMirror(zap.NewNop())
	svc := NewMaterialService(machines, orders, events, fb.client(), mirror, zap.NewNop())
	return svc, machines, orders, fb, mirror
}

func pendingOrder(requestNo string, diameter float64) *entity.ManufacturingOrder {
	return &entity.ManufacturingOrder{
		RequestNo: requestNo,
		Stage:     entity.OrderStagePending,
		Diameter:  diameter,
	}
}

func TestUpdateMaterialRejectsUnknownGroup(t *testing.T) {
	svc, machines, _, _, _ := newMaterialFixture(t)
	machines.AddMachine(&entity.Machine{MachineID: "M1"})

	_, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		Diameter:      7.5,
		DiameterGroup: "12",
	})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown group, got %v", err)
	}
}

func TestUpdateMaterialNormalizesGroup(t *testing.T) {
	svc, machines, _, fb, mirror := newMaterialFixture(t)
	machines.AddMachine(&entity.Machine{MachineID: "M1"})

	m, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		MaterialType:  "Ti-6Al-4V",
		Diameter:      10.0,
		DiameterGroup: "10.0",
	})
	if err != nil {
		t.Fatalf("UpdateMaterial: %v", err)
	}
	if m.DiameterGroup != entity.DiameterGroup10 {
		t.Fatalf("group = %q, want normalized %q", m.DiameterGroup, entity.DiameterGroup10)
	}

	mirror.Wait()
	if fb.count("material") != 1 {
		t.Fatalf("material push not mirrored to bridge")
	}
}

func TestAutoAssignNeverFiresWhenFlagOff(t *testing.T) {
	svc, machines, orders, fb, _ := newMaterialFixture(t)
	machines.AddMachine(&entity.Machine{MachineID: "M1", AllowAutoMachining: false})
	orders.AddOrder(pendingOrder("20250813-MATCH001", 8.0))

	if _, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		Diameter:      8.0,
		DiameterGroup: "8",
	}); err != nil {
		t.Fatalf("UpdateMaterial: %v", err)
	}

	// 直径精确匹配也不派工
	if o := orders.Get("20250813-MATCH001"); o.AssignedMachine != "" {
		t.Fatalf("order assigned with allowAutoMachining=false")
	}
	// 开关关闭时连探测都不该发
	if fb.count("status") != 0 {
		t.Fatalf("health probe fired with flag off")
	}
}

func TestAutoAssignFailsClosedOnProbeError(t *testing.T) {
	svc, machines, orders, fb, _ := newMaterialFixture(t)
	fb.statusErr = true
	machines.AddMachine(&entity.Machine{MachineID: "M1", AllowAutoMachining: true})
	orders.AddOrder(pendingOrder("20250813-MATCH001", 8.0))

	if _, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		Diameter:      8.0,
		DiameterGroup: "8",
	}); err != nil {
		t.Fatalf("UpdateMaterial: %v", err)
	}
	if o := orders.Get("20250813-MATCH001"); o.AssignedMachine != "" {
		t.Fatalf("probe error must fail closed, order was assigned")
	}
}

func TestAutoAssignFailsClosedOnProbeTimeout(t *testing.T) {
	svc, machines, orders, fb, _ := newMaterialFixture(t)
	fb.statusDelay = 2 * time.Second // 超过客户端500ms探测超时
	machines.AddMachine(&entity.Machine{MachineID: "M1", AllowAutoMachining: true})
	orders.AddOrder(pendingOrder("20250813-MATCH001", 8.0))

	if _, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		Diameter:      8.0,
		DiameterGroup: "8",
	}); err != nil {
		t.Fatalf("UpdateMaterial: %v", err)
	}
	if o := orders.Get("20250813-MATCH001"); o.AssignedMachine != "" {
		t.Fatalf("probe timeout must fail closed, order was assigned")
	}
}

func TestAutoAssignRespectsJobStartVeto(t *testing.T) {
	svc, machines, orders, _, _ := newMaterialFixture(t)
	denied := false
	machines.AddMachine(&entity.Machine{
		MachineID:          "M1",
		AllowAutoMachining: true,
		AllowJobStart:      &denied,
	})
	orders.AddOrder(pendingOrder("20250813-MATCH001", 8.0))

	if _, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		Diameter:      8.0,
		DiameterGroup: "8",
	}); err != nil {
		t.Fatalf("UpdateMaterial: %v", err)
	}
	if o := orders.Get("20250813-MATCH001"); o.AssignedMachine != "" {
		t.Fatalf("explicit allowJobStart=false must veto auto assignment")
	}
}

func TestAutoAssignCapsBatchAndIncrementsPositions(t *testing.T) {
	svc, machines, orders, fb, _ := newMaterialFixture(t)
	fb.state = "online"
	machines.AddMachine(&entity.Machine{MachineID: "M1", AllowAutoMachining: true})

	// 已有占位到位置3
	queued := pendingOrder("20250813-QUEUED01", 8.0)
	queued.Stage = entity.OrderStageNcReady
	queued.AssignedMachine = "M1"
	queued.QueuePosition = 3
	orders.AddOrder(queued)

	for i := 0; i < 7; i++ {
		orders.AddOrder(pendingOrder(fmt.Sprintf("20250813-PEND%04d", i), 8.0))
	}
	// 直径不匹配的不参与
	orders.AddOrder(pendingOrder("20250813-OTHERDIA", 6.0))

	if _, err := svc.UpdateMaterial(context.Background(), "M1", &MaterialInput{
		Diameter:      8.0,
		DiameterGroup: "8",
	}); err != nil {
		t.Fatalf("UpdateMaterial: %v", err)
	}

	assigned := 0
	positions := map[int]bool{}
	for i := 0; i < 7; i++ {
		o := orders.Get(fmt.Sprintf("20250813-PEND%04d", i))
		if o.AssignedMachine == "M1" {
			assigned++
			positions[o.QueuePosition] = true
		}
	}
	if assigned != 5 {
		t.Fatalf("assigned = %d, want capped at 5", assigned)
	}
	// 位置从4开始严格递增，不重复
	for pos := 4; pos <= 8; pos++ {
		if !positions[pos] {
			t.Fatalf("positions = %v, want 4..8", positions)
		}
	}
	if o := orders.Get("20250813-OTHERDIA"); o.AssignedMachine != "" {
		t.Fatalf("diameter mismatch order must not be assigned")
	}
}
