package service

import (
	"context"
	"testing"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/testutil"
	"go.uber.org/zap"
)

func newEventFixture(t *testing.T) (*EventService, *testutil.RecordStore, *testutil.OrderStore, *testutil.EventStore) {
	t.Helper()
	records := testutil.NewRecordStore()
	orders := testutil.NewOrderStore()
	events := testutil.NewEventStore()
	svc := NewEventService(records, orders, events, sse.NewHub(), nil, zap.NewNop())
	return svc, records, orders, events
}

func TestTickRecomputesElapsedFromFirstSeenStart(t *testing.T) {
	svc, records, orders, _ := newEventFixture(t)
	orders.AddOrder(&entity.ManufacturingOrder{
		RequestNo: "20250813-REQ00001",
		Stage:     entity.OrderStageNcReady,
	})
	// 开始于90秒前的执行中记录
	records.SeedRunning("M1", "20250813-REQ00001", "job-1", time.Now().Add(-90*time.Second))

	if err := svc.Tick(context.Background(), "M1", "20250813-REQ00001", "job-1", "cutting", 42.5); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	rec := records.Find("20250813-REQ00001", "job-1")
	if rec.ElapsedSeconds < 89 || rec.ElapsedSeconds > 92 {
		t.Fatalf("elapsed = %d, want ~90 recomputed from startedAt", rec.ElapsedSeconds)
	}
	if rec.Percent != 42.5 || rec.Phase != "cutting" {
		t.Fatalf("record = %+v", rec)
	}

	// 重复tick自纠：elapsed仍从首见startedAt重算
	if err := svc.Tick(context.Background(), "M1", "20250813-REQ00001", "job-1", "cutting", 43); err != nil {
		t.Fatalf("Tick repeat: %v", err)
	}
	rec = records.Find("20250813-REQ00001", "job-1")
	if rec.ElapsedSeconds < 89 || rec.ElapsedSeconds > 93 {
		t.Fatalf("repeated tick elapsed = %d, want still ~90", rec.ElapsedSeconds)
	}

	o := orders.Get("20250813-REQ00001")
	if o.Stage != entity.OrderStageMachining {
		t.Fatalf("order stage = %s, want machining", o.Stage)
	}
	if o.MachiningProgress["percent"] != 43.0 {
		t.Fatalf("order progress = %v", o.MachiningProgress)
	}
}

func TestTickCreatesRecordOnFirstCallback(t *testing.T) {
	svc, records, orders, _ := newEventFixture(t)
	orders.AddOrder(&entity.ManufacturingOrder{RequestNo: "20250813-REQ00001"})

	if err := svc.Tick(context.Background(), "M1", "20250813-REQ00001", "job-1", "setup", 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	rec := records.Find("20250813-REQ00001", "job-1")
	if rec == nil || rec.Status != entity.MachiningStatusRunning {
		t.Fatalf("record = %+v, want created RUNNING", rec)
	}
}

func TestCompleteAdvancesStageIdempotently(t *testing.T) {
	svc, records, orders, events := newEventFixture(t)
	orders.AddOrder(&entity.ManufacturingOrder{
		RequestNo: "20250813-REQ00001",
		Stage:     entity.OrderStageMachining,
	})
	records.SeedRunning("M1", "20250813-REQ00001", "job-1", time.Now().Add(-time.Minute))

	if err := svc.Complete(context.Background(), "M1", "20250813-REQ00001", "job-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	o := orders.Get("20250813-REQ00001")
	if o.Stage != entity.OrderStageMachined || o.ActualCompletedAt == nil {
		t.Fatalf("order = %+v, want machined with completion time", o)
	}
	firstCompleted := *o.ActualCompletedAt

	// 重复投递写入相同终值，无破坏
	if err := svc.Complete(context.Background(), "M1", "20250813-REQ00001", "job-1"); err != nil {
		t.Fatalf("Complete duplicate: %v", err)
	}
	o = orders.Get("20250813-REQ00001")
	if !o.ActualCompletedAt.Equal(firstCompleted) {
		t.Fatalf("duplicate delivery overwrote completion time")
	}

	if events.CountByType("machining_complete") != 2 {
		t.Fatalf("audit events = %d", events.CountByType("machining_complete"))
	}
	rec := records.Find("20250813-REQ00001", "job-1")
	if rec.Status != entity.MachiningStatusCompleted || rec.Percent != 100 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestFailWritesAuditWithoutTouchingStage(t *testing.T) {
	svc, records, orders, events := newEventFixture(t)
	orders.AddOrder(&entity.ManufacturingOrder{
		RequestNo: "20250813-REQ00001",
		Stage:     entity.OrderStageMachining,
	})
	records.SeedRunning("M1", "20250813-REQ00001", "job-1", time.Now())

	if err := svc.Fail(context.Background(), "M1", "20250813-REQ00001", "job-1", "spindle overload", []string{"AL-2041"}); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	// 失败处理是外部协作方的决定，订单阶段不动
	o := orders.Get("20250813-REQ00001")
	if o.Stage != entity.OrderStageMachining {
		t.Fatalf("fail must not mutate order stage, got %s", o.Stage)
	}
	if events.CountByType("machining_fail") != 1 {
		t.Fatalf("fail audit event missing")
	}
	rec := records.Find("20250813-REQ00001", "job-1")
	if rec.Status != entity.MachiningStatusFailed || rec.FailReason != "spindle overload" {
		t.Fatalf("record = %+v", rec)
	}
	if len(rec.Alarms) != 1 || rec.Alarms[0] != "AL-2041" {
		t.Fatalf("alarms = %v", rec.Alarms)
	}
}
