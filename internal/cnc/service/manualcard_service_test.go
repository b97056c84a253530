package service

import (
	"context"
	"strings"
	"testing"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/testutil"
	"go.uber.org/zap"
)

func newManualFixture(t *testing.T) (*ManualCardService, *testutil.MachineStore, *fakeBridge) {
	t.Helper()
	fb := newFakeBridge()
	t.Cleanup(fb.close)

	machines := testutil.NewMachineStore()
	events := testutil.NewEventStore()
	svc := NewManualCardService(machines, events, fb.client(), nil, sse.NewHub(), zap.NewNop())
	return svc, machines, fb
}

func manualJob(id string) entity.Job {
	j := testutil.MakeJob(id, "", entity.PriorityMachining)
	j.Kind = entity.JobKindManualFile
	j.Source = entity.JobSourceManualUpload
	return j
}

func TestPreloadTop2LoadsAtMostTwoSlots(t *testing.T) {
	svc, machines, fb := newManualFixture(t)
	machines.AddMachine(&entity.Machine{
		MachineID: "M1",
		Queue:     entity.JobList{manualJob("a"), manualJob("b"), manualJob("c")},
	})

	if err := svc.PreloadTop2(context.Background(), "M1"); err != nil {
		t.Fatalf("PreloadTop2: %v", err)
	}

	if fb.count("preload") != 2 {
		t.Fatalf("preload calls = %d, want 2 (third item waits)", fb.count("preload"))
	}
	fb.mu.Lock()
	slots := []float64{fb.preloads[0]["slot"].(float64), fb.preloads[1]["slot"].(float64)}
	fb.mu.Unlock()
	if slots[0] != 1 || slots[1] != 2 {
		t.Fatalf("slots = %v, want [1 2]", slots)
	}

	m, _ := machines.FindByMachineID(context.Background(), "M1")
	if m.PreloadedNowID != "a" || m.PreloadedNextID != "b" {
		t.Fatalf("preloaded ids = %s/%s, want a/b", m.PreloadedNowID, m.PreloadedNextID)
	}
}

func TestCompletePromotesSecondToHead(t *testing.T) {
	svc, machines, _ := newManualFixture(t)
	machines.AddMachine(&entity.Machine{
		MachineID: "M1",
		Queue:     entity.JobList{manualJob("a"), manualJob("b"), manualJob("c")},
	})

	if err := svc.CompleteManualFileJob(context.Background(), "M1"); err != nil {
		t.Fatalf("CompleteManualFileJob: %v", err)
	}

	m, _ := machines.FindByMachineID(context.Background(), "M1")
	if m.PreloadedNowID != "b" || m.PreloadedNextID != "c" {
		t.Fatalf("after complete now/next = %s/%s, want b/c", m.PreloadedNowID, m.PreloadedNextID)
	}
	if len(m.Queue) != 2 || m.Queue[0].ID != "b" {
		t.Fatalf("fifo after pop = %v", testutil.JobIDs(m.Queue))
	}
}

func TestCompleteAutoPlaysOnlyWhenAllowed(t *testing.T) {
	// 开关关闭：不自动播放
	svc, machines, fb := newManualFixture(t)
	machines.AddMachine(&entity.Machine{
		MachineID: "M1",
		Queue:     entity.JobList{manualJob("a"), manualJob("b")},
	})
	if err := svc.CompleteManualFileJob(context.Background(), "M1"); err != nil {
		t.Fatalf("CompleteManualFileJob: %v", err)
	}
	if fb.count("play") != 0 {
		t.Fatalf("auto play fired with allowAutoMachining=false")
	}

	// 开关打开：新头部自动播放
	svc2, machines2, fb2 := newManualFixture(t)
	machines2.AddMachine(&entity.Machine{
		MachineID:          "M2",
		AllowAutoMachining: true,
		Queue:              entity.JobList{manualJob("a"), manualJob("b")},
	})
	if err := svc2.CompleteManualFileJob(context.Background(), "M2"); err != nil {
		t.Fatalf("CompleteManualFileJob: %v", err)
	}
	if fb2.count("play") != 1 {
		t.Fatalf("auto play calls = %d, want 1", fb2.count("play"))
	}
}

func TestUploadDerivesIsolatedManualPath(t *testing.T) {
	svc, machines, fb := newManualFixture(t)
	machines.AddMachine(&entity.Machine{MachineID: "M1"})

	job, err := svc.UploadAndPreload(context.Background(), "M1", &UploadInput{
		FileName: "彩色 盖板(v2).nc",
		Content:  []byte("G0 X0 Y0\nM30\n"),
	})
	if err != nil {
		t.Fatalf("UploadAndPreload: %v", err)
	}

	if !strings.HasPrefix(job.BridgePath, "nc/manual/") || !strings.HasSuffix(job.BridgePath, ".nc") {
		t.Fatalf("derived path = %q, want nc/manual/*.nc", job.BridgePath)
	}
	if job.Kind != entity.JobKindManualFile || job.Source != entity.JobSourceManualUpload {
		t.Fatalf("job kind/source = %s/%s", job.Kind, job.Source)
	}
	if fb.count("store_file") != 1 {
		t.Fatalf("file content not stored via bridge")
	}

	snap, _ := machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 1 {
		t.Fatalf("fifo jobs = %d, want 1", len(snap.Jobs))
	}
}

func TestUploadSurvivesPreloadFailure(t *testing.T) {
	svc, machines, fb := newManualFixture(t)
	fb.failPreload = true
	// 预载失败不影响上传：条目已持久化，后续完成/重试会再预载
	job, err := svc.UploadAndPreload(context.Background(), "M9", &UploadInput{
		FileName: "part.nc",
		Content:  []byte("M30"),
	})
	if err != nil {
		t.Fatalf("upload must not fail on preload failure: %v", err)
	}
	if job == nil {
		t.Fatalf("job not returned")
	}
	snap, _ := machines.GetSnapshot(context.Background(), "M9")
	if len(snap.Jobs) != 1 {
		t.Fatalf("queue entry must persist for later retry")
	}
}

func TestPlayRunsUploadReplaceStartSequence(t *testing.T) {
	svc, machines, fb := newManualFixture(t)
	machines.AddMachine(&entity.Machine{
		MachineID: "M1",
		Queue:     entity.JobList{manualJob("a")},
	})

	if err := svc.Play(context.Background(), "M1", "a"); err != nil {
		t.Fatalf("Play: %v", err)
	}

	fb.mu.Lock()
	steps := append([]string{}, fb.smartSteps...)
	fb.mu.Unlock()
	want := []string{"upload", "replace", "start"}
	if len(steps) != 3 {
		t.Fatalf("smart steps = %v, want %v", steps, want)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("smart steps = %v, want %v", steps, want)
		}
	}

	m, _ := machines.FindByMachineID(context.Background(), "M1")
	if m.LastPlayStatus["success"] != true {
		t.Fatalf("last play status = %v", m.LastPlayStatus)
	}
}

func TestPlayAbortsOnFirstFailure(t *testing.T) {
	svc, machines, fb := newManualFixture(t)
	fb.failStep = "replace"
	machines.AddMachine(&entity.Machine{
		MachineID: "M1",
		Queue:     entity.JobList{manualJob("a")},
	})

	if err := svc.Play(context.Background(), "M1", "a"); err == nil {
		t.Fatalf("expected failure on replace step")
	}
	if fb.count("smart_start") != 0 {
		t.Fatalf("start must not run after replace failed")
	}

	m, _ := machines.FindByMachineID(context.Background(), "M1")
	if m.LastPlayStatus["success"] != false || m.LastPlayStatus["step"] != "replace" {
		t.Fatalf("last play status = %v, want failed at replace", m.LastPlayStatus)
	}
}
