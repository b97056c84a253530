package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/testutil"
	"github.com/drjoon/abuts.fit-sub007/internal/shared/bridge"
	"go.uber.org/zap"
)

// fakeBridge 测试用桥接服务
type fakeBridge struct {
	srv *httptest.Server

	mu          sync.Mutex
	queue       []bridge.QueueJob
	state       string
	statusErr   bool
	statusDelay time.Duration
	accept202   bool
	failPreload bool
	calls       map[string]int
	lastReorder []string
	preloads    []map[string]interface{}
	smartSteps  []string
	failStep    string // 该smart动作返回500
	storedFiles map[string][]byte
}

func newFakeBridge() *fakeBridge {
	f := &fakeBridge{
		state:       "idle",
		calls:       map[string]int{},
		storedFiles: map[string][]byte{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeBridge) close() { f.srv.Close() }

func (f *fakeBridge) client() *bridge.Client {
	return bridge.NewClient(bridge.Config{
		BaseURL:      f.srv.URL,
		APIKey:       "test-key",
		Timeout:      5 * time.Second,
		ProbeTimeout: 500 * time.Millisecond,
	})
}

func (f *fakeBridge) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeBridge) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := r.URL.Path
	writeJSON := func(status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	switch {
	case r.Method == "GET" && strings.HasSuffix(p, "/queue"):
		f.calls["get_queue"]++
		writeJSON(200, map[string]interface{}{"jobs": f.queue})

	case r.Method == "PUT" && strings.HasSuffix(p, "/queue/reorder"):
		f.calls["reorder"]++
		var body struct {
			Order []string `json:"order"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.lastReorder = body.Order
		writeJSON(200, map[string]interface{}{})

	case r.Method == "DELETE" && strings.HasSuffix(p, "/queue"):
		f.calls["clear"]++
		writeJSON(200, map[string]interface{}{})

	case r.Method == "POST" && strings.HasSuffix(p, "/queue/delete"):
		f.calls["delete"]++
		writeJSON(200, map[string]interface{}{})

	case r.Method == "PATCH" && strings.HasSuffix(p, "/qty"):
		f.calls["qty"]++
		writeJSON(200, map[string]interface{}{})

	case r.Method == "PATCH" && strings.HasSuffix(p, "/pause"):
		f.calls["pause"]++
		writeJSON(200, map[string]interface{}{})

	case r.Method == "GET" && strings.HasSuffix(p, "/status"):
		f.calls["status"]++
		if f.statusDelay > 0 {
			time.Sleep(f.statusDelay)
		}
		if f.statusErr {
			writeJSON(500, map[string]interface{}{"error": "bridge down"})
			return
		}
		writeJSON(200, map[string]interface{}{"machineId": "M1", "state": f.state})

	case r.Method == "POST" && strings.Contains(p, "/smart/"):
		action := p[strings.LastIndex(p, "/")+1:]
		f.calls["smart_"+action]++
		f.smartSteps = append(f.smartSteps, action)
		if f.failStep == action {
			writeJSON(500, map[string]interface{}{"message": "smart " + action + " failed"})
			return
		}
		if f.accept202 {
			writeJSON(202, map[string]interface{}{"jobId": "bridge-job-1"})
			return
		}
		writeJSON(200, map[string]interface{}{"ok": true})

	case r.Method == "POST" && strings.HasSuffix(p, "/manual/preload"):
		f.calls["preload"]++
		if f.failPreload {
			writeJSON(500, map[string]interface{}{"message": "preload failed"})
			return
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		f.preloads = append(f.preloads, body)
		writeJSON(200, map[string]interface{}{})

	case r.Method == "POST" && strings.HasSuffix(p, "/manual/play"):
		f.calls["play"]++
		writeJSON(200, map[string]interface{}{})

	case r.Method == "PUT" && strings.Contains(p, "/files"):
		f.calls["store_file"]++
		writeJSON(200, map[string]interface{}{})

	case r.Method == "PUT" && strings.HasSuffix(p, "/material"):
		f.calls["material"]++
		writeJSON(200, map[string]interface{}{})

	default:
		writeJSON(200, map[string]interface{}{})
	}
}

type queueFixture struct {
	machines *testutil.MachineStore
	orders   *testutil.OrderStore
	events   *testutil.EventStore
	bridge   *fakeBridge
	svc      *QueueService
	mirror   *Mirror
}

func newQueueFixture(t *testing.T) *queueFixture {
	t.Helper()
	fb := newFakeBridge()
	t.Cleanup(fb.close)

	machines := testutil.NewMachineStore()
	orders := testutil.NewOrderStore()
	events := testutil.NewEventStore()
	mirror := NewMirror(zap.NewNop())
	svc := NewQueueService(machines, orders, events, fb.client(), mirror, sse.NewHub(), zap.NewNop())

	return &queueFixture{
		machines: machines,
		orders:   orders,
		events:   events,
		bridge:   fb,
		svc:      svc,
		mirror:   mirror,
	}
}

func (f *queueFixture) seedQueue(machineID string, jobs ...entity.Job) {
	f.machines.AddMachine(&entity.Machine{
		MachineID: machineID,
		Queue:     entity.JobList(jobs),
	})
}

func TestListPartitionsEquipmentFirst(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1",
		testutil.MakeJob("A", "", entity.PriorityMachining),
		testutil.MakeJob("B", "", entity.PriorityEquipment),
		testutil.MakeJob("C", "", entity.PriorityMachining),
	)

	jobs, err := f.svc.List(context.Background(), "M1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := testutil.JobIDs(jobs)
	want := []string{"B", "A", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("partition order = %v, want %v", got, want)
		}
	}
}

func TestListExcludesManualFileJobs(t *testing.T) {
	f := newQueueFixture(t)
	manual := testutil.MakeJob("MF", "", entity.PriorityMachining)
	manual.Kind = entity.JobKindManualFile
	f.seedQueue("M1",
		testutil.MakeJob("A", "", entity.PriorityMachining),
		manual,
	)

	jobs, err := f.svc.List(context.Background(), "M1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "A" {
		t.Fatalf("expected only A in main queue, got %v", testutil.JobIDs(jobs))
	}
}

func TestConsumeRemovesJobFromSnapshot(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1",
		testutil.MakeJob("A", "", entity.PriorityMachining),
		testutil.MakeJob("B", "", entity.PriorityMachining),
	)

	job, err := f.svc.Consume(context.Background(), "M1", "A")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if job.ID != "A" {
		t.Fatalf("consumed job = %s, want A", job.ID)
	}

	snap, _ := f.machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 1 || snap.Jobs[0].ID != "B" {
		t.Fatalf("remaining queue = %v, want [B]", testutil.JobIDs(snap.Jobs))
	}
	if got := f.bridge.count("get_queue"); got != 0 {
		t.Fatalf("local hit should not resync, got %d bridge reads", got)
	}
}

func TestConsumeResyncsExactlyOnceOnMiss(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1")
	f.bridge.queue = []bridge.QueueJob{
		{ID: "X", Path: "nc/20250813-AB12CD34.nc", Qty: 2},
		{ID: "Y", Path: "nc/other.nc", Qty: 1},
	}

	job, err := f.svc.Consume(context.Background(), "M1", "X")
	if err != nil {
		t.Fatalf("Consume after resync: %v", err)
	}
	if got := f.bridge.count("get_queue"); got != 1 {
		t.Fatalf("resync count = %d, want exactly 1", got)
	}
	if job.Source != entity.JobSourceBridgeResync {
		t.Fatalf("resynced job source = %s, want %s", job.Source, entity.JobSourceBridgeResync)
	}
	if job.RequestID != "20250813-AB12CD34" {
		t.Fatalf("requestId = %q, want extracted order no", job.RequestID)
	}

	// 桥接侧是权威：本地只剩Y
	snap, _ := f.machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 1 || snap.Jobs[0].ID != "Y" {
		t.Fatalf("snapshot after resync = %v, want [Y]", testutil.JobIDs(snap.Jobs))
	}
}

func TestConsumeNotFoundAfterSingleResync(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1")
	f.bridge.queue = []bridge.QueueJob{{ID: "other", Path: "nc/a.nc"}}

	_, err := f.svc.Consume(context.Background(), "M1", "missing")
	if err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("expected job not found, got %v", err)
	}
	if got := f.bridge.count("get_queue"); got != 1 {
		t.Fatalf("resync count = %d, want exactly 1 (bounded)", got)
	}
}

func TestReorderAppendsUnmentionedTail(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1",
		testutil.MakeJob("A", "", entity.PriorityMachining),
		testutil.MakeJob("B", "", entity.PriorityMachining),
		testutil.MakeJob("C", "", entity.PriorityMachining),
		testutil.MakeJob("D", "", entity.PriorityMachining),
	)

	jobs, err := f.svc.Reorder(context.Background(), "M1", []string{"C", "A", "ghost"})
	if err != nil {
		t.Fatalf("Reorder: %v", err)
	}
	got := testutil.JobIDs(jobs)
	want := []string{"C", "A", "B", "D"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("reordered = %v, want %v", got, want)
		}
	}

	f.mirror.Wait()
	if f.bridge.count("reorder") != 1 {
		t.Fatalf("bridge reorder mirror not dispatched")
	}
	f.bridge.mu.Lock()
	mirrored := f.bridge.lastReorder
	f.bridge.mu.Unlock()
	if len(mirrored) != 4 || mirrored[0] != "C" {
		t.Fatalf("mirrored order = %v", mirrored)
	}
}

func TestUpdateQtyClampsToOne(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1", testutil.MakeJob("A", "", entity.PriorityMachining))

	job, err := f.svc.UpdateQty(context.Background(), "M1", "A", 0)
	if err != nil {
		t.Fatalf("UpdateQty: %v", err)
	}
	if job.Qty != 1 {
		t.Fatalf("qty = %d, want clamped to 1", job.Qty)
	}
}

func TestApplyBatchClearShortCircuits(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1",
		testutil.MakeJob("A", "20250813-REQA0001", entity.PriorityMachining),
		testutil.MakeJob("B", "", entity.PriorityMachining),
	)

	// clear为真时其余字段全部忽略
	jobs, err := f.svc.ApplyBatch(context.Background(), "M1", &BatchRequest{
		Clear:      true,
		Order:      []string{"B", "A"},
		QtyUpdates: []QtyUpdate{{JobID: "A", Qty: 5}},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("queue after clear = %v, want empty", testutil.JobIDs(jobs))
	}

	f.mirror.Wait()
	if f.bridge.count("clear") != 1 {
		t.Fatalf("bridge clear not notified")
	}
	if f.bridge.count("qty") != 0 || f.bridge.count("reorder") != 0 {
		t.Fatalf("clear must short-circuit other mirrors")
	}
	if len(f.orders.RollbackCalls) != 1 || f.orders.RollbackCalls[0] != "20250813-REQA0001" {
		t.Fatalf("rollback calls = %v", f.orders.RollbackCalls)
	}
}

func TestApplyBatchRollsBackOncePerRequestID(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1",
		testutil.MakeJob("A", "20250813-SHARED01", entity.PriorityMachining),
		testutil.MakeJob("B", "20250813-SHARED01", entity.PriorityMachining),
		testutil.MakeJob("C", "20250813-OTHER001", entity.PriorityMachining),
		testutil.MakeJob("D", "", entity.PriorityMachining),
	)

	jobs, err := f.svc.ApplyBatch(context.Background(), "M1", &BatchRequest{
		DeleteJobIDs: []string{"A", "B", "D"},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "C" {
		t.Fatalf("queue = %v, want [C]", testutil.JobIDs(jobs))
	}
	// A和B共享一个requestId只回滚一次；D没有requestId不回滚
	if len(f.orders.RollbackCalls) != 1 || f.orders.RollbackCalls[0] != "20250813-SHARED01" {
		t.Fatalf("rollback calls = %v, want exactly one for shared id", f.orders.RollbackCalls)
	}
}

func TestApplyBatchFixedOrderDeleteThenReorder(t *testing.T) {
	f := newQueueFixture(t)
	f.seedQueue("M1",
		testutil.MakeJob("A", "20250813-REQA0001", entity.PriorityMachining),
		testutil.MakeJob("B", "", entity.PriorityEquipment),
		testutil.MakeJob("C", "", entity.PriorityMachining),
	)

	jobs, err := f.svc.ApplyBatch(context.Background(), "M1", &BatchRequest{
		DeleteJobIDs: []string{"A"},
		Order:        []string{"C", "B"},
		QtyUpdates:   []QtyUpdate{{JobID: "C", Qty: 3}},
		PauseUpdates: []PauseUpdate{{JobID: "B", Paused: true}},
	})
	if err != nil {
		t.Fatalf("ApplyBatch: %v", err)
	}

	got := testutil.JobIDs(jobs)
	want := []string{"C", "B"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
	if jobs[0].Qty != 3 {
		t.Fatalf("qty update not applied before persist")
	}
	if !jobs[1].Paused {
		t.Fatalf("pause update not applied before persist")
	}
	if len(f.orders.RollbackCalls) != 1 {
		t.Fatalf("rollback calls = %v, want one for deleted A", f.orders.RollbackCalls)
	}

	f.mirror.Wait()
	for _, key := range []string{"delete", "qty", "pause", "reorder"} {
		if f.bridge.count(key) != 1 {
			t.Fatalf("mirror %s dispatched %d times, want 1", key, f.bridge.count(key))
		}
	}
}
