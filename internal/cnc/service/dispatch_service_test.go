package service

import (
	"context"
	"testing"

	"github.com/drjoon/abuts.fit-sub007/internal/cnc/entity"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/sse"
	"github.com/drjoon/abuts.fit-sub007/internal/cnc/testutil"
	"go.uber.org/zap"
)

func TestNormalizeBridgePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"nc/20250813-AB12CD34.nc", "20250813-AB12CD34"},
		{"20250813-AB12CD34.NC", "20250813-AB12CD34"},
		{"nc/part.stl", "part"},
		{"plain", "plain"},
		{"nc/sub/dir/file.nc", "sub/dir/file"},
	}
	for _, c := range cases {
		if got := normalizeBridgePath(c.in); got != c.want {
			t.Errorf("normalizeBridgePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractRequestNo(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"nc/20250813-ab12cd34.nc", "20250813-AB12CD34"},
		{"nc/prefix_20250813-XY99ZZ88_rev2.nc", "20250813-XY99ZZ88"},
		{"nc/manual/cover-a1.nc", ""},   // 无8位日期段
		{"nc/20250813-abc.nc", ""},      // 后缀不足6位
		{"20250813-abcdef", "20250813-ABCDEF"},
	}
	for _, c := range cases {
		if got := extractRequestNo(c.in); got != c.want {
			t.Errorf("extractRequestNo(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func newDispatchFixture(t *testing.T) (*DispatchService, *testutil.MachineStore, *fakeBridge) {
	t.Helper()
	fb := newFakeBridge()
	t.Cleanup(fb.close)

	machines := testutil.NewMachineStore()
	events := testutil.NewEventStore()
	svc := NewDispatchService(machines, events, fb.client(), sse.NewHub(), zap.NewNop())
	return svc, machines, fb
}

func TestEnqueueWritesLocalSnapshotBeforeBridge(t *testing.T) {
	svc, machines, fb := newDispatchFixture(t)
	fb.accept202 = true

	result, err := svc.Enqueue(context.Background(), "M1", &SmartJobInput{
		Paths: []string{"nc/20250813-AB12CD34.nc", "nc/free_part.nc"},
		Qty:   2,
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// 202异步受理归一化
	if !result.Accepted || result.JobID != "bridge-job-1" {
		t.Fatalf("result = %+v, want accepted with bridge jobId", result)
	}

	snap, _ := machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 2 {
		t.Fatalf("snapshot jobs = %d, want 2", len(snap.Jobs))
	}
	first := snap.Jobs[0]
	if first.Kind != entity.JobKindRequestedFile || first.RequestID != "20250813-AB12CD34" {
		t.Fatalf("first job = %+v, want requested_file with extracted order no", first)
	}
	if first.Source != entity.JobSourceSmartEnqueue || first.Qty != 2 {
		t.Fatalf("first job source/qty = %s/%d", first.Source, first.Qty)
	}
	second := snap.Jobs[1]
	if second.Kind != entity.JobKindFile || second.RequestID != "" {
		t.Fatalf("second job = %+v, want plain file without order no", second)
	}
}

func TestEnqueueLocalWriteSurvivesBridgeFailure(t *testing.T) {
	svc, machines, fb := newDispatchFixture(t)
	fb.failStep = "enqueue"

	_, err := svc.Enqueue(context.Background(), "M1", &SmartJobInput{
		Path: "nc/20250813-AB12CD34.nc",
	})
	if err == nil {
		t.Fatalf("expected upstream error")
	}

	// 本地先写：桥接失败时条目已持久化，回调仍能找到一致的队列
	snap, _ := machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 1 {
		t.Fatalf("snapshot jobs = %d, want 1 despite bridge failure", len(snap.Jobs))
	}
}

func TestEnqueueRejectsEmptyPaths(t *testing.T) {
	svc, _, fb := newDispatchFixture(t)

	_, err := svc.Enqueue(context.Background(), "M1", &SmartJobInput{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if fb.count("smart_enqueue") != 0 {
		t.Fatalf("validation must reject before any network call")
	}
}

func TestReplaceTagsSource(t *testing.T) {
	svc, machines, _ := newDispatchFixture(t)

	if _, err := svc.Replace(context.Background(), "M1", &SmartJobInput{Path: "nc/x.nc"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	snap, _ := machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 1 || snap.Jobs[0].Source != entity.JobSourceSmartReplace {
		t.Fatalf("replace job source = %v", snap.Jobs)
	}
}

func TestStatusIsPurePassThrough(t *testing.T) {
	svc, machines, fb := newDispatchFixture(t)

	if _, err := svc.Status(context.Background(), "M1"); err != nil {
		t.Fatalf("Status: %v", err)
	}
	if fb.count("status") == 0 {
		t.Fatalf("status should hit bridge")
	}
	snap, _ := machines.GetSnapshot(context.Background(), "M1")
	if len(snap.Jobs) != 0 {
		t.Fatalf("status must not touch local state")
	}
}
