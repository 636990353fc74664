package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestJobRenderMetricsCache(t *testing.T) {
	jobID := "test-job-1"

	DeleteJobRenderMetrics(jobID)

	if m := GetJobRenderMetrics(jobID); m != nil {
		t.Error("expected nil for unknown job")
	}

	SetRenderFPS(jobID, 42.5)
	SetBufferDepth(jobID, 3)
	AddFreezeFrames(jobID, 2)
	AddFreezeFrames(jobID, 1)

	m := GetJobRenderMetrics(jobID)
	if m == nil {
		t.Fatal("expected non-nil metrics")
	}
	if m.FPS != 42.5 {
		t.Errorf("FPS = %v, want 42.5", m.FPS)
	}
	if m.BufferDepth != 3 {
		t.Errorf("BufferDepth = %v, want 3", m.BufferDepth)
	}
	if m.FreezeFrames != 3 {
		t.Errorf("FreezeFrames = %v, want 3", m.FreezeFrames)
	}

	// Verify returned copy is independent
	m.FPS = 999
	if m2 := GetJobRenderMetrics(jobID); m2.FPS != 42.5 {
		t.Errorf("cache was modified, FPS = %v, want 42.5", m2.FPS)
	}

	DeleteJobRenderMetrics(jobID)
	if deleted := GetJobRenderMetrics(jobID); deleted != nil {
		t.Error("expected nil after delete")
	}
}

func TestGetAllJobRenderMetrics(t *testing.T) {
	DeleteJobRenderMetrics("job-a")
	DeleteJobRenderMetrics("job-b")

	SetRenderFPS("job-a", 30)
	SetRenderFPS("job-b", 60)

	all := GetAllJobRenderMetrics()
	if all["job-a"] == nil || all["job-a"].FPS != 30 {
		t.Errorf("job-a = %+v", all["job-a"])
	}
	if all["job-b"] == nil || all["job-b"].FPS != 60 {
		t.Errorf("job-b = %+v", all["job-b"])
	}

	DeleteJobRenderMetrics("job-a")
	DeleteJobRenderMetrics("job-b")
}

func TestRenderCacheConcurrentAccess(_ *testing.T) {
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				SetRenderFPS("concurrent-job", float64(i*j))
				GetJobRenderMetrics("concurrent-job")
				GetAllJobRenderMetrics()
			}
		}()
	}
	wg.Wait()
	DeleteJobRenderMetrics("concurrent-job")
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(captureFailures.WithLabelValues("timeout"))
	IncCaptureFailure("timeout")
	IncCaptureFailure("timeout")
	if got := testutil.ToFloat64(captureFailures.WithLabelValues("timeout")) - before; got != 2 {
		t.Errorf("capture failures delta = %v, want 2", got)
	}

	before = testutil.ToFloat64(compositorFallbacks.WithLabelValues("gpu", "software"))
	IncCompositorFallback("gpu", "software")
	if got := testutil.ToFloat64(compositorFallbacks.WithLabelValues("gpu", "software")) - before; got != 1 {
		t.Errorf("fallbacks delta = %v, want 1", got)
	}

	before = testutil.ToFloat64(framesEncoded.WithLabelValues("mp4"))
	AddFramesEncoded("mp4", 30)
	if got := testutil.ToFloat64(framesEncoded.WithLabelValues("mp4")) - before; got != 30 {
		t.Errorf("frames encoded delta = %v, want 30", got)
	}
}

func TestJobStatusGauges(t *testing.T) {
	pending := testutil.ToFloat64(jobsByStatus.WithLabelValues("pending"))
	rendering := testutil.ToFloat64(jobsByStatus.WithLabelValues("rendering"))

	MoveJobStatus("", "pending")
	MoveJobStatus("pending", "rendering")

	if got := testutil.ToFloat64(jobsByStatus.WithLabelValues("pending")); got != pending {
		t.Errorf("pending = %v, want %v", got, pending)
	}
	if got := testutil.ToFloat64(jobsByStatus.WithLabelValues("rendering")); got != rendering+1 {
		t.Errorf("rendering = %v, want %v", got, rendering+1)
	}

	MoveJobStatus("rendering", "complete")
	ObserveJobDuration("complete", 1500*time.Millisecond)
	if n := testutil.CollectAndCount(jobDuration); n == 0 {
		t.Error("expected job duration samples")
	}
}
