// Package metrics provides Prometheus metrics for render pipelines and jobs.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hudrender"

var (
	framesEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "frames_encoded_total",
		Help:      "Output frames submitted to a sink",
	}, []string{"format"})

	freezeFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "freeze_frames_total",
		Help:      "Output frames repeated from the last decoded frame",
	})

	captureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "capture_failures_total",
		Help:      "Overlay captures that failed or timed out",
	}, []string{"reason"})

	compositorFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "compositor",
		Name:      "fallbacks_total",
		Help:      "Compositor backend fallbacks",
	}, []string{"from", "to"})

	bufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "buffer_depth",
		Help:      "Decoded frames waiting in the bounded buffer",
	}, []string{"job_id"})

	renderFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "render_fps",
		Help:      "Current output frames per second",
	}, []string{"job_id"})

	// Local cache for SSE exporter access.
	renderCache   = make(map[string]*JobRenderMetrics)
	renderCacheMu sync.RWMutex
)

// JobRenderMetrics holds current metric values for a running job.
type JobRenderMetrics struct {
	FPS          float64
	BufferDepth  float64
	FreezeFrames float64
}

// AddFramesEncoded counts frames submitted to a sink of the given format.
func AddFramesEncoded(format string, n int) {
	framesEncoded.WithLabelValues(format).Add(float64(n))
}

// AddFreezeFrames counts repeated frames for a job.
func AddFreezeFrames(jobID string, n int) {
	freezeFrames.Add(float64(n))
	if jobID != "" {
		updateCache(jobID, func(m *JobRenderMetrics) { m.FreezeFrames += float64(n) })
	}
}

// IncCaptureFailure counts one failed overlay capture.
func IncCaptureFailure(reason string) {
	captureFailures.WithLabelValues(reason).Inc()
}

// IncCompositorFallback counts one backend fallback.
func IncCompositorFallback(from, to string) {
	compositorFallbacks.WithLabelValues(from, to).Inc()
}

// SetBufferDepth sets the bounded buffer occupancy for a job.
func SetBufferDepth(jobID string, depth int) {
	bufferDepth.WithLabelValues(jobID).Set(float64(depth))
	updateCache(jobID, func(m *JobRenderMetrics) { m.BufferDepth = float64(depth) })
}

// SetRenderFPS sets the current output rate for a job.
func SetRenderFPS(jobID string, fps float64) {
	renderFPS.WithLabelValues(jobID).Set(fps)
	updateCache(jobID, func(m *JobRenderMetrics) { m.FPS = fps })
}

// DeleteJobRenderMetrics removes all per-job metrics.
func DeleteJobRenderMetrics(jobID string) {
	bufferDepth.DeleteLabelValues(jobID)
	renderFPS.DeleteLabelValues(jobID)

	renderCacheMu.Lock()
	delete(renderCache, jobID)
	renderCacheMu.Unlock()
}

// GetJobRenderMetrics returns current metric values for a job.
func GetJobRenderMetrics(jobID string) *JobRenderMetrics {
	renderCacheMu.RLock()
	defer renderCacheMu.RUnlock()
	if m, ok := renderCache[jobID]; ok {
		dup := *m
		return &dup
	}
	return nil
}

// GetAllJobRenderMetrics returns metrics for all running jobs.
func GetAllJobRenderMetrics() map[string]*JobRenderMetrics {
	renderCacheMu.RLock()
	defer renderCacheMu.RUnlock()
	result := make(map[string]*JobRenderMetrics, len(renderCache))
	for id, m := range renderCache {
		dup := *m
		result[id] = &dup
	}
	return result
}

func updateCache(jobID string, update func(*JobRenderMetrics)) {
	renderCacheMu.Lock()
	defer renderCacheMu.Unlock()
	m, ok := renderCache[jobID]
	if !ok {
		m = &JobRenderMetrics{}
		renderCache[jobID] = m
	}
	update(m)
}
