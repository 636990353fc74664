// Package collectors derives rate metrics from render job progress.
package collectors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/metrics"
)

// ThroughputCollector turns a job's monotonically increasing frame count into
// an output frames-per-second gauge.
type ThroughputCollector struct {
	logger   logging.Logger
	jobID    string
	interval time.Duration
	done     atomic.Int64
	now      func() time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewThroughputCollector creates a collector for one job.
func NewThroughputCollector(jobID string) *ThroughputCollector {
	return &ThroughputCollector{
		logger:   logging.GetLogger("metrics"),
		jobID:    jobID,
		interval: time.Second,
		now:      time.Now,
	}
}

// Observe records the number of frames completed so far.
func (c *ThroughputCollector) Observe(framesDone int) {
	c.done.Store(int64(framesDone))
}

// Start begins sampling. Frames observed from now on count toward the first
// sample.
func (c *ThroughputCollector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(c.done.Load(), c.now())
	return nil
}

// Stop ends sampling and removes the job's gauges.
func (c *ThroughputCollector) Stop() error {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		metrics.DeleteJobRenderMetrics(c.jobID)
	})
	return nil
}

func (c *ThroughputCollector) run(lastFrames int64, lastTime time.Time) {
	defer c.wg.Done()
	c.logger.Debug("Starting throughput collection", "job_id", c.jobID, "interval", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			frames := c.done.Load()
			t := c.now()
			metrics.SetRenderFPS(c.jobID, rate(frames-lastFrames, t.Sub(lastTime)))
			lastFrames, lastTime = frames, t
		}
	}
}

func rate(frames int64, elapsed time.Duration) float64 {
	if elapsed <= 0 || frames < 0 {
		return 0
	}
	return float64(frames) / elapsed.Seconds()
}
