package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/hudrender/internal/events"
	"github.com/smazurov/hudrender/internal/logging"
	"github.com/smazurov/hudrender/internal/metrics"
	"github.com/smazurov/hudrender/internal/metrics/collectors"
	"github.com/smazurov/hudrender/internal/pipeline"
)

// progressSteps is the number of progress events published per job.
const progressSteps = 100

// managedJob tracks one job within the manager.
type managedJob struct {
	info      Info
	orch      *pipeline.Orchestrator
	collector *collectors.ThroughputCollector
	closer    io.Closer
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	lastSent  int
}

// Manager runs render jobs in submission order on a fixed number of
// workers.
type Manager struct {
	opts     ManagerOptions
	jobs     map[string]*managedJob
	order    []string
	queue    []*managedJob
	wake     chan struct{}
	mu       sync.RWMutex
	logger   logging.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	defaults Defaults
	closed   bool
}

// NewManager creates a job manager.
func NewManager(opts *ManagerOptions) *Manager {
	if opts == nil {
		opts = &ManagerOptions{}
	}
	o := *opts
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Registry == nil {
		o.Registry = pipeline.DefaultRegistry()
	}
	if o.Logger == nil {
		o.Logger = logging.GetLogger("jobs")
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:     o,
		jobs:     make(map[string]*managedJob),
		wake:     make(chan struct{}, 1),
		logger:   o.Logger,
		ctx:      ctx,
		cancel:   cancel,
		defaults: o.Defaults,
	}
	for range o.Workers {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// SetDefaults replaces the request defaults for jobs submitted from now on.
func (m *Manager) SetDefaults(d Defaults) {
	m.mu.Lock()
	m.defaults = d
	m.mu.Unlock()
	m.logger.Info("Render defaults updated", "fps", d.FPS, "compositor", d.Compositor, "effects", d.Effects)
}

// Defaults returns the current request defaults.
func (m *Manager) Defaults() Defaults {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaults
}

// Submit validates req and queues it. The returned info is in the pending
// state.
func (m *Manager) Submit(req Request) (*Info, error) {
	m.mu.RLock()
	closed := m.closed
	req = m.defaults.Apply(req)
	m.mu.RUnlock()
	if closed {
		return nil, NewError(ErrCodeShuttingDown, "manager is shutting down", nil)
	}

	job, closer, err := Build(m.ctx, req)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	mj := &managedJob{
		info: Info{
			ID:        id,
			State:     StatePending,
			Input:     job.Input,
			Output:    job.Output,
			Format:    string(job.Format),
			CreatedAt: time.Now(),
		},
		collector: collectors.NewThroughputCollector(id),
		closer:    closer,
		done:      make(chan struct{}),
	}
	mj.info.FramesTotal = job.FrameCount()

	job.Progress = func(done, total int) {
		mj.collector.Observe(done)
		m.progress(mj, done, total)
	}
	mj.orch, err = pipeline.New(job, pipeline.Options{
		JobID:    id,
		Registry: m.opts.Registry,
		TempDir:  m.opts.TempDir,
	})
	if err != nil {
		_ = closer.Close()
		return nil, NewError(ErrCodeInvalidRequest, "invalid job", err)
	}

	mj.ctx, mj.cancel = context.WithCancel(m.ctx)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		mj.cancel()
		_ = closer.Close()
		return nil, NewError(ErrCodeShuttingDown, "manager is shutting down", nil)
	}
	m.jobs[id] = mj
	m.order = append(m.order, id)
	info := mj.info
	m.mu.Unlock()

	m.logger.Info("Job submitted", "job_id", id, "input", job.Input, "output", job.Output, "frames", info.FramesTotal)
	metrics.MoveJobStatus("", string(StatePending))
	if m.opts.EventBus != nil {
		m.opts.EventBus.Publish(events.JobCreatedEvent{
			JobID:     id,
			Input:     job.Input,
			Output:    job.Output,
			Timestamp: info.CreatedAt.Format(time.RFC3339),
		})
	}
	m.notifyStateChange(info, "")
	m.enqueue(mj)

	return &info, nil
}

// enqueue appends a registered job to the run queue. Jobs arriving after
// Shutdown has drained the queue are cancelled instead.
func (m *Manager) enqueue(mj *managedJob) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.finish(mj, nil, context.Canceled)
		m.release(mj)
		return
	}
	m.queue = append(m.queue, mj)
	m.mu.Unlock()
	m.signal()
}

// signal wakes one idle worker.
func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// worker runs queued jobs until the manager shuts down.
func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		mj := m.next()
		if mj == nil {
			return
		}
		m.runJob(mj)
	}
}

// next pops the oldest queued job, blocking until one is queued. It returns
// nil once the manager is shutting down.
func (m *Manager) next() *managedJob {
	for {
		if m.ctx.Err() != nil {
			return nil
		}
		m.mu.Lock()
		if len(m.queue) > 0 {
			mj := m.queue[0]
			m.queue[0] = nil
			m.queue = m.queue[1:]
			more := len(m.queue) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return mj
		}
		m.mu.Unlock()

		select {
		case <-m.wake:
		case <-m.ctx.Done():
			return nil
		}
	}
}

// dequeue removes a job that no worker has picked up yet.
func (m *Manager) dequeue(mj *managedJob) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.queue {
		if q == mj {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return true
		}
	}
	return false
}

// release frees a job's overlay resources and marks it done.
func (m *Manager) release(mj *managedJob) {
	mj.cancel()
	if err := mj.closer.Close(); err != nil {
		m.logger.Warn("Failed to release overlay", "job_id", mj.info.ID, "error", err)
	}
	close(mj.done)
}

// runJob runs one dequeued job to a terminal state.
func (m *Manager) runJob(mj *managedJob) {
	defer m.release(mj)

	ctx := mj.ctx
	if err := ctx.Err(); err != nil {
		m.finish(mj, nil, err)
		return
	}

	started := m.transition(mj, StateRendering, func(info *Info) { info.StartedAt = time.Now() })

	_ = mj.collector.Start(ctx)
	defer mj.collector.Stop()

	res, err := mj.orch.Run(ctx)
	metrics.ObserveJobDuration(string(stateFor(err)), time.Since(started.StartedAt))
	m.finish(mj, res, err)
}

func stateFor(err error) State {
	if err != nil {
		return StateError
	}
	return StateComplete
}

// progress records frames done and publishes a throttled progress event.
func (m *Manager) progress(mj *managedJob, done, total int) {
	m.mu.Lock()
	mj.info.FramesDone = done
	mj.info.FramesTotal = total
	step := max(1, total/progressSteps)
	publish := done == total || done-mj.lastSent >= step
	if publish {
		mj.lastSent = done
	}
	id := mj.info.ID
	m.mu.Unlock()

	if publish && m.opts.EventBus != nil {
		m.opts.EventBus.Publish(events.JobProgressEvent{
			JobID:       id,
			FramesDone:  done,
			FramesTotal: total,
			Timestamp:   time.Now().Format(time.RFC3339),
		})
	}
}

// transition moves a job to state, applying update under the lock, and
// returns the new info.
func (m *Manager) transition(mj *managedJob, state State, update func(*Info)) Info {
	m.mu.Lock()
	old := mj.info.State
	mj.info.State = state
	if update != nil {
		update(&mj.info)
	}
	info := mj.info
	m.mu.Unlock()

	metrics.MoveJobStatus(string(old), string(state))
	m.notifyStateChange(info, old)
	return info
}

func (m *Manager) finish(mj *managedJob, res *pipeline.Result, err error) {
	state := stateFor(err)
	info := m.transition(mj, state, func(info *Info) {
		info.FinishedAt = time.Now()
		info.Result = res
		if err != nil {
			info.Error = err.Error()
			info.ErrorCode = pipeline.Code(err)
			if errors.Is(err, context.Canceled) {
				info.ErrorCode = pipeline.ErrCodeCancelled
			}
			info.Output = ""
		}
	})

	if err != nil {
		m.logger.Error("Job failed", "job_id", info.ID, "code", info.ErrorCode, "error", err)
		return
	}
	m.logger.Info("Job complete", "job_id", info.ID, "output", info.Output,
		"frames", res.Frames, "elapsed", info.FinishedAt.Sub(info.StartedAt).Round(time.Millisecond))
}

// Get returns a job's current info.
func (m *Manager) Get(id string) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mj, ok := m.jobs[id]
	if !ok {
		return nil, NewError(ErrCodeNotFound, "job "+id+" not found", nil)
	}
	info := mj.info
	return &info, nil
}

// List returns every job in submission order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id].info)
	}
	return out
}

// Cancel stops a pending or rendering job. The job ends in the error state
// and leaves no output behind.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	mj, ok := m.jobs[id]
	var state State
	if ok {
		state = mj.info.State
	}
	m.mu.RUnlock()

	if !ok {
		return NewError(ErrCodeNotFound, "job "+id+" not found", nil)
	}
	if state.Terminal() {
		return NewError(ErrCodeFinished, "job "+id+" already "+string(state), nil)
	}
	m.logger.Info("Cancelling job", "job_id", id)
	mj.cancel()
	if m.dequeue(mj) {
		m.finish(mj, nil, context.Canceled)
		m.release(mj)
	}
	return nil
}

// Wait blocks until the job reaches a terminal state or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*Info, error) {
	m.mu.RLock()
	mj, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, NewError(ErrCodeNotFound, "job "+id+" not found", nil)
	}

	select {
	case <-mj.done:
		return m.Get(id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OutputPath returns the finalized output of a complete job.
func (m *Manager) OutputPath(id string) (string, error) {
	info, err := m.Get(id)
	if err != nil {
		return "", err
	}
	if info.State != StateComplete {
		return "", NewError(ErrCodeNotComplete, "job "+id+" is "+string(info.State), nil)
	}
	return info.Output, nil
}

// Shutdown cancels every job and waits for them to stop.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	active := 0
	for _, mj := range m.jobs {
		if !mj.info.State.Terminal() {
			active++
		}
	}
	m.mu.Unlock()

	m.logger.Info("Stopping all jobs", "active", active)
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	queued := m.queue
	m.queue = nil
	m.mu.Unlock()
	for _, mj := range queued {
		m.finish(mj, nil, context.Canceled)
		m.release(mj)
	}
	m.logger.Info("All jobs stopped")
}

// notifyStateChange publishes the transition and invokes OnStateChange.
func (m *Manager) notifyStateChange(info Info, old State) {
	if m.opts.EventBus != nil {
		m.opts.EventBus.Publish(events.JobStateChangedEvent{
			JobID:     info.ID,
			State:     string(info.State),
			Error:     info.Error,
			Output:    completedOutput(info),
			Timestamp: time.Now().Format(time.RFC3339),
		})
	}
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(info, old)
	}
}

func completedOutput(info Info) string {
	if info.State == StateComplete {
		return info.Output
	}
	return ""
}
