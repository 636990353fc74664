package nats

import (
	"log/slog"
	"sync"

	"github.com/smazurov/hudrender/internal/events"
)

// Publisher sends job messages to NATS. *JobClient implements it.
type Publisher interface {
	PublishState(StateMessage)
	PublishProgress(ProgressMessage)
}

// Bridge subscribes to job events on the event bus and forwards them to NATS.
type Bridge struct {
	eventBus  *events.Bus
	publisher Publisher
	unsubs    []func()
	logger    *slog.Logger
	mu        sync.Mutex
}

// NewBridge creates a new EventBus-to-NATS bridge.
func NewBridge(eventBus *events.Bus, publisher Publisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		eventBus:  eventBus,
		publisher: publisher,
		logger:    logger.With("component", "nats-bridge"),
	}
}

// Start subscribes to job events.
func (b *Bridge) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.unsubs) > 0 {
		return
	}
	b.unsubs = append(b.unsubs,
		b.eventBus.Subscribe(b.handleState),
		b.eventBus.Subscribe(b.handleProgress),
	)
	b.logger.Info("NATS bridge subscribed to job events")
}

// handleState forwards state changes.
func (b *Bridge) handleState(e events.JobStateChangedEvent) {
	b.publisher.PublishState(StateMessage{
		JobID:     e.JobID,
		Timestamp: e.Timestamp,
		State:     e.State,
		Error:     e.Error,
		Output:    e.Output,
	})
	b.logger.Debug("Forwarded state event", "job_id", e.JobID, "state", e.State)
}

// handleProgress forwards progress updates.
func (b *Bridge) handleProgress(e events.JobProgressEvent) {
	b.publisher.PublishProgress(ProgressMessage{
		JobID:       e.JobID,
		Timestamp:   e.Timestamp,
		FramesDone:  e.FramesDone,
		FramesTotal: e.FramesTotal,
	})
}

// Stop unsubscribes from the event bus.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
	b.logger.Info("NATS bridge stopped")
}
