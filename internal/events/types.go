package events

// Event type constants for kelindar/event.
const (
	TypeJobCreated uint32 = iota + 1
	TypeJobStateChanged
	TypeJobProgress
	TypeJobMetrics
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// JobCreatedEvent is published when a render job is accepted.
type JobCreatedEvent struct {
	JobID     string `json:"job_id" example:"5f0c9a4e-1d2b-4c3a-9e8f-0a1b2c3d4e5f" doc:"Job identifier"`
	Input     string `json:"input" example:"/data/session.mp4" doc:"Source video path"`
	Output    string `json:"output" example:"/data/session-hud.mp4" doc:"Output path"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobCreatedEvent.
func (e JobCreatedEvent) Type() uint32 { return TypeJobCreated }

// JobStateChangedEvent is published on every job state transition.
type JobStateChangedEvent struct {
	JobID     string `json:"job_id" example:"5f0c9a4e-1d2b-4c3a-9e8f-0a1b2c3d4e5f" doc:"Job identifier"`
	State     string `json:"state" example:"rendering" doc:"New job state: pending, rendering, complete, error"`
	Error     string `json:"error,omitempty" doc:"Terminal error message"`
	Output    string `json:"output,omitempty" doc:"Finalized output path, set only when complete"`
	Timestamp string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobStateChangedEvent.
func (e JobStateChangedEvent) Type() uint32 { return TypeJobStateChanged }

// GetJobID returns the job the event refers to.
func (e JobStateChangedEvent) GetJobID() string {
	return e.JobID
}

// IsTerminal reports whether the job reached a final state.
func (e JobStateChangedEvent) IsTerminal() bool {
	return e.State == "complete" || e.State == "error"
}

// JobProgressEvent reports frames submitted so far.
type JobProgressEvent struct {
	JobID       string `json:"job_id" doc:"Job identifier"`
	FramesDone  int    `json:"frames_done" example:"120" doc:"Frames encoded so far"`
	FramesTotal int    `json:"frames_total" example:"300" doc:"Total output frames"`
	Timestamp   string `json:"timestamp" example:"2026-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for JobProgressEvent.
func (e JobProgressEvent) Type() uint32 { return TypeJobProgress }

// JobMetricsEvent carries periodic render throughput for a running job.
type JobMetricsEvent struct {
	EventType    string `json:"type"`
	JobID        string `json:"job_id"`
	FPS          string `json:"fps"`
	BufferDepth  string `json:"buffer_depth"`
	FreezeFrames string `json:"freeze_frames"`
}

// Type returns the event type identifier for JobMetricsEvent.
func (e JobMetricsEvent) Type() uint32 { return TypeJobMetrics }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2026-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pipeline" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
