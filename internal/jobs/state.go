package jobs

import (
	"time"

	"github.com/smazurov/hudrender/internal/pipeline"
)

// State represents the current state of a render job.
type State string

// Job states.
const (
	StatePending   State = "pending"   // Waiting for a worker slot
	StateRendering State = "rendering" // Pipeline running
	StateComplete  State = "complete"  // Output finalized
	StateError     State = "error"     // Failed or cancelled
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Info is a point-in-time view of a job.
type Info struct {
	ID          string           `json:"id"`
	State       State            `json:"state"`
	Input       string           `json:"input"`
	Output      string           `json:"output,omitempty"`
	Format      string           `json:"format"`
	FramesDone  int              `json:"frames_done"`
	FramesTotal int              `json:"frames_total"`
	Error       string           `json:"error,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   time.Time        `json:"started_at,omitzero"`
	FinishedAt  time.Time        `json:"finished_at,omitzero"`
	Result      *pipeline.Result `json:"result,omitempty"`
}
