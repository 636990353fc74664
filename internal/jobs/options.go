package jobs

import (
	"github.com/smazurov/hudrender/internal/codec"
	"github.com/smazurov/hudrender/internal/events"
	"github.com/smazurov/hudrender/internal/logging"
)

// StateChangeCallback is called after every job state transition.
// Used for domain-specific reactions (e.g., NATS publishing).
type StateChangeCallback func(info Info, oldState State)

// ManagerOptions configures a new Manager.
type ManagerOptions struct {
	// Workers is the number of jobs rendering at once (default 1).
	Workers int

	// Defaults fill empty request fields. Replace them later with SetDefaults.
	Defaults Defaults

	// Registry supplies codec backends (default pipeline.DefaultRegistry()).
	Registry *codec.Registry

	// TempDir holds partial outputs (default: next to the output).
	TempDir string

	// EventBus receives job events (optional).
	EventBus *events.Bus

	// OnStateChange is called when job state transitions (optional).
	OnStateChange StateChangeCallback

	// Logger for manager operations. If nil, uses the "jobs" module logger.
	Logger logging.Logger
}
