// Package jobs runs render jobs in the background.
//
// A Manager accepts render requests, turns them into pipeline jobs and runs
// them in submission order on a fixed number of workers:
//   - Submit/Get/List/Cancel by job ID
//   - State tracking (pending, rendering, complete, error)
//   - Progress and state events on the event bus
//   - Per-job throughput metrics while rendering
//   - Shutdown cancels every job and waits for them to stop
//
// Example usage:
//
//	m := jobs.NewManager(&jobs.ManagerOptions{
//	    Workers:  2,
//	    EventBus: bus,
//	    OnStateChange: func(info jobs.Info, old jobs.State) {
//	        log.Printf("Job %s: %s -> %s", info.ID, old, info.State)
//	    },
//	})
//	info, err := m.Submit(jobs.Request{Input: "in.mp4", OverlayLog: "hud.json"})
//	defer m.Shutdown()
package jobs
