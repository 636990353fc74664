// Package nats publishes render job activity to a NATS server and accepts
// remote cancel commands.
//
// # Architecture
//
//   - JobClient: NATS connection that publishes job messages and receives
//     control commands
//   - Bridge: Subscribes to the event bus and forwards job events to a
//     JobClient
//
// # Subject Hierarchy
//
//	hudrender.jobs.{job_id}.state      # State changes (server → subscribers)
//	hudrender.jobs.{job_id}.progress   # Frames done (server → subscribers)
//	hudrender.control.{job_id}.cancel  # Cancel command (anyone → server)
//
// The package uses fire-and-forget messaging (core NATS, no JetStream).
// The server keeps rendering when NATS is unavailable.
//
// # Debugging with nats CLI
//
// Monitor all job messages:
//
//	nats sub "hudrender.jobs.>"
//
// Cancel a job manually:
//
//	nats pub "hudrender.control.5f0c9a4e.cancel" '{"action":"cancel","job_id":"5f0c9a4e","timestamp":"2026-01-01T00:00:00Z","reason":"manual"}'
package nats
