// Package logging provides structured logging with per-module log levels.
//
// Initialize once at startup, then obtain module loggers:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"pipeline": "debug",
//			"api":      "warn",
//		},
//	})
//
//	logger := logging.GetLogger("pipeline").With("job_id", id)
//	logger.Info("Render started", "frames", total)
//
// Records go to stdout (text or json) when stdout is attached, to the systemd
// journal when journald is reachable, and always to an in-memory ring buffer
// that backs GET /api/logs.
//
// Journal fields are upper-cased attribute keys, so a job can be followed with:
//
//	journalctl -t hudrender JOB_ID=<id>
package logging
