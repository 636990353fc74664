package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/hudrender/internal/events"
	"github.com/smazurov/hudrender/internal/metrics/exporters"
)

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time job lifecycle, progress and render metrics. The current state of every known job is sent first.",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"job-created":       events.JobCreatedEvent{},
			"job-state-changed": events.JobStateChangedEvent{},
			"job-progress":      events.JobProgressEvent{},
		}
		maps.Copy(eventTypes, exporters.GetEventTypesForEndpoint("events"))
		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 64)

		// Subscribe before the snapshot so no transition falls in between
		unsubscribers := []func() int64{
			events.SubscribeToChannel[events.JobCreatedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobProgressEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.JobMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			var dropped int64
			for _, unsub := range unsubscribers {
				dropped += unsub()
			}
			if dropped > 0 {
				s.logger.Debug("SSE client fell behind", "dropped_events", dropped)
			}
		}()

		if s.jobs != nil {
			now := time.Now().Format(time.RFC3339)
			for _, info := range s.jobs.List() {
				if err := send.Data(events.JobStateChangedEvent{
					JobID:     info.ID,
					State:     string(info.State),
					Error:     info.Error,
					Output:    info.Output,
					Timestamp: now,
				}); err != nil {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
