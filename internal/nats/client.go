package nats

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// JobClient publishes job messages and receives cancel commands.
// Gracefully degrades when NATS is unavailable.
type JobClient struct {
	url       string
	conn      *nats.Conn
	sub       *nats.Subscription
	logger    *slog.Logger
	mu        sync.RWMutex
	onCancel  func(jobID, reason string)
	connected bool
}

// NewJobClient creates a new NATS client for the render server.
func NewJobClient(url string, logger *slog.Logger) *JobClient {
	if logger == nil {
		logger = slog.Default()
	}

	return &JobClient{
		url:    url,
		logger: logger.With("component", "nats-client"),
	}
}

// Connect establishes a connection to the NATS server.
// The returned error is informational; the client stays usable offline.
func (c *JobClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []nats.Option{
		nats.Name("hudrender"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			} else {
				c.logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.connected = true
			c.logger.Info("NATS reconnected")
			c.subscribeControlLocked()
		}),
	}

	conn, err := nats.Connect(c.url, opts...)
	if err != nil {
		c.logger.Warn("Failed to connect to NATS, running in offline mode", "error", err)
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to NATS", "url", c.url)

	c.subscribeControlLocked()
	return nil
}

// subscribeControlLocked subscribes to cancel commands (must hold lock).
func (c *JobClient) subscribeControlLocked() {
	if c.conn == nil || c.onCancel == nil {
		return
	}

	onCancel := c.onCancel
	sub, err := c.conn.Subscribe(SubjectControlPrefix+".*.cancel", func(msg *nats.Msg) {
		ctrl, err := UnmarshalControl(msg.Data)
		if err != nil {
			c.logger.Warn("Failed to unmarshal control message", "error", err)
			return
		}
		if ctrl.JobID == "" {
			ctrl.JobID = jobIDFromSubject(msg.Subject)
		}

		c.logger.Info("Received control command", "action", ctrl.Action, "job_id", ctrl.JobID, "reason", ctrl.Reason)
		if ctrl.Action == "cancel" && ctrl.JobID != "" {
			onCancel(ctrl.JobID, ctrl.Reason)
		}
	})
	if err != nil {
		c.logger.Warn("Failed to subscribe to control commands", "error", err)
		return
	}

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.sub = sub
}

// jobIDFromSubject extracts {job_id} from hudrender.control.{job_id}.cancel.
func jobIDFromSubject(subject string) string {
	rest, ok := strings.CutPrefix(subject, SubjectControlPrefix+".")
	if !ok {
		return ""
	}
	id, _, ok := strings.Cut(rest, ".")
	if !ok {
		return ""
	}
	return id
}

// OnCancel sets the callback for cancel commands.
func (c *JobClient) OnCancel(fn func(jobID, reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCancel = fn

	if c.conn != nil && c.connected {
		c.subscribeControlLocked()
	}
}

// PublishState publishes a job state change.
// No-op if not connected (graceful degradation).
func (c *JobClient) PublishState(m StateMessage) {
	data, err := m.Marshal()
	if err != nil {
		c.logger.Warn("Failed to marshal state", "error", err)
		return
	}
	c.publish(SubjectJobState(m.JobID), data)
}

// PublishProgress publishes job progress.
// No-op if not connected (graceful degradation).
func (c *JobClient) PublishProgress(m ProgressMessage) {
	data, err := m.Marshal()
	if err != nil {
		c.logger.Warn("Failed to marshal progress", "error", err)
		return
	}
	c.publish(SubjectJobProgress(m.JobID), data)
}

func (c *JobClient) publish(subject string, data []byte) {
	c.mu.RLock()
	conn := c.conn
	connected := c.connected
	c.mu.RUnlock()

	if conn == nil || !connected {
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		c.logger.Warn("Failed to publish", "subject", subject, "error", err)
	}
}

// IsConnected returns true if connected to NATS.
func (c *JobClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil
}

// Close closes the NATS connection.
func (c *JobClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.connected = false
	c.logger.Debug("NATS client closed")
}
