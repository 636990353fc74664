package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes for NATS topics.
const (
	SubjectJobsPrefix    = "hudrender.jobs"
	SubjectControlPrefix = "hudrender.control"
)

// SubjectJobState returns the full NATS subject for job state changes.
func SubjectJobState(jobID string) string {
	return fmt.Sprintf("%s.%s.state", SubjectJobsPrefix, jobID)
}

// SubjectJobProgress returns the full NATS subject for job progress.
func SubjectJobProgress(jobID string) string {
	return fmt.Sprintf("%s.%s.progress", SubjectJobsPrefix, jobID)
}

// SubjectControlCancel returns the NATS subject for cancel commands.
func SubjectControlCancel(jobID string) string {
	return fmt.Sprintf("%s.%s.cancel", SubjectControlPrefix, jobID)
}

// StateMessage represents a job state change sent over NATS.
type StateMessage struct {
	JobID     string `json:"job_id"`
	Timestamp string `json:"timestamp"`
	State     string `json:"state"` // pending, rendering, complete, error
	Error     string `json:"error,omitempty"`
	Output    string `json:"output,omitempty"`
}

// Marshal serializes the message to JSON.
func (m StateMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ProgressMessage reports frames submitted so far.
type ProgressMessage struct {
	JobID       string `json:"job_id"`
	Timestamp   string `json:"timestamp"`
	FramesDone  int    `json:"frames_done"`
	FramesTotal int    `json:"frames_total"`
}

// Marshal serializes the message to JSON.
func (m ProgressMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ControlMessage represents a control command for a job.
type ControlMessage struct {
	Action    string `json:"action"` // cancel
	JobID     string `json:"job_id"`
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalState deserializes a StateMessage from JSON.
func UnmarshalState(data []byte) (StateMessage, error) {
	var m StateMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalProgress deserializes a ProgressMessage from JSON.
func UnmarshalProgress(data []byte) (ProgressMessage, error) {
	var m ProgressMessage
	err := json.Unmarshal(data, &m)
	return m, err
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
