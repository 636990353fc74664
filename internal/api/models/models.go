package models

import (
	"time"

	"github.com/smazurov/hudrender/internal/pipeline"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
	Jobs    int    `json:"jobs" example:"2" doc:"Jobs currently tracked"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2026-01-27T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"42" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Operating system and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Job models
type JobRequestData struct {
	Input          string   `json:"input" example:"/data/session.mp4" doc:"Source MP4 path on the server"`
	OverlayLog     string   `json:"overlay_log,omitempty" example:"/data/session-hud.json" doc:"Overlay log JSON path"`
	Output         string   `json:"output,omitempty" example:"/data/session-hud.mp4" doc:"Output path; defaults next to the configured output directory"`
	DurationMs     int64    `json:"duration_ms,omitempty" minimum:"0" maximum:"86400000" example:"10000" doc:"Output duration in milliseconds; defaults to the overlay log span"`
	FPS            float64  `json:"fps,omitempty" minimum:"0" maximum:"240" example:"30" doc:"Output frame rate"`
	Width          int      `json:"width,omitempty" minimum:"0" maximum:"8192" example:"1280" doc:"Output width; defaults to the input coded width"`
	Height         int      `json:"height,omitempty" minimum:"0" maximum:"8192" example:"720" doc:"Output height; defaults to the input coded height"`
	Codec          string   `json:"codec,omitempty" example:"avc" doc:"Output codec"`
	Bitrate        int      `json:"bitrate,omitempty" minimum:"0" example:"4000000" doc:"Target bitrate in bits per second"`
	KeyInterval    int      `json:"key_interval,omitempty" minimum:"0" example:"60" doc:"Frames between forced key frames"`
	EncoderBackend string   `json:"encoder_backend,omitempty" example:"libav" doc:"Preferred encoder backend"`
	OverlayBackend string   `json:"overlay_backend,omitempty" enum:"raster,capture" example:"raster" doc:"Overlay renderer"`
	Preset         string   `json:"preset,omitempty" example:"full" doc:"Raster HUD preset"`
	CaptureURL     string   `json:"capture_url,omitempty" example:"ws://localhost:9000/surface" doc:"Capture surface URL (http, https, ws or wss)"`
	SettleFrames   int      `json:"settle_frames,omitempty" minimum:"0" example:"2" doc:"Surface frames to wait after each push"`
	Compositor     string   `json:"compositor,omitempty" enum:"auto,gpu,software" example:"auto" doc:"Compositor backend"`
	Effects        []string `json:"effects,omitempty" doc:"Post effects to enable"`
	OutputFormat   string   `json:"output_format,omitempty" enum:"mp4,png-zip" example:"mp4" doc:"Output format"`
	BufferFrames   int      `json:"buffer_frames,omitempty" minimum:"0" maximum:"8" example:"3" doc:"Decoded frames buffered ahead in buffered mode"`
}

type JobRequest struct {
	Body JobRequestData
}

type JobData struct {
	ID          string           `json:"id" example:"5f0c9a4e-1d2b-4c3a-9e8f-0a1b2c3d4e5f" doc:"Job identifier"`
	State       string           `json:"state" enum:"pending,rendering,complete,error" example:"rendering" doc:"Job state"`
	Input       string           `json:"input" example:"/data/session.mp4" doc:"Source video path"`
	Output      string           `json:"output,omitempty" example:"/data/session-hud.mp4" doc:"Output path, set only once complete"`
	Format      string           `json:"format" example:"mp4" doc:"Output format"`
	FramesDone  int              `json:"frames_done" example:"120" doc:"Frames encoded so far"`
	FramesTotal int              `json:"frames_total" example:"300" doc:"Total output frames"`
	Error       string           `json:"error,omitempty" doc:"Failure message"`
	ErrorCode   string           `json:"error_code,omitempty" example:"STARVATION" doc:"Failure code"`
	CreatedAt   time.Time        `json:"created_at" doc:"When the job was accepted"`
	StartedAt   *time.Time       `json:"started_at,omitempty" doc:"When rendering started"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty" doc:"When the job reached a terminal state"`
	Result      *pipeline.Result `json:"result,omitempty" doc:"Render summary for finished jobs"`
}

type JobResponse struct {
	Body JobData
}

type JobListData struct {
	Jobs  []JobData `json:"jobs" doc:"Known jobs in submission order"`
	Count int       `json:"count" example:"2" doc:"Number of jobs"`
}

type JobListResponse struct {
	Body JobListData
}

type JobIDInput struct {
	JobID string `path:"job_id" example:"5f0c9a4e-1d2b-4c3a-9e8f-0a1b2c3d4e5f" doc:"Job identifier"`
}

// Log models
type LogsInput struct {
	Module string `query:"module" example:"pipeline" doc:"Only entries from this module"`
	Level  string `query:"level" enum:"debug,info,warn,error" example:"warn" doc:"Minimum level"`
	Limit  int    `query:"limit" minimum:"0" example:"100" doc:"Maximum entries, newest last"`
}

type LogEntryData struct {
	Timestamp  time.Time      `json:"timestamp" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"pipeline" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

type LogsData struct {
	Entries []LogEntryData `json:"entries" doc:"Buffered log entries"`
	Count   int            `json:"count" example:"20" doc:"Number of entries"`
}

type LogsResponse struct {
	Body LogsData
}
