package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/hudrender/internal/api/models"
	"github.com/smazurov/hudrender/internal/jobs"
)

// registerJobRoutes registers all render job endpoints
func (s *Server) registerJobRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/api/jobs",
		Summary:       "Submit Render Job",
		Description:   "Validate a render request and queue it. Returns the pending job.",
		Tags:          []string{"jobs"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{400, 401, 503},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.JobRequest) (*models.JobResponse, error) {
		info, err := s.jobs.Submit(requestFromAPI(input.Body))
		if err != nil {
			return nil, mapJobError(err)
		}
		return &models.JobResponse{Body: jobToAPI(*info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/api/jobs",
		Summary:     "List Jobs",
		Description: "List all known render jobs in submission order",
		Tags:        []string{"jobs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.JobListResponse, error) {
		infos := s.jobs.List()
		out := make([]models.JobData, len(infos))
		for i, info := range infos {
			out[i] = jobToAPI(info)
		}
		return &models.JobListResponse{
			Body: models.JobListData{Jobs: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{job_id}",
		Summary:     "Get Job",
		Description: "Get the state and progress of a render job",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.JobIDInput) (*models.JobResponse, error) {
		info, err := s.jobs.Get(input.JobID)
		if err != nil {
			return nil, mapJobError(err)
		}
		return &models.JobResponse{Body: jobToAPI(*info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "cancel-job",
		Method:        http.MethodDelete,
		Path:          "/api/jobs/{job_id}",
		Summary:       "Cancel Job",
		Description:   "Cancel a pending or rendering job. No output file is left behind.",
		Tags:          []string{"jobs"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 409},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.JobIDInput) (*struct{}, error) {
		if err := s.jobs.Cancel(input.JobID); err != nil {
			return nil, mapJobError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "download-job-output",
		Method:      http.MethodGet,
		Path:        "/api/jobs/{job_id}/output",
		Summary:     "Download Output",
		Description: "Download the finalized output of a complete job",
		Tags:        []string{"jobs"},
		Errors:      []int{401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.JobIDInput) (*huma.StreamResponse, error) {
		path, err := s.jobs.OutputPath(input.JobID)
		if err != nil {
			return nil, mapJobError(err)
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, huma.Error500InternalServerError("output unavailable", err)
		}
		stat, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, huma.Error500InternalServerError("output unavailable", err)
		}

		return &huma.StreamResponse{
			Body: func(hctx huma.Context) {
				defer f.Close()
				hctx.SetHeader("Content-Type", outputContentType(path))
				hctx.SetHeader("Content-Length", strconv.FormatInt(stat.Size(), 10))
				hctx.SetHeader("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
				if _, err := io.Copy(hctx.BodyWriter(), f); err != nil {
					s.logger.Warn("Output download interrupted", "job_id", input.JobID, "error", err)
				}
			},
		}, nil
	})
}

func outputContentType(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return "application/zip"
	}
	return "video/mp4"
}

// requestFromAPI converts the API body to a job request
func requestFromAPI(b models.JobRequestData) jobs.Request {
	return jobs.Request{
		Input:          b.Input,
		OverlayLog:     b.OverlayLog,
		Output:         b.Output,
		DurationMs:     b.DurationMs,
		FPS:            b.FPS,
		Width:          b.Width,
		Height:         b.Height,
		Codec:          b.Codec,
		BitrateBps:     b.Bitrate,
		KeyInterval:    b.KeyInterval,
		EncoderBackend: b.EncoderBackend,
		OverlayBackend: b.OverlayBackend,
		Preset:         b.Preset,
		CaptureURL:     b.CaptureURL,
		SettleFrames:   b.SettleFrames,
		Compositor:     b.Compositor,
		Effects:        b.Effects,
		OutputFormat:   b.OutputFormat,
		BufferFrames:   b.BufferFrames,
	}
}

// jobToAPI converts a job snapshot to API job data
func jobToAPI(info jobs.Info) models.JobData {
	data := models.JobData{
		ID:          info.ID,
		State:       string(info.State),
		Input:       info.Input,
		Output:      info.Output,
		Format:      info.Format,
		FramesDone:  info.FramesDone,
		FramesTotal: info.FramesTotal,
		Error:       info.Error,
		ErrorCode:   info.ErrorCode,
		CreatedAt:   info.CreatedAt,
		Result:      info.Result,
	}
	if !info.StartedAt.IsZero() {
		t := info.StartedAt
		data.StartedAt = &t
	}
	if !info.FinishedAt.IsZero() {
		t := info.FinishedAt
		data.FinishedAt = &t
	}
	return data
}

// mapJobError maps job manager errors to HTTP errors
func mapJobError(err error) error {
	var jobErr *jobs.Error
	if !errors.As(err, &jobErr) {
		return huma.Error500InternalServerError("internal server error", err)
	}
	switch jobErr.Code {
	case jobs.ErrCodeNotFound:
		return huma.Error404NotFound(jobErr.Message, err)
	case jobs.ErrCodeInvalidRequest:
		return huma.Error400BadRequest(jobErr.Message, err)
	case jobs.ErrCodeNotComplete, jobs.ErrCodeFinished:
		return huma.Error409Conflict(jobErr.Message, err)
	case jobs.ErrCodeShuttingDown:
		return huma.Error503ServiceUnavailable(jobErr.Message, err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
