package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/render-farm/internal/api/dto"
	"github.com/cuongbtq/render-farm/internal/domain"
	"github.com/cuongbtq/render-farm/internal/objectstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /api/v1/jobs
// Validates a job spec and fans it out into per-frame render tasks
func (h *JobHandler) CreateJob(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, h.maxSpecBytes+1))
	if err != nil {
		h.logger.Error("Failed to read request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if int64(len(body)) > h.maxSpecBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "Job spec is too large"})
		return
	}

	h.submit(c, body, "request")
}

// ImportJob handles POST /api/v1/jobs/import
// Reads a job spec document from the object store and submits it
func (h *JobHandler) ImportJob(c *gin.Context) {
	var req dto.ImportJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "bucket and key are required"})
		return
	}

	rc, err := h.objects.Open(c.Request.Context(), req.Bucket, req.Key)
	if err != nil {
		h.logger.Error("Failed to open job spec",
			append([]any{slog.String("bucket", req.Bucket), slog.String("key", req.Key)}, domain.ErrorAttrs(err)...)...,
		)
		if objectstore.IsNotFound(err) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job spec not found"})
			return
		}
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "Failed to read job spec"})
		return
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, h.maxSpecBytes+1))
	if err != nil {
		h.logger.Error("Failed to read job spec", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: "Failed to read job spec"})
		return
	}
	if int64(len(body)) > h.maxSpecBytes {
		c.JSON(http.StatusRequestEntityTooLarge, dto.ErrorResponse{Error: "Job spec is too large"})
		return
	}

	h.submit(c, body, fmt.Sprintf("%s/%s", req.Bucket, req.Key))
}

func (h *JobHandler) submit(c *gin.Context, body []byte, origin string) {
	spec, err := ParseJobSpec(body)
	if err != nil {
		h.respondError(c, err, origin)
		return
	}

	res, err := h.submitter.Submit(c.Request.Context(), spec)
	if err != nil {
		if errors.Is(err, domain.ErrPartialEnqueue) && res != nil {
			h.logger.Error("Job partially enqueued",
				slog.String("job_id", res.Job.JobID),
				slog.String("origin", origin),
				slog.Int("failed", len(res.Failed)),
			)
			c.JSON(http.StatusServiceUnavailable, dto.NewSubmitJobResponse(res))
			return
		}
		h.respondError(c, err, origin)
		return
	}

	h.logger.Info("Job accepted",
		slog.String("job_id", res.Job.JobID),
		slog.String("origin", origin),
		slog.Int("frame_count", res.Job.FrameCount),
	)
	c.JSON(http.StatusAccepted, dto.NewSubmitJobResponse(res))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the metadata record of a job that has not expired
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id must be a valid UUID", Field: "job_id"})
		return
	}

	rec, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job not found"})
			return
		}
		h.respondError(c, err, jobID)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(rec))
}

func (h *JobHandler) respondError(c *gin.Context, err error, origin string) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		h.logger.Warn("Rejected job spec",
			slog.String("origin", origin),
			slog.String("field", vErr.Field),
			slog.String("reason", vErr.Reason),
		)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: vErr.Error(), Field: vErr.Field})
	case domain.IsDependency(err):
		h.logger.Error("Dependency failure",
			append([]any{slog.String("origin", origin)}, domain.ErrorAttrs(err)...)...,
		)
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "A backing service is unavailable, try again later"})
	default:
		h.logger.Error("Request failed",
			append([]any{slog.String("origin", origin)}, domain.ErrorAttrs(err)...)...,
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}
