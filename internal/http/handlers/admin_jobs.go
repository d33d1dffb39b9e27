package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/workcore/internal/actorctx"
	"github.com/geocoder89/workcore/internal/http/middlewares"
	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/queuestore"
)

// JobsService is the slice of jobqueue.Service the admin surface depends on.
type JobsService interface {
	ListJobs(ctx context.Context, status queuestore.Status, limit, offset int) ([]queuestore.Job, error)
	GetJob(ctx context.Context, jobID string) (queuestore.Job, error)
	RetryJob(ctx context.Context, jobID string) error
	RetryDeadJobs(ctx context.Context, limit int) (int, error)
}

type AdminJobsHandler struct {
	jobs JobsService
}

func NewAdminJobsHandler(jobs JobsService) *AdminJobsHandler {
	return &AdminJobsHandler{jobs: jobs}
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func jobResponse(j queuestore.Job) gin.H {
	return gin.H{
		"id":           j.ID,
		"type":         j.Type,
		"status":       j.Status,
		"priority":     j.Priority,
		"scheduledFor": j.ScheduledFor,
		"createdAt":    j.CreatedAt,
		"startedAt":    j.StartedAt,
		"completedAt":  j.CompletedAt,
		"retryCount":   j.RetryCount,
		"maxRetries":   j.MaxRetries,
		"lastError":    j.LastError,
		"result":       j.Result,
		"metadata":     j.Metadata,
		"source":       j.Source,
	}
}

// List handles GET /admin/jobs?status=&limit=&offset=.
func (h *AdminJobsHandler) List(ctx *gin.Context) {
	status := queuestore.Status(ctx.Query("status"))
	if status != "" && !status.IsValid() {
		RespondBadRequest(ctx, "invalid status filter", nil)
		return
	}

	limit := parseInt(ctx.Query("limit"), 50)
	if limit < 1 || limit > 200 {
		RespondBadRequest(ctx, "limit must be between 1 and 200", nil)
		return
	}

	offset := parseInt(ctx.Query("offset"), 0)
	if offset < 0 {
		RespondBadRequest(ctx, "offset must be >= 0", nil)
		return
	}

	jobs, err := h.jobs.ListJobs(ctx.Request.Context(), status, limit, offset)
	if err != nil {
		RespondInternal(ctx, "failed to list jobs")
		return
	}

	rows := make([]gin.H, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, jobResponse(j))
	}
	ctx.JSON(http.StatusOK, gin.H{"jobs": rows, "limit": limit, "offset": offset})
}

// GetByID handles GET /admin/jobs/:id.
func (h *AdminJobsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	j, err := h.jobs.GetJob(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, queuestore.ErrJobNotFound) {
			RespondNotFound(ctx, "job not found")
			return
		}
		RespondInternal(ctx, "failed to load job")
		return
	}

	ctx.JSON(http.StatusOK, jobResponse(j))
}

// actorRequestContext stashes the authenticated admin's user id (set by
// middlewares.AuthMiddleware) onto the request's context.Context, so a
// mutating handler's audit log line carries who acted without plumbing the
// gin.Context itself down into jobqueue.
func actorRequestContext(ctx *gin.Context) context.Context {
	reqCtx := ctx.Request.Context()
	if userID, ok := middlewares.UserIDFromContext(ctx); ok {
		reqCtx = actorctx.WithUserID(reqCtx, userID)
	}
	return reqCtx
}

// Retry handles POST /admin/jobs/:id/retry — an operator-initiated retry
// that bypasses backoff, distinct from the worker's automatic retry.
func (h *AdminJobsHandler) Retry(ctx *gin.Context) {
	id := ctx.Param("id")
	reqCtx := actorRequestContext(ctx)

	if err := h.jobs.RetryJob(reqCtx, id); err != nil {
		switch {
		case errors.Is(err, queuestore.ErrJobNotFound):
			RespondNotFound(ctx, "job not found")
		case errors.Is(err, jobqueue.ErrJobNotFailed):
			RespondConflict(ctx, "job_not_failed", "only failed jobs can be retried")
		default:
			RespondInternal(ctx, "failed to retry job")
		}
		return
	}

	if actor, ok := actorctx.UserIDFrom(reqCtx); ok {
		slog.Default().InfoContext(reqCtx, "admin.job_retried", "job_id", id, "actor", actor)
	}
	ctx.Status(http.StatusNoContent)
}

// ReprocessDead handles POST /admin/jobs/reprocess-dead?limit= — bulk
// retries the most recently created failed jobs, up to limit.
func (h *AdminJobsHandler) ReprocessDead(ctx *gin.Context) {
	limit := parseInt(ctx.Query("limit"), 50)
	if limit < 1 || limit > 500 {
		RespondBadRequest(ctx, "limit must be between 1 and 500", nil)
		return
	}

	reqCtx := actorRequestContext(ctx)
	requeued, err := h.jobs.RetryDeadJobs(reqCtx, limit)
	if err != nil {
		RespondInternal(ctx, "failed to reprocess dead jobs")
		return
	}

	if actor, ok := actorctx.UserIDFrom(reqCtx); ok {
		slog.Default().InfoContext(reqCtx, "admin.jobs_reprocessed", "requeued", requeued, "actor", actor)
	}
	ctx.JSON(http.StatusOK, gin.H{"requeued": requeued})
}
