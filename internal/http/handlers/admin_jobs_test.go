package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/workcore/internal/http/handlers"
	"github.com/geocoder89/workcore/internal/jobqueue"
	"github.com/geocoder89/workcore/internal/queuestore"
)

type fakeJobsService struct {
	jobs          map[string]queuestore.Job
	listErr       error
	retryErr      error
	retriedDead   int
	reprocessErr  error
	lastListedQry queuestore.Status
}

func newFakeJobsService() *fakeJobsService {
	return &fakeJobsService{jobs: make(map[string]queuestore.Job)}
}

func (f *fakeJobsService) ListJobs(_ context.Context, status queuestore.Status, limit, offset int) ([]queuestore.Job, error) {
	f.lastListedQry = status
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []queuestore.Job
	for _, j := range f.jobs {
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

func (f *fakeJobsService) GetJob(_ context.Context, jobID string) (queuestore.Job, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return queuestore.Job{}, queuestore.ErrJobNotFound
	}
	return j, nil
}

func (f *fakeJobsService) RetryJob(_ context.Context, jobID string) error {
	if f.retryErr != nil {
		return f.retryErr
	}
	j, ok := f.jobs[jobID]
	if !ok {
		return queuestore.ErrJobNotFound
	}
	if j.Status != queuestore.StatusFailed {
		return jobqueue.ErrJobNotFailed
	}
	j.Status = queuestore.StatusPending
	f.jobs[jobID] = j
	return nil
}

func (f *fakeJobsService) RetryDeadJobs(_ context.Context, limit int) (int, error) {
	return f.retriedDead, f.reprocessErr
}

func newTestRouter(h *handlers.AdminJobsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/jobs", h.List)
	r.GET("/admin/jobs/:id", h.GetByID)
	r.POST("/admin/jobs/:id/retry", h.Retry)
	r.POST("/admin/jobs/reprocess-dead", h.ReprocessDead)
	return r
}

func TestAdminJobsHandler_List_RejectsInvalidStatus(t *testing.T) {
	svc := newFakeJobsService()
	r := newTestRouter(handlers.NewAdminJobsHandler(svc))

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs?status=bogus", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestAdminJobsHandler_List_RejectsOutOfRangeLimit(t *testing.T) {
	svc := newFakeJobsService()
	r := newTestRouter(handlers.NewAdminJobsHandler(svc))

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs?limit=500", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAdminJobsHandler_GetByID_NotFound(t *testing.T) {
	svc := newFakeJobsService()
	r := newTestRouter(handlers.NewAdminJobsHandler(svc))

	req := httptest.NewRequest(http.MethodGet, "/admin/jobs/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAdminJobsHandler_Retry_RejectsNonFailedJob(t *testing.T) {
	svc := newFakeJobsService()
	svc.jobs["job-1"] = queuestore.Job{ID: "job-1", Status: queuestore.StatusRunning, CreatedAt: time.Now()}
	r := newTestRouter(handlers.NewAdminJobsHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/retry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestAdminJobsHandler_Retry_RequeuesFailedJob(t *testing.T) {
	svc := newFakeJobsService()
	svc.jobs["job-1"] = queuestore.Job{ID: "job-1", Status: queuestore.StatusFailed, CreatedAt: time.Now()}
	r := newTestRouter(handlers.NewAdminJobsHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/job-1/retry", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNoContent, w.Body.String())
	}
	if svc.jobs["job-1"].Status != queuestore.StatusPending {
		t.Fatalf("expected job to be requeued to pending, got %s", svc.jobs["job-1"].Status)
	}
}

func TestAdminJobsHandler_ReprocessDead_ReturnsRequeuedCount(t *testing.T) {
	svc := newFakeJobsService()
	svc.retriedDead = 7
	r := newTestRouter(handlers.NewAdminJobsHandler(svc))

	req := httptest.NewRequest(http.MethodPost, "/admin/jobs/reprocess-dead", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if want := `"requeued":7`; !strings.Contains(w.Body.String(), want) {
		t.Fatalf("expected body to contain %q, got %s", want, w.Body.String())
	}
}
