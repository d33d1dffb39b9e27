package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/workcore/internal/batch"
	"github.com/geocoder89/workcore/internal/bus"
	"github.com/geocoder89/workcore/internal/http/handlers"
)

func TestBatchHandler_GetByID_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mgr := batch.New(nil, bus.New())
	h := handlers.NewBatchHandler(mgr)

	r := gin.New()
	r.GET("/admin/batches/:id", h.GetByID)

	req := httptest.NewRequest(http.MethodGet, "/admin/batches/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
	}
}
