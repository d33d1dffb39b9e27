package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/workcore/internal/clock"
	"github.com/geocoder89/workcore/internal/http/handlers"
	"github.com/geocoder89/workcore/internal/publish/queue"
)

func TestPublishQueueHandler_List_FiltersByEntityType(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mgr := queue.New(clock.Real)
	mgr.Add("note", "note-1")
	mgr.Add("flashcard-deck", "deck-1")

	h := handlers.NewPublishQueueHandler(mgr)

	r := gin.New()
	r.GET("/admin/publish/queue", h.List)

	req := httptest.NewRequest(http.MethodGet, "/admin/publish/queue?entityType=note", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "note-1") {
		t.Fatalf("expected response to contain note-1, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "deck-1") {
		t.Fatalf("expected response to exclude deck-1 when filtered by entityType=note, got %s", w.Body.String())
	}
}

func TestPublishQueueHandler_List_NoFilterReturnsAllQueuedTypes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mgr := queue.New(clock.Real)
	mgr.Add("note", "note-1")
	mgr.Add("flashcard-deck", "deck-1")

	h := handlers.NewPublishQueueHandler(mgr)

	r := gin.New()
	r.GET("/admin/publish/queue", h.List)

	req := httptest.NewRequest(http.MethodGet, "/admin/publish/queue", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	for _, want := range []string{"note-1", "deck-1"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Fatalf("expected response to contain %q, got %s", want, w.Body.String())
		}
	}
}
