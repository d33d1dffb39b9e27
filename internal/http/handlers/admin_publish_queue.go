package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/workcore/internal/publish/queue"
)

// PublishQueueHandler exposes the Publish Scheduler's in-memory per-type
// queues for operator inspection — read-only, no admin mutation of queue
// order is exposed over HTTP.
type PublishQueueHandler struct {
	queue *queue.Manager
}

func NewPublishQueueHandler(q *queue.Manager) *PublishQueueHandler {
	return &PublishQueueHandler{queue: q}
}

type publishQueueEntryResponse struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Position   int    `json:"position"`
	QueuedAt   string `json:"queuedAt"`
}

// List handles GET /admin/publish/queue?entityType=. With entityType it
// returns that type's queue in position order; without it, every
// entityType currently holding queued entries.
func (h *PublishQueueHandler) List(ctx *gin.Context) {
	entityType := ctx.Query("entityType")

	types := []string{entityType}
	if entityType == "" {
		types = h.queue.GetQueuedEntityTypes()
	}

	out := make(map[string][]publishQueueEntryResponse, len(types))
	for _, t := range types {
		entries := h.queue.List(t)
		rows := make([]publishQueueEntryResponse, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, publishQueueEntryResponse{
				EntityType: e.EntityType,
				EntityID:   e.EntityID,
				Position:   e.Position,
				QueuedAt:   e.QueuedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
		out[t] = rows
	}

	ctx.JSON(http.StatusOK, gin.H{"queues": out})
}
