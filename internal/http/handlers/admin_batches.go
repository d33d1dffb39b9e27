package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/workcore/internal/batch"
)

// BatchHandler exposes the Batch Job Manager's live-aggregated status for
// operator inspection.
type BatchHandler struct {
	batches *batch.Manager
}

func NewBatchHandler(b *batch.Manager) *BatchHandler {
	return &BatchHandler{batches: b}
}

type batchStatusResponse struct {
	BatchID             string   `json:"batchId"`
	PluginID            string   `json:"pluginId"`
	CreatedAt           string   `json:"createdAt"`
	Status              string   `json:"status"`
	TotalOperations     int      `json:"totalOperations"`
	CompletedOperations int      `json:"completedOperations"`
	FailedOperations    int      `json:"failedOperations"`
	CurrentOperation    string   `json:"currentOperation,omitempty"`
	Errors              []string `json:"errors,omitempty"`
}

func toBatchStatusResponse(s batch.BatchStatus) batchStatusResponse {
	return batchStatusResponse{
		BatchID:             s.BatchID,
		PluginID:            s.PluginID,
		CreatedAt:           s.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		Status:              string(s.Status),
		TotalOperations:     s.TotalOperations,
		CompletedOperations: s.CompletedOperations,
		FailedOperations:    s.FailedOperations,
		CurrentOperation:    s.CurrentOperation,
		Errors:              s.Errors,
	}
}

// GetByID handles GET /admin/batches/:id.
func (h *BatchHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	status, err := h.batches.GetBatchStatus(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, batch.ErrBatchNotFound) {
			RespondNotFound(ctx, "batch not found")
			return
		}
		RespondInternal(ctx, "failed to load batch")
		return
	}

	ctx.JSON(http.StatusOK, toBatchStatusResponse(status))
}
