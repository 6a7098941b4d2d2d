package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/procurehq/bidflow/internal/engine"
	"github.com/procurehq/bidflow/internal/util"
	"github.com/procurehq/bidflow/pkg/bidflow/models"
)

// ItemsController exposes the work-item lifecycle: listing, executor progress
// reports, and the dead letter queue.
type ItemsController struct {
	Scheduler *engine.Scheduler
}

func NewItemsController(scheduler *engine.Scheduler) *ItemsController {
	return &ItemsController{Scheduler: scheduler}
}

func (c *ItemsController) handleListItems(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	items, err := c.Scheduler.ItemsByWorkflow(id)
	if err != nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, items)
}

func (c *ItemsController) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	entries, err := c.Scheduler.DeadLetters(id)
	if err != nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, entries)
}

func (c *ItemsController) handleStartItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	if err := c.Scheduler.StartItem(r.Context(), itemID); err != nil {
		c.writeItemError(w, itemID, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ReportResponse{OK: true})
}

func (c *ItemsController) handleCompleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	req, err := util.DecodeJSONBody[models.ReportCompletedRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if err := c.Scheduler.OnItemCompleted(r.Context(), itemID, req.Result); err != nil {
		c.writeItemError(w, itemID, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ReportResponse{OK: true})
}

func (c *ItemsController) handleFailItem(w http.ResponseWriter, r *http.Request) {
	itemID := r.PathValue("id")
	req, err := util.DecodeJSONBody[models.ReportFailedRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ErrorCode) == "" {
		http.Error(w, "errorCode is required", http.StatusBadRequest)
		return
	}
	if err := c.Scheduler.OnItemFailed(r.Context(), itemID, req.ErrorCode, req.Message); err != nil {
		c.writeItemError(w, itemID, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ReportResponse{OK: true})
}

func (c *ItemsController) writeItemError(w http.ResponseWriter, itemID string, err error) {
	if errors.Is(err, engine.ErrWorkItemNotFound) {
		http.Error(w, "work item not found", http.StatusNotFound)
		return
	}
	slog.Error("Work item request failed", "work_item_id", itemID, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
