package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/procurehq/bidflow/internal/engine"
	"github.com/procurehq/bidflow/internal/util"
	"github.com/procurehq/bidflow/pkg/bidflow/models"
)

// ExecutorsController manages the executor capability registry.
type ExecutorsController struct {
	Registry *engine.Registry
}

func NewExecutorsController(registry *engine.Registry) *ExecutorsController {
	return &ExecutorsController{Registry: registry}
}

func (c *ExecutorsController) handleRegisterExecutor(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.RegisterExecutorRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	exec := c.Registry.Register(req.Name, req.Group, req.Capabilities)
	util.WriteJSONResponse(w, http.StatusOK, models.RegisterExecutorResponse{ID: exec.ID})
}

func (c *ExecutorsController) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := c.Registry.Heartbeat(id); err != nil {
		if errors.Is(err, engine.ErrExecutorNotFound) {
			http.Error(w, "executor not found", http.StatusNotFound)
			return
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ReportResponse{OK: true})
}

func (c *ExecutorsController) handleGetExecutors(w http.ResponseWriter, r *http.Request) {
	util.WriteJSONResponse(w, http.StatusOK, c.Registry.List())
}
