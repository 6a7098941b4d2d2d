package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/procurehq/bidflow/internal/engine"
	"github.com/procurehq/bidflow/internal/util"
	"github.com/procurehq/bidflow/pkg/bidflow/domain"
	"github.com/procurehq/bidflow/pkg/bidflow/models"
)

// WorkflowsController holds dependencies for workflow HTTP endpoints.
type WorkflowsController struct {
	Phases *engine.PhaseMachine
}

func NewWorkflowsController(phases *engine.PhaseMachine) *WorkflowsController {
	return &WorkflowsController{Phases: phases}
}

func (c *WorkflowsController) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := util.DecodeJSONBody[models.CreateWorkflowRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.BusinessKey) == "" {
		http.Error(w, "businessKey is required", http.StatusBadRequest)
		return
	}

	wf, err := c.Phases.Create(r.Context(), req.WorkflowID, req.BusinessKey, req.InitialPhase, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrWorkflowExists):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, engine.ErrUnknownPhase):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			slog.Error("Failed to create workflow", "error", err)
			http.Error(w, "failed to create workflow", http.StatusInternalServerError)
		}
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.CreateWorkflowResponse{ID: wf.ID, CurrentPhase: wf.CurrentPhase})
}

func (c *WorkflowsController) handleSearchWorkflows(w http.ResponseWriter, r *http.Request) {
	businessKey := r.URL.Query().Get("businessKey")
	active := c.Phases.FindActive(businessKey)
	out := make([]models.WorkflowApiResponse, 0, len(active))
	for _, wf := range active {
		out = append(out, models.MapWorkflow(wf, false))
	}
	util.WriteJSONResponse(w, http.StatusOK, out)
}

func (c *WorkflowsController) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := c.Phases.Get(id)
	if err != nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	withHistory := r.URL.Query().Get("history") == "true"
	util.WriteJSONResponse(w, http.StatusOK, models.MapWorkflow(wf, withHistory))
}

func (c *WorkflowsController) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := c.Phases.Get(id)
	if err != nil {
		http.Error(w, "workflow not found", http.StatusNotFound)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, wf.History)
}

// handleTransition requests a manual phase transition. Rejections
// (invalid_transition, conditions_not_met) come back as a structured 200
// payload because probing readiness is a normal client pattern.
func (c *WorkflowsController) handleTransition(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := util.DecodeJSONBody[models.TransitionRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ToPhase) == "" {
		http.Error(w, "toPhase is required", http.StatusBadRequest)
		return
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	result, err := c.Phases.Transition(r.Context(), id, req.ToPhase, triggeredBy, domain.TransitionManual, req.Reason, req.Context)
	if err != nil {
		c.writeWorkflowError(w, id, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.TransitionResponse{
		Outcome:        string(result.Outcome),
		CurrentPhase:   result.Workflow.CurrentPhase,
		BlockedReasons: result.BlockedReasons,
	})
}

func (c *WorkflowsController) handlePause(w http.ResponseWriter, r *http.Request) {
	c.changeStatus(w, r, c.Phases.Pause)
}

func (c *WorkflowsController) handleResume(w http.ResponseWriter, r *http.Request) {
	c.changeStatus(w, r, c.Phases.Resume)
}

func (c *WorkflowsController) changeStatus(w http.ResponseWriter, r *http.Request, change func(ctx context.Context, workflowID, triggeredBy, reason string) error) {
	id := r.PathValue("id")
	req, err := util.DecodeJSONBody[models.PauseResumeRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}
	if err := change(r.Context(), id, triggeredBy, req.Reason); err != nil {
		c.writeWorkflowError(w, id, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ReportResponse{OK: true})
}

func (c *WorkflowsController) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := util.DecodeJSONBody[models.CancelRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	triggeredBy := req.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}
	if err := c.Phases.Cancel(r.Context(), id, triggeredBy, req.Reason, req.Cascading); err != nil {
		c.writeWorkflowError(w, id, err)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.ReportResponse{OK: true})
}

func (c *WorkflowsController) writeWorkflowError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		http.Error(w, "workflow not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrAlreadyTerminal), errors.Is(err, engine.ErrInvalidStatus):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrUnknownPhase), errors.Is(err, engine.ErrNoTransitionDefinition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slog.Error("Workflow request failed", "workflow_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
