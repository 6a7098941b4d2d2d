package controllers

import "net/http"

// RegisterRoutes wires the HTTP routes for this controller.
func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/workflows", c.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows", c.handleSearchWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", c.handleGetWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}/history", c.handleGetHistory)
	mux.HandleFunc("POST /api/workflows/{id}/transition", c.handleTransition)
	mux.HandleFunc("POST /api/workflows/{id}/pause", c.handlePause)
	mux.HandleFunc("POST /api/workflows/{id}/resume", c.handleResume)
	mux.HandleFunc("POST /api/workflows/{id}/cancel", c.handleCancel)
}

func (c *ItemsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workflows/{id}/items", c.handleListItems)
	mux.HandleFunc("GET /api/workflows/{id}/deadletters", c.handleListDeadLetters)
	mux.HandleFunc("POST /api/items/{id}/start", c.handleStartItem)
	mux.HandleFunc("POST /api/items/{id}/complete", c.handleCompleteItem)
	mux.HandleFunc("POST /api/items/{id}/fail", c.handleFailItem)
}

func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/executors", c.handleRegisterExecutor)
	mux.HandleFunc("POST /api/executors/{id}/heartbeat", c.handleHeartbeat)
	mux.HandleFunc("GET /api/executors", c.handleGetExecutors)
}
