package handler

import (
	"net/http"

	"projectflow/internal/model"
	"projectflow/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WorkflowHandler struct {
	workflow *workflow.Service
	logger   *zap.Logger
}

func NewWorkflowHandler(svc *workflow.Service, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		workflow: svc,
		logger:   logger,
	}
}

type phaseRequest struct {
	ToPhase *int `json:"to_phase" binding:"required"`
}

// ListPhases handles GET /phases
func (h *WorkflowHandler) ListPhases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"phases": workflow.Phases()})
}

// GetCurrentPhase handles GET /projects/:id/phase
func (h *WorkflowHandler) GetCurrentPhase(c *gin.Context) {
	state, err := h.workflow.GetCurrentPhase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "failed to get current phase")
		return
	}
	c.JSON(http.StatusOK, state)
}

// TransitionPhase handles POST /projects/:id/phase/transition
func (h *WorkflowHandler) TransitionPhase(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req phaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: to_phase is required")
		return
	}

	state, err := h.workflow.TransitionPhase(c.Request.Context(), c.Param("id"), model.Phase(*req.ToPhase), userID)
	if err != nil {
		respondError(c, h.logger, err, "failed to transition phase")
		return
	}
	c.JSON(http.StatusOK, state)
}

// CheckTransition handles POST /projects/:id/phase/check
func (h *WorkflowHandler) CheckTransition(c *gin.Context) {
	var req phaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: to_phase is required")
		return
	}

	res, err := h.workflow.CheckTransition(c.Request.Context(), c.Param("id"), model.Phase(*req.ToPhase))
	if err != nil {
		respondError(c, h.logger, err, "failed to check transition")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed":          res.Allowed,
		"checks":           res.Checks,
		"blocking_reasons": res.BlockingReasons(),
		"rejection":        res.Rejection,
	})
}

// GetTransitionHistory handles GET /projects/:id/phase/history
func (h *WorkflowHandler) GetTransitionHistory(c *gin.Context) {
	records, err := h.workflow.GetTransitionHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "failed to get transition history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": records})
}

// UpdatePhaseDetails handles PATCH /projects/:id/phase
func (h *WorkflowHandler) UpdatePhaseDetails(c *gin.Context) {
	var req model.PhaseDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	state, err := h.workflow.UpdatePhaseDetails(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, h.logger, err, "failed to update phase details")
		return
	}
	c.JSON(http.StatusOK, state)
}
