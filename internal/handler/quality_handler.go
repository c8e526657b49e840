package handler

import (
	"net/http"

	"projectflow/internal/model"
	"projectflow/internal/quality"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type QualityHandler struct {
	gates  *quality.GateService
	logger *zap.Logger
}

func NewQualityHandler(gates *quality.GateService, logger *zap.Logger) *QualityHandler {
	return &QualityHandler{
		gates:  gates,
		logger: logger,
	}
}

// CreateQualityGate handles POST /projects/:id/quality-gates
func (h *QualityHandler) CreateQualityGate(c *gin.Context) {
	var req struct {
		Phase       int                    `json:"phase" binding:"required"`
		GateType    string                 `json:"gate_type" binding:"required"`
		Items       []model.ChecklistEntry `json:"items"`
		InspectorID *string                `json:"inspector_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: phase and gate_type are required")
		return
	}

	gate, err := h.gates.CreateQualityGate(c.Request.Context(), quality.CreateGateRequest{
		ProjectID:   c.Param("id"),
		Phase:       model.Phase(req.Phase),
		GateType:    model.GateType(req.GateType),
		Items:       req.Items,
		InspectorID: req.InspectorID,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to create quality gate")
		return
	}
	c.JSON(http.StatusCreated, gate)
}

// GetProjectQualityGates handles GET /projects/:id/quality-gates
func (h *QualityHandler) GetProjectQualityGates(c *gin.Context) {
	gates, err := h.gates.GetProjectQualityGates(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "failed to list quality gates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"quality_gates": gates})
}

// GetQualityGate handles GET /quality-gates/:id
func (h *QualityHandler) GetQualityGate(c *gin.Context) {
	gate, err := h.gates.GetQualityGate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "failed to get quality gate")
		return
	}
	c.JSON(http.StatusOK, gate)
}

// UpdateChecklistItem handles PATCH /quality-gate-items/:id
func (h *QualityHandler) UpdateChecklistItem(c *gin.Context) {
	var req struct {
		Passed   *bool    `json:"passed" binding:"required"`
		Comments *string  `json:"comments"`
		Photos   []string `json:"photos"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: passed is required")
		return
	}

	item, err := h.gates.UpdateChecklistItem(c.Request.Context(), c.Param("id"), quality.ChecklistUpdate{
		Passed:   *req.Passed,
		Comments: req.Comments,
		Photos:   req.Photos,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to update checklist item")
		return
	}
	c.JSON(http.StatusOK, item)
}

// FinalizeInspection handles POST /quality-gates/:id/finalize
func (h *QualityHandler) FinalizeInspection(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Passed   *bool   `json:"passed" binding:"required"`
		Comments *string `json:"comments"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: passed is required")
		return
	}

	gate, err := h.gates.FinalizeInspection(c.Request.Context(), c.Param("id"), *req.Passed, userID, req.Comments)
	if err != nil {
		respondError(c, h.logger, err, "failed to finalize inspection")
		return
	}
	c.JSON(http.StatusOK, gate)
}
