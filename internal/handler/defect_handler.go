package handler

import (
	"net/http"

	"projectflow/internal/model"
	"projectflow/internal/quality"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DefectHandler struct {
	defects *quality.DefectService
	logger  *zap.Logger
}

func NewDefectHandler(defects *quality.DefectService, logger *zap.Logger) *DefectHandler {
	return &DefectHandler{
		defects: defects,
		logger:  logger,
	}
}

// ReportDefect handles POST /projects/:id/defects
func (h *DefectHandler) ReportDefect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		QualityGateID *string  `json:"quality_gate_id"`
		Severity      string   `json:"severity" binding:"required"`
		Description   string   `json:"description" binding:"required"`
		Location      *string  `json:"location"`
		AssignedTo    *string  `json:"assigned_to"`
		Photos        []string `json:"photos"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: severity and description are required")
		return
	}

	d, err := h.defects.ReportDefect(c.Request.Context(), quality.ReportDefectRequest{
		ProjectID:     c.Param("id"),
		QualityGateID: req.QualityGateID,
		Severity:      model.Severity(req.Severity),
		Description:   req.Description,
		Location:      req.Location,
		AssignedTo:    req.AssignedTo,
		Photos:        req.Photos,
		ReportedBy:    &userID,
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to report defect")
		return
	}
	c.JSON(http.StatusCreated, d)
}

// ListDefects handles GET /projects/:id/defects?status=&gate_id=
func (h *DefectHandler) ListDefects(c *gin.Context) {
	defects, err := h.defects.ListDefects(c.Request.Context(), c.Param("id"), model.DefectFilter{
		Status:        model.DefectStatus(c.Query("status")),
		QualityGateID: c.Query("gate_id"),
	})
	if err != nil {
		respondError(c, h.logger, err, "failed to list defects")
		return
	}
	c.JSON(http.StatusOK, gin.H{"defects": defects})
}

// GetDefect handles GET /defects/:id
func (h *DefectHandler) GetDefect(c *gin.Context) {
	d, err := h.defects.GetDefect(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err, "failed to get defect")
		return
	}
	c.JSON(http.StatusOK, d)
}

// ResolveDefect handles POST /defects/:id/resolve
func (h *DefectHandler) ResolveDefect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		ResolutionNotes string `json:"resolution_notes" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: resolution_notes is required")
		return
	}

	d, err := h.defects.ResolveDefect(c.Request.Context(), c.Param("id"), req.ResolutionNotes, userID)
	if err != nil {
		respondError(c, h.logger, err, "failed to resolve defect")
		return
	}
	c.JSON(http.StatusOK, d)
}

// StartRework handles POST /defects/:id/rework
func (h *DefectHandler) StartRework(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		AssignedTo *string `json:"assigned_to"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request")
			return
		}
	}

	d, err := h.defects.StartRework(c.Request.Context(), c.Param("id"), userID, req.AssignedTo)
	if err != nil {
		respondError(c, h.logger, err, "failed to start rework")
		return
	}
	c.JSON(http.StatusOK, d)
}

// RejectDefect handles POST /defects/:id/reject
func (h *DefectHandler) RejectDefect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: reason is required")
		return
	}

	d, err := h.defects.RejectDefect(c.Request.Context(), c.Param("id"), req.Reason, userID)
	if err != nil {
		respondError(c, h.logger, err, "failed to reject defect")
		return
	}
	c.JSON(http.StatusOK, d)
}

// CloseDefect handles POST /defects/:id/close
func (h *DefectHandler) CloseDefect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	d, err := h.defects.CloseDefect(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, h.logger, err, "failed to close defect")
		return
	}
	c.JSON(http.StatusOK, d)
}
