package handler

import (
	"errors"
	"net/http"

	"projectflow/internal/apperr"
	"projectflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys set by the auth middleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
)

// currentUser 统一的 userID 读取工具
func currentUser(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	userID, ok := v.(string)
	if !ok || userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	return userID, true
}

// respondError maps the domain error taxonomy to HTTP statuses.
func respondError(c *gin.Context, log *zap.Logger, err error, msg string) {
	var nf *apperr.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error(), "entity": nf.Entity, "id": nf.ID})
	case apperr.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperr.IsValidation(err):
		ve, _ := apperr.AsValidation(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ve.Message, "validation": ve})
	default:
		logger.WithTrace(c.Request.Context(), log).Error(msg,
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
