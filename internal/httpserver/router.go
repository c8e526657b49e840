package httpserver

import (
	"context"
	"net/http"
	"time"

	"projectflow/internal/handler"
	"projectflow/pkg/otel"
	"projectflow/pkg/rbac"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	Workflow *handler.WorkflowHandler
	Quality  *handler.QualityHandler
	Defect   *handler.DefectHandler
	// Admin is optional; admin routes are only mounted when it is set.
	Admin *handler.AdminHandler
}

type RouterConfig struct {
	JWTSecret    string
	AdminKeyHash string
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, cfg RouterConfig, store Pinger, logger *zap.Logger) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), otel.GinMiddleware(), RequestLogger(logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(AuthMiddleware(cfg.JWTSecret))
	{
		read := RequirePermission(rbac.PermissionReadPhase)

		api.GET("/phases", read, h.Workflow.ListPhases)
		api.GET("/projects/:id/phase", read, h.Workflow.GetCurrentPhase)
		api.GET("/projects/:id/phase/history", read, h.Workflow.GetTransitionHistory)
		api.POST("/projects/:id/phase/check", read, h.Workflow.CheckTransition)
		api.POST("/projects/:id/phase/transition", RequirePermission(rbac.PermissionTransitionPhase), h.Workflow.TransitionPhase)
		api.PATCH("/projects/:id/phase", RequirePermission(rbac.PermissionTransitionPhase), h.Workflow.UpdatePhaseDetails)

		api.GET("/projects/:id/quality-gates", read, h.Quality.GetProjectQualityGates)
		api.POST("/projects/:id/quality-gates", RequirePermission(rbac.PermissionCreateGate), h.Quality.CreateQualityGate)
		api.GET("/quality-gates/:id", read, h.Quality.GetQualityGate)
		api.POST("/quality-gates/:id/finalize", RequirePermission(rbac.PermissionInspectGate), h.Quality.FinalizeInspection)
		api.PATCH("/quality-gate-items/:id", RequirePermission(rbac.PermissionInspectGate), h.Quality.UpdateChecklistItem)

		api.GET("/projects/:id/defects", read, h.Defect.ListDefects)
		api.POST("/projects/:id/defects", RequirePermission(rbac.PermissionReportDefect), h.Defect.ReportDefect)
		api.GET("/defects/:id", read, h.Defect.GetDefect)
		resolve := RequirePermission(rbac.PermissionResolveDefect)
		api.POST("/defects/:id/rework", resolve, h.Defect.StartRework)
		api.POST("/defects/:id/resolve", resolve, h.Defect.ResolveDefect)
		api.POST("/defects/:id/reject", resolve, h.Defect.RejectDefect)
		api.POST("/defects/:id/close", resolve, h.Defect.CloseDefect)
	}

	if h.Admin != nil {
		admin := r.Group("/admin")
		admin.Use(AdminKeyMiddleware(cfg.AdminKeyHash))
		{
			admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}
