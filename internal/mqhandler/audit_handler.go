package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"projectflow/pkg/logger"
	"projectflow/pkg/mq"
	"projectflow/pkg/trace"

	"go.uber.org/zap"
)

// auditEnvelope holds the fields shared by every workflow event payload.
type auditEnvelope struct {
	ProjectID string `json:"project_id"`
	GateID    string `json:"gate_id,omitempty"`
	DefectID  string `json:"defect_id,omitempty"`
	FromPhase *int   `json:"from_phase,omitempty"`
	ToPhase   *int   `json:"to_phase,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// AuditHandler writes every consumed workflow event to the structured log.
type AuditHandler struct {
	routingKey string
	logger     *zap.Logger
}

func NewAuditHandler(routingKey string, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{
		routingKey: routingKey,
		logger:     logger,
	}
}

func (h *AuditHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in AuditHandler", zap.Any("panic", r))
		}
	}()

	var env auditEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.logger.Error("Failed to unmarshal event (non-retryable, sending to DLQ)",
			zap.Error(err),
			zap.String("raw_payload", string(raw)),
		)
		return fmt.Errorf("%w: json_unmarshal_error: %v", mq.ErrPermanent, err)
	}
	if env.TraceID != "" {
		ctx = trace.WithContext(ctx, env.TraceID)
	}

	fields := []zap.Field{
		zap.String("binding", h.routingKey),
		zap.String("project_id", env.ProjectID),
	}
	if env.GateID != "" {
		fields = append(fields, zap.String("gate_id", env.GateID))
	}
	if env.DefectID != "" {
		fields = append(fields, zap.String("defect_id", env.DefectID))
	}
	if env.FromPhase != nil && env.ToPhase != nil {
		fields = append(fields, zap.Int("from_phase", *env.FromPhase), zap.Int("to_phase", *env.ToPhase))
	}
	fields = append(fields, zap.ByteString("payload", raw))

	logger.WithTrace(ctx, h.logger).Info("Workflow event", fields...)
	return nil
}
