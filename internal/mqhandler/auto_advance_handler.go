package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	mqcontracts "projectflow/contracts/mq"
	"projectflow/internal/apperr"
	"projectflow/internal/model"
	"projectflow/internal/workflow"
	"projectflow/pkg/logger"
	"projectflow/pkg/mq"
	"projectflow/pkg/trace"
	"projectflow/pkg/util"

	"go.uber.org/zap"
)

const autoAdvanceHandlerName = "auto_advance"

// PhaseAdvancer is the part of the workflow service the handler drives.
type PhaseAdvancer interface {
	GetCurrentPhase(ctx context.Context, projectID string) (*model.ProjectPhaseState, error)
	TransitionPhase(ctx context.Context, projectID string, toPhase model.Phase, triggeredBy string, opts ...workflow.TransitionOption) (*model.ProjectPhaseState, error)
}

// AutoAdvanceHandler moves a project into the next phase when the gate that
// guards entry into that phase passes inspection. The transition goes through the same
// validator as a manual one.
type AutoAdvanceHandler struct {
	workflow     PhaseAdvancer
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	maxRetries   int64
	logger       *zap.Logger
}

func NewAutoAdvanceHandler(
	wf PhaseAdvancer,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	maxRetries int,
	logger *zap.Logger,
) *AutoAdvanceHandler {
	return &AutoAdvanceHandler{
		workflow:     wf,
		deduper:      deduper,
		retryCounter: retryCounter,
		maxRetries:   int64(maxRetries),
		logger:       logger,
	}
}

// Handle consumes quality.inspection.passed.
func (h *AutoAdvanceHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.InspectionFinalizedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Invalid InspectionFinalizedPayload, sending to DLQ",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: bad payload: %v", mq.ErrPermanent, err)
	}

	if p.TraceID != "" {
		ctx = trace.WithContext(ctx, p.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("gate_id", p.GateID),
		zap.String("project_id", p.ProjectID),
		zap.Int("gate_phase", p.Phase),
	)

	if !p.Passed || p.ProjectID == "" {
		return nil
	}

	gatePhase := model.Phase(p.Phase)
	if !gatePhase.Valid() || gatePhase == model.LastPhase {
		log.Debug("No phase to advance into")
		return nil
	}
	// 只有守卫下一阶段入口的闸口才触发推进
	next := gatePhase + 1
	req := workflow.EntryRequirement(next).Gate
	if req == nil || req.Phase != gatePhase || req.GateType != model.GateType(p.GateType) {
		log.Debug("Gate does not guard the next phase, skip auto-advance",
			zap.String("gate_type", p.GateType),
		)
		return nil
	}

	state, err := h.workflow.GetCurrentPhase(ctx, p.ProjectID)
	if err != nil {
		return h.handleError(ctx, log, p.GateID, err)
	}
	// 幂等：项目已不在该闸口所属阶段
	if state.CurrentPhase != gatePhase {
		log.Info("Project not in gate phase, skip auto-advance",
			zap.Int("current_phase", int(state.CurrentPhase)),
		)
		return nil
	}

	if h.deduper != nil && !h.deduper.AcquireOnce(ctx, autoAdvanceHandlerName, p.GateID) {
		return nil
	}

	triggeredBy := p.FinalizedBy
	if triggeredBy == "" {
		triggeredBy = workflow.SystemActor
	}
	if _, err := h.workflow.TransitionPhase(ctx, p.ProjectID, next, triggeredBy,
		workflow.WithTransitionType(model.TransitionAutomatic)); err != nil {
		return h.handleError(ctx, log, p.GateID, err)
	}

	if h.retryCounter != nil {
		_ = h.retryCounter.Reset(ctx, util.FormatRetryKey(autoAdvanceHandlerName, p.GateID))
	}
	log.Info("Project auto-advanced after passed inspection", zap.Int("to_phase", int(next)))
	return nil
}

// handleError acks domain rejections, requeues retryable failures until the
// retry budget is spent, then dead-letters.
func (h *AutoAdvanceHandler) handleError(ctx context.Context, log *zap.Logger, gateID string, err error) error {
	if ve, ok := apperr.AsValidation(err); ok {
		log.Info("Auto-advance blocked by preconditions",
			zap.String("reason", string(ve.Reason)),
			zap.String("detail", ve.Message),
		)
		return nil
	}

	isRetryable, errType := util.IsRetryableError(err)
	log.Warn("Auto-advance failed",
		zap.String("error_type", errType),
		zap.Bool("retryable", isRetryable),
		zap.Error(err),
	)
	if !isRetryable {
		return fmt.Errorf("%w: %s: %v", mq.ErrPermanent, errType, err)
	}

	if h.deduper != nil {
		h.deduper.Release(ctx, autoAdvanceHandlerName, gateID)
	}
	if h.retryCounter != nil {
		key := util.FormatRetryKey(autoAdvanceHandlerName, gateID)
		count, cerr := h.retryCounter.IncrementAndGet(ctx, key)
		if cerr == nil && !util.ShouldRetry(count, h.maxRetries, true) {
			_ = h.retryCounter.Reset(ctx, key)
			return fmt.Errorf("%w: retries exhausted after %d attempts: %v", mq.ErrPermanent, count, err)
		}
	}
	return err
}
