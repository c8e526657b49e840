// Package quality implements inspection gates and non-conformance reports.
package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqcontracts "projectflow/contracts/mq"
	"projectflow/internal/apperr"
	"projectflow/internal/model"
	"projectflow/internal/repository"
	"projectflow/pkg/logger"
	"projectflow/pkg/metrics"
	"projectflow/pkg/outbox"
	"projectflow/pkg/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// GateService 管理质量闸口及其检查项
type GateService struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewGateService(store repository.Store, logger *zap.Logger) *GateService {
	return &GateService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *GateService) WithClock(now func() time.Time) *GateService {
	s.now = now
	return s
}

// CreateGateRequest 创建闸口参数
type CreateGateRequest struct {
	ProjectID   string
	Phase       model.Phase
	GateType    model.GateType
	Items       []model.ChecklistEntry
	InspectorID *string
}

// CreateQualityGate schedules a pending gate with one unverified item per entry.
// Duplicate (project, phase, type) gates are allowed.
func (s *GateService) CreateQualityGate(ctx context.Context, req CreateGateRequest) (*model.QualityGate, error) {
	if req.ProjectID == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "project id is required")
	}
	if !req.Phase.Valid() {
		return nil, &apperr.ValidationError{
			Reason:    apperr.ReasonInvalidPhase,
			Message:   fmt.Sprintf("phase %d does not exist", int(req.Phase)),
			ProjectID: req.ProjectID,
		}
	}
	if !req.GateType.Valid() {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "unknown gate type %q", req.GateType)
	}

	now := s.now()
	gate := &model.QualityGate{
		ID:          uuid.NewString(),
		ProjectID:   req.ProjectID,
		Phase:       req.Phase,
		GateType:    req.GateType,
		InspectorID: req.InspectorID,
		Status:      model.GateStatusPending,
		Items:       make([]model.QualityGateItem, 0, len(req.Items)),
		Defects:     []model.Defect{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, entry := range req.Items {
		desc := strings.TrimSpace(entry.ItemDescription)
		if desc == "" {
			return nil, apperr.Validation(apperr.ReasonInvalidInput, "checklist item %d has no description", i+1)
		}
		gate.Items = append(gate.Items, model.QualityGateItem{
			ID:              uuid.NewString(),
			QualityGateID:   gate.ID,
			ItemDescription: desc,
			Photos:          []string{},
			Position:        i,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	err := s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		return q.InsertGate(ctx, gate)
	})
	if err != nil {
		logger.WithTrace(ctx, s.logger).Error("Failed to create quality gate",
			zap.String("project_id", req.ProjectID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create quality gate: %w", err)
	}

	logger.WithTrace(ctx, s.logger).Info("Quality gate created",
		zap.String("gate_id", gate.ID),
		zap.String("project_id", gate.ProjectID),
		zap.Int("phase", int(gate.Phase)),
		zap.String("gate_type", string(gate.GateType)),
		zap.Int("items", len(gate.Items)),
	)
	return gate, nil
}

// ChecklistUpdate 检查项更新内容；Passed 总是写入，Comments 与 Photos 为 nil 时保持不变
type ChecklistUpdate struct {
	Passed   bool
	Comments *string
	Photos   []string
}

// UpdateChecklistItem records the verification result of one item. Items of a
// finalized gate are locked.
func (s *GateService) UpdateChecklistItem(ctx context.Context, itemID string, upd ChecklistUpdate) (*model.QualityGateItem, error) {
	var result *model.QualityGateItem
	err := s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		item, err := q.GetGateItem(ctx, itemID)
		if err != nil {
			return err
		}
		gate, err := q.LockGate(ctx, item.QualityGateID)
		if err != nil {
			return err
		}
		if gate.Status.Finalized() {
			return gateError(gate, apperr.ReasonGateFinalized,
				fmt.Sprintf("quality gate %s is already %s; create a new gate to re-inspect", gate.ID, gate.Status))
		}

		now := s.now()
		passed := upd.Passed
		item.Passed = &passed
		if upd.Comments != nil {
			item.Comments = upd.Comments
		}
		if upd.Photos != nil {
			item.Photos = append([]string{}, upd.Photos...)
		}
		item.UpdatedAt = now
		if err := q.UpdateGateItem(ctx, item); err != nil {
			return err
		}

		if gate.Status == model.GateStatusPending {
			gate.Status = model.GateStatusInProgress
			gate.UpdatedAt = now
			if err := q.UpdateGate(ctx, gate); err != nil {
				return err
			}
		}
		result = item
		return nil
	})
	if err != nil {
		if apperr.IsNotFound(err) || apperr.IsValidation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update checklist item %s: %w", itemID, err)
	}

	logger.WithTrace(ctx, s.logger).Debug("Checklist item updated",
		zap.String("item_id", itemID),
		zap.String("gate_id", result.QualityGateID),
		zap.Bool("passed", upd.Passed),
	)
	return result, nil
}

// FinalizeInspection records the gate outcome. Passing requires every item to
// be verified and none to have failed; failing is always allowed.
func (s *GateService) FinalizeInspection(ctx context.Context, gateID string, passed bool, userID string, comments *string) (*model.QualityGate, error) {
	if userID == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "user id is required")
	}
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("gate_id", gateID),
		zap.Bool("passed", passed),
		zap.String("user_id", userID),
	)

	var result *model.QualityGate
	err := s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		gate, err := q.LockGate(ctx, gateID)
		if err != nil {
			return err
		}
		if gate.Status.Finalized() {
			return gateError(gate, apperr.ReasonGateFinalized,
				fmt.Sprintf("quality gate %s is already %s", gate.ID, gate.Status))
		}
		if passed {
			if err := checkItemsPassable(gate); err != nil {
				return err
			}
		}

		now := s.now()
		gate.Passed = &passed
		gate.InspectionDate = &now
		gate.Comments = comments
		gate.FinalizedBy = &userID
		gate.UpdatedAt = now
		if passed {
			gate.Status = model.GateStatusPassed
		} else {
			gate.Status = model.GateStatusFailed
		}
		if err := q.UpdateGate(ctx, gate); err != nil {
			return err
		}

		routingKey := mqcontracts.RoutingKeyInspectionFailed
		if passed {
			routingKey = mqcontracts.RoutingKeyInspectionPassed
		}
		ev, err := outbox.NewEvent(mqcontracts.AggregateQualityGate, gate.ID, routingKey,
			mqcontracts.InspectionFinalizedPayload{
				GateID:      gate.ID,
				ProjectID:   gate.ProjectID,
				Phase:       int(gate.Phase),
				GateType:    string(gate.GateType),
				Passed:      passed,
				FinalizedBy: userID,
				Timestamp:   now,
				TraceID:     trace.FromContext(ctx),
			})
		if err != nil {
			return err
		}
		if err := q.EnqueueEvent(ctx, ev); err != nil {
			return err
		}
		result = gate
		return nil
	})
	if err != nil {
		if ve, ok := apperr.AsValidation(err); ok {
			log.Warn("Inspection finalization rejected", zap.String("reason", string(ve.Reason)), zap.String("detail", ve.Message))
			return nil, err
		}
		if apperr.IsNotFound(err) {
			return nil, err
		}
		log.Error("Failed to finalize inspection", zap.Error(err))
		return nil, fmt.Errorf("failed to finalize inspection %s: %w", gateID, err)
	}

	metrics.IncrementInspectionFinalized(string(result.GateType), passed)
	log.Info("Inspection finalized",
		zap.String("project_id", result.ProjectID),
		zap.String("status", string(result.Status)),
	)
	return result, nil
}

func checkItemsPassable(gate *model.QualityGate) error {
	var unverified, failed []string
	for _, item := range gate.Items {
		switch {
		case item.Passed == nil:
			unverified = append(unverified, item.ItemDescription)
		case !*item.Passed:
			failed = append(failed, item.ItemDescription)
		}
	}
	if len(unverified) > 0 {
		return gateError(gate, apperr.ReasonChecklistIncomplete,
			fmt.Sprintf("all checklist items must be verified before passing inspection (%d unverified: %s)",
				len(unverified), strings.Join(unverified, "; ")))
	}
	if len(failed) > 0 {
		return gateError(gate, apperr.ReasonChecklistFailed,
			fmt.Sprintf("cannot pass inspection with failed items (%s)", strings.Join(failed, "; ")))
	}
	return nil
}

func gateError(gate *model.QualityGate, reason apperr.Reason, msg string) *apperr.ValidationError {
	return &apperr.ValidationError{
		Reason:    reason,
		Message:   msg,
		ProjectID: gate.ProjectID,
		GateType:  string(gate.GateType),
		GateID:    gate.ID,
	}
}

func (s *GateService) GetQualityGate(ctx context.Context, gateID string) (*model.QualityGate, error) {
	gate, err := s.store.GetGate(ctx, gateID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get quality gate: %w", err)
	}
	return gate, nil
}

// GetProjectQualityGates returns every gate of the project with items and
// defects, phase ascending.
func (s *GateService) GetProjectQualityGates(ctx context.Context, projectID string) ([]*model.QualityGate, error) {
	if projectID == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "project id is required")
	}
	gates, err := s.store.ListGatesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quality gates: %w", err)
	}
	return gates, nil
}
