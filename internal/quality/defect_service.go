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

// DefectService tracks NCRs through open → in_rework → resolved → closed, or rejected.
type DefectService struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewDefectService(store repository.Store, logger *zap.Logger) *DefectService {
	return &DefectService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *DefectService) WithClock(now func() time.Time) *DefectService {
	s.now = now
	return s
}

// ReportDefectRequest 上报缺陷参数
type ReportDefectRequest struct {
	ProjectID     string
	QualityGateID *string
	Severity      model.Severity
	Description   string
	Location      *string
	AssignedTo    *string
	Photos        []string
	ReportedBy    *string
}

// ReportDefect opens a new NCR, optionally linked to the gate that surfaced it.
func (s *DefectService) ReportDefect(ctx context.Context, req ReportDefectRequest) (*model.Defect, error) {
	if req.ProjectID == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "project id is required")
	}
	if !req.Severity.Valid() {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "invalid severity %q, expected critical, major or minor", req.Severity)
	}
	if strings.TrimSpace(req.Description) == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "description is required")
	}

	now := s.now()
	d := &model.Defect{
		ID:            uuid.NewString(),
		ProjectID:     req.ProjectID,
		QualityGateID: req.QualityGateID,
		Severity:      req.Severity,
		Description:   req.Description,
		Location:      req.Location,
		AssignedTo:    req.AssignedTo,
		Status:        model.DefectOpen,
		Photos:        append([]string{}, req.Photos...),
		ReportedBy:    req.ReportedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		if d.QualityGateID != nil {
			gate, err := q.GetGate(ctx, *d.QualityGateID)
			if err != nil {
				return err
			}
			if gate.ProjectID != d.ProjectID {
				return &apperr.ValidationError{
					Reason:    apperr.ReasonInvalidInput,
					Message:   fmt.Sprintf("quality gate %s belongs to project %s, not %s", gate.ID, gate.ProjectID, d.ProjectID),
					ProjectID: d.ProjectID,
					GateType:  string(gate.GateType),
					GateID:    gate.ID,
				}
			}
		}
		if err := q.InsertDefect(ctx, d); err != nil {
			return err
		}
		return s.enqueue(ctx, q, d, mqcontracts.RoutingKeyNCRCreated, deref(d.ReportedBy), "")
	})
	if err != nil {
		return nil, s.wrap(ctx, err, "report", d.ID)
	}

	metrics.IncrementDefectEvent("created", string(d.Severity))
	logger.WithTrace(ctx, s.logger).Info("Defect reported",
		zap.String("defect_id", d.ID),
		zap.String("project_id", d.ProjectID),
		zap.String("severity", string(d.Severity)),
	)
	return d, nil
}

// ResolveDefect marks an open or in-rework defect resolved. Resolving a defect
// in any other state is rejected.
func (s *DefectService) ResolveDefect(ctx context.Context, defectID, resolutionNotes, resolvedBy string) (*model.Defect, error) {
	if resolvedBy == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "resolved_by is required")
	}
	return s.change(ctx, defectID, "resolved", mqcontracts.RoutingKeyNCRResolved, resolvedBy, resolutionNotes,
		[]model.DefectStatus{model.DefectOpen, model.DefectInRework},
		func(d *model.Defect, now time.Time) {
			d.Status = model.DefectResolved
			d.ResolutionNotes = &resolutionNotes
			d.ResolvedAt = &now
			d.ResolvedBy = &resolvedBy
		})
}

// StartRework moves an open defect into rework.
func (s *DefectService) StartRework(ctx context.Context, defectID, actor string, assignedTo *string) (*model.Defect, error) {
	return s.change(ctx, defectID, "rework_started", mqcontracts.RoutingKeyNCRReworkStarted, actor, "",
		[]model.DefectStatus{model.DefectOpen},
		func(d *model.Defect, _ time.Time) {
			d.Status = model.DefectInRework
			if assignedTo != nil {
				d.AssignedTo = assignedTo
			}
		})
}

// RejectDefect dismisses a defect that is not a real non-conformance.
func (s *DefectService) RejectDefect(ctx context.Context, defectID, reason, actor string) (*model.Defect, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "rejection reason is required")
	}
	return s.change(ctx, defectID, "rejected", mqcontracts.RoutingKeyNCRRejected, actor, reason,
		[]model.DefectStatus{model.DefectOpen, model.DefectInRework},
		func(d *model.Defect, _ time.Time) {
			d.Status = model.DefectRejected
			d.RejectionReason = &reason
		})
}

// CloseDefect closes a resolved defect after verification.
func (s *DefectService) CloseDefect(ctx context.Context, defectID, closedBy string) (*model.Defect, error) {
	if closedBy == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "closed_by is required")
	}
	return s.change(ctx, defectID, "closed", mqcontracts.RoutingKeyNCRClosed, closedBy, "",
		[]model.DefectStatus{model.DefectResolved},
		func(d *model.Defect, now time.Time) {
			d.Status = model.DefectClosed
			d.ClosedAt = &now
			d.ClosedBy = &closedBy
		})
}

// change applies mutate to the locked defect if its status is one of allowed.
func (s *DefectService) change(
	ctx context.Context,
	defectID, event, routingKey, actor, notes string,
	allowed []model.DefectStatus,
	mutate func(d *model.Defect, now time.Time),
) (*model.Defect, error) {
	var result *model.Defect
	err := s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		d, err := q.LockDefect(ctx, defectID)
		if err != nil {
			return err
		}
		if !statusIn(d.Status, allowed) {
			return &apperr.ValidationError{
				Reason:    apperr.ReasonDefectState,
				Message:   fmt.Sprintf("defect %s is %s, expected %s", d.ID, d.Status, joinStatuses(allowed)),
				ProjectID: d.ProjectID,
				GateID:    deref(d.QualityGateID),
			}
		}

		now := s.now()
		mutate(d, now)
		d.UpdatedAt = now
		if err := q.UpdateDefect(ctx, d); err != nil {
			return err
		}
		if err := s.enqueue(ctx, q, d, routingKey, actor, notes); err != nil {
			return err
		}
		result = d
		return nil
	})
	if err != nil {
		return nil, s.wrap(ctx, err, "update", defectID)
	}

	metrics.IncrementDefectEvent(event, string(result.Severity))
	logger.WithTrace(ctx, s.logger).Info("Defect updated",
		zap.String("defect_id", result.ID),
		zap.String("project_id", result.ProjectID),
		zap.String("status", string(result.Status)),
		zap.String("actor", actor),
	)
	return result, nil
}

func (s *DefectService) enqueue(ctx context.Context, q repository.Queries, d *model.Defect, routingKey, actor, notes string) error {
	ev, err := outbox.NewEvent(mqcontracts.AggregateDefect, d.ID, routingKey, mqcontracts.DefectEventPayload{
		DefectID:      d.ID,
		ProjectID:     d.ProjectID,
		QualityGateID: d.QualityGateID,
		Severity:      string(d.Severity),
		Status:        string(d.Status),
		Actor:         actor,
		Notes:         notes,
		Timestamp:     d.UpdatedAt,
		TraceID:       trace.FromContext(ctx),
	})
	if err != nil {
		return err
	}
	return q.EnqueueEvent(ctx, ev)
}

func (s *DefectService) wrap(ctx context.Context, err error, op, defectID string) error {
	if ve, ok := apperr.AsValidation(err); ok {
		logger.WithTrace(ctx, s.logger).Warn("Defect operation rejected",
			zap.String("operation", op),
			zap.String("defect_id", defectID),
			zap.String("reason", string(ve.Reason)),
		)
		return err
	}
	if apperr.IsNotFound(err) {
		return err
	}
	logger.WithTrace(ctx, s.logger).Error("Defect operation failed",
		zap.String("operation", op),
		zap.String("defect_id", defectID),
		zap.Error(err),
	)
	return fmt.Errorf("failed to %s defect %s: %w", op, defectID, err)
}

func (s *DefectService) GetDefect(ctx context.Context, defectID string) (*model.Defect, error) {
	d, err := s.store.GetDefect(ctx, defectID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get defect: %w", err)
	}
	return d, nil
}

// ListDefects returns the project's defects in reporting order.
func (s *DefectService) ListDefects(ctx context.Context, projectID string, filter model.DefectFilter) ([]*model.Defect, error) {
	if projectID == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "project id is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "invalid defect status %q", filter.Status)
	}
	defects, err := s.store.ListDefects(ctx, projectID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list defects: %w", err)
	}
	return defects, nil
}

func statusIn(s model.DefectStatus, allowed []model.DefectStatus) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

func joinStatuses(ss []model.DefectStatus) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, " or ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
