// Package workflow owns the per-project phase state. Every phase change goes
// through Service.TransitionPhase; nothing else writes current_phase.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqcontracts "projectflow/contracts/mq"
	"projectflow/internal/apperr"
	"projectflow/internal/model"
	"projectflow/internal/repository"
	"projectflow/pkg/lock"
	"projectflow/pkg/logger"
	"projectflow/pkg/metrics"
	"projectflow/pkg/outbox"
	"projectflow/pkg/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemActor is recorded as triggered_by for records the engine writes itself.
const SystemActor = "system"

type Service struct {
	store     repository.Store
	validator *Validator
	hooks     *Hooks
	locker    lock.Locker
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	store repository.Store,
	validator *Validator,
	hooks *Hooks,
	locker lock.Locker,
	logger *zap.Logger,
) *Service {
	if hooks == nil {
		hooks = NewHooks()
	}
	return &Service{
		store:     store,
		validator: validator,
		hooks:     hooks,
		locker:    locker,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Hooks exposes the registry so callers can attach phase actions.
func (s *Service) Hooks() *Hooks {
	return s.hooks
}

type transitionOptions struct {
	transitionType model.TransitionType
}

type TransitionOption func(*transitionOptions)

// WithTransitionType records the transition as manual or automatic. Default is manual.
func WithTransitionType(t model.TransitionType) TransitionOption {
	return func(o *transitionOptions) {
		o.transitionType = t
	}
}

func requireProject(projectID string) error {
	if projectID == "" {
		return apperr.Validation(apperr.ReasonInvalidInput, "project id is required")
	}
	return nil
}

// GetCurrentPhase returns the project's state, creating it at phase 1 on first access.
func (s *Service) GetCurrentPhase(ctx context.Context, projectID string) (*model.ProjectPhaseState, error) {
	if err := requireProject(projectID); err != nil {
		return nil, err
	}

	state, err := s.store.GetPhaseState(ctx, projectID)
	if err == nil {
		return state, nil
	}
	if !apperr.IsNotFound(err) {
		return nil, fmt.Errorf("failed to load phase state: %w", err)
	}

	if err := s.createInitialState(ctx, projectID); err != nil {
		return nil, err
	}

	// reselect: a concurrent caller may have won the insert
	state, err = s.store.GetPhaseState(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load phase state: %w", err)
	}
	return state, nil
}

func (s *Service) createInitialState(ctx context.Context, projectID string) error {
	now := s.now()
	state := &model.ProjectPhaseState{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		CurrentPhase:    model.FirstPhase,
		Status:          model.ProjectStatusActive,
		BlockingReasons: []string{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var created bool
	err := s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		var err error
		if created, err = q.CreatePhaseStateIfAbsent(ctx, state); err != nil || !created {
			return err
		}
		return q.InsertTransition(ctx, &model.PhaseTransitionRecord{
			ID:             uuid.NewString(),
			ProjectID:      projectID,
			ToPhase:        model.FirstPhase,
			TransitionType: model.TransitionAutomatic,
			TriggeredBy:    SystemActor,
			ConditionsMet:  []model.ConditionCheck{},
			TriggeredAt:    now,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create phase state: %w", err)
	}
	if created {
		logger.WithTrace(ctx, s.logger).Info("Project phase state initialized",
			zap.String("project_id", projectID),
		)
	}
	return nil
}

// withProjectLock ensures the state row exists and serializes work on projectID.
func (s *Service) withProjectLock(ctx context.Context, projectID string, fn func() error) error {
	if _, err := s.GetCurrentPhase(ctx, projectID); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, "project:"+projectID)
	if err != nil {
		return fmt.Errorf("failed to lock project %s: %w", projectID, err)
	}
	defer unlock()
	return fn()
}

// TransitionPhase moves a project to toPhase. Validation, pre hooks, the
// transition record, the state update and the phase.changed outbox event
// commit together or not at all.
func (s *Service) TransitionPhase(
	ctx context.Context,
	projectID string,
	toPhase model.Phase,
	triggeredBy string,
	opts ...TransitionOption,
) (*model.ProjectPhaseState, error) {
	o := transitionOptions{transitionType: model.TransitionManual}
	for _, opt := range opts {
		opt(&o)
	}

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("project_id", projectID),
		zap.Int("to_phase", int(toPhase)),
		zap.String("triggered_by", triggeredBy),
	)
	log.Debug("Phase transition requested")

	if err := requireProject(projectID); err != nil {
		return nil, err
	}
	if triggeredBy == "" {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "triggered_by is required")
	}

	var (
		result  *model.ProjectPhaseState
		event   TransitionEvent
		changed bool
	)
	err := s.withProjectLock(ctx, projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
			state, err := q.LockPhaseState(ctx, projectID)
			if err != nil {
				return err
			}
			from := state.CurrentPhase
			if from == toPhase {
				result = state
				return nil
			}

			res, err := s.validator.Validate(ctx, q, projectID, from, toPhase)
			if err != nil {
				return err
			}
			if !res.Allowed {
				return res.Rejection
			}

			event = TransitionEvent{
				ProjectID:      projectID,
				FromPhase:      from,
				ToPhase:        toPhase,
				TransitionType: o.transitionType,
				TriggeredBy:    triggeredBy,
				Queries:        q,
			}
			if err := s.hooks.RunPre(ctx, event); err != nil {
				return err
			}

			now := s.now()
			if err := q.InsertTransition(ctx, &model.PhaseTransitionRecord{
				ID:             uuid.NewString(),
				ProjectID:      projectID,
				FromPhase:      &from,
				ToPhase:        toPhase,
				TransitionType: o.transitionType,
				TriggeredBy:    triggeredBy,
				ConditionsMet:  res.Checks,
				TriggeredAt:    now,
			}); err != nil {
				return err
			}

			state.CurrentPhase = toPhase
			state.ActualCompletionDate = &now
			state.BlockingReasons = []string{}
			state.UpdatedAt = now
			if err := q.UpdatePhaseState(ctx, state); err != nil {
				if errors.Is(err, repository.ErrVersionConflict) {
					return apperr.Validation(apperr.ReasonConcurrentUpdate,
						"project %s was modified concurrently, retry the transition", projectID)
				}
				return err
			}

			ev, err := outbox.NewEvent(mqcontracts.AggregateProject, projectID, mqcontracts.RoutingKeyPhaseChanged,
				mqcontracts.PhaseChangedPayload{
					ProjectID:      projectID,
					FromPhase:      int(from),
					ToPhase:        int(toPhase),
					TransitionType: string(o.transitionType),
					TriggeredBy:    triggeredBy,
					Timestamp:      now,
					TraceID:        trace.FromContext(ctx),
				})
			if err != nil {
				return err
			}
			if err := q.EnqueueEvent(ctx, ev); err != nil {
				return err
			}

			result = state
			changed = true
			return nil
		})
	})
	if err != nil {
		if ve, ok := apperr.AsValidation(err); ok {
			metrics.IncrementPhaseTransitionRejected(string(ve.Reason))
			log.Warn("Phase transition rejected",
				zap.String("reason", string(ve.Reason)),
				zap.String("detail", ve.Message),
			)
			return nil, err
		}
		if apperr.IsNotFound(err) {
			return nil, err
		}
		log.Error("Phase transition failed", zap.Error(err))
		return nil, fmt.Errorf("failed to transition project %s to phase %d: %w", projectID, toPhase, err)
	}

	if !changed {
		log.Debug("Project already in requested phase")
		return result, nil
	}

	metrics.IncrementPhaseTransition(int(event.FromPhase), int(toPhase), string(o.transitionType))
	log.Info("Phase transition committed",
		zap.Int("from_phase", int(event.FromPhase)),
		zap.String("transition_type", string(o.transitionType)),
		zap.Int64("version", result.Version),
	)

	event.Queries = nil
	if err := s.hooks.RunPost(ctx, event); err != nil {
		log.Error("Post-transition hooks failed", zap.Error(err))
	}

	return result, nil
}

// CheckTransition validates a transition without performing it and stores the
// blocking reasons on the project state.
func (s *Service) CheckTransition(ctx context.Context, projectID string, toPhase model.Phase) (*Result, error) {
	if err := requireProject(projectID); err != nil {
		return nil, err
	}

	var res *Result
	err := s.withProjectLock(ctx, projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
			state, err := q.LockPhaseState(ctx, projectID)
			if err != nil {
				return err
			}
			if res, err = s.validator.Validate(ctx, q, projectID, state.CurrentPhase, toPhase); err != nil {
				return err
			}

			reasons := res.BlockingReasons()
			if equalStrings(reasons, state.BlockingReasons) {
				return nil
			}
			state.BlockingReasons = reasons
			state.UpdatedAt = s.now()
			return q.UpdatePhaseState(ctx, state)
		})
	})
	if err != nil {
		if apperr.IsValidation(err) || apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to check transition for project %s: %w", projectID, err)
	}
	return res, nil
}

// GetTransitionHistory returns the project's transition records, oldest first.
func (s *Service) GetTransitionHistory(ctx context.Context, projectID string) ([]*model.PhaseTransitionRecord, error) {
	if err := requireProject(projectID); err != nil {
		return nil, err
	}
	records, err := s.store.ListTransitions(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return records, nil
}

// UpdatePhaseDetails edits the descriptive fields of the state. The current
// phase is not touched and no transition is recorded.
func (s *Service) UpdatePhaseDetails(ctx context.Context, projectID string, details model.PhaseDetails) (*model.ProjectPhaseState, error) {
	if err := requireProject(projectID); err != nil {
		return nil, err
	}
	if details.Status != nil && !details.Status.Valid() {
		return nil, apperr.Validation(apperr.ReasonInvalidInput, "invalid project status %q", *details.Status)
	}

	var result *model.ProjectPhaseState
	err := s.withProjectLock(ctx, projectID, func() error {
		return s.store.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
			state, err := q.LockPhaseState(ctx, projectID)
			if err != nil {
				return err
			}
			if details.CurrentStepLabel != nil {
				state.CurrentStepLabel = details.CurrentStepLabel
			}
			if details.Status != nil {
				state.Status = *details.Status
			}
			if details.TargetCompletionDate != nil {
				state.TargetCompletionDate = details.TargetCompletionDate
			}
			state.UpdatedAt = s.now()
			if err := q.UpdatePhaseState(ctx, state); err != nil {
				return err
			}
			result = state
			return nil
		})
	})
	if err != nil {
		if apperr.IsValidation(err) || apperr.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update phase details for project %s: %w", projectID, err)
	}

	logger.WithTrace(ctx, s.logger).Info("Phase details updated", zap.String("project_id", projectID))
	return result, nil
}

// PhaseInfo describes one phase and what it takes to enter it.
type PhaseInfo struct {
	Phase        model.Phase `json:"phase"`
	Name         string      `json:"name"`
	Documents    []string    `json:"required_documents"`
	GateType     string      `json:"required_gate_type,omitempty"`
	GatePhase    int         `json:"required_gate_phase,omitempty"`
	SoftGateRule bool        `json:"soft_gate_rule,omitempty"`
}

// Phases returns the phase catalogue in order.
func Phases() []PhaseInfo {
	out := make([]PhaseInfo, 0, int(model.LastPhase))
	for _, p := range model.Phases() {
		req := entryRequirements[p]
		info := PhaseInfo{
			Phase:     p,
			Name:      p.Name(),
			Documents: append([]string{}, req.Documents...),
		}
		if req.Gate != nil {
			info.GateType = string(req.Gate.GateType)
			info.GatePhase = int(req.Gate.Phase)
			info.SoftGateRule = true
		}
		out = append(out, info)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
