package postgres

import (
	"context"
	"errors"
	"fmt"

	"projectflow/internal/model"
	"projectflow/internal/repository"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const phaseStateColumns = `id, project_id, current_phase, current_step_label, status, blocking_reasons,
               target_completion_date, actual_completion_date, version, created_at, updated_at`

func scanPhaseState(row pgx.Row) (*model.ProjectPhaseState, error) {
	var s model.ProjectPhaseState
	err := row.Scan(
		&s.ID,
		&s.ProjectID,
		&s.CurrentPhase,
		&s.CurrentStepLabel,
		&s.Status,
		&s.BlockingReasons,
		&s.TargetCompletionDate,
		&s.ActualCompletionDate,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if s.BlockingReasons == nil {
		s.BlockingReasons = []string{}
	}
	return &s, nil
}

func (q *queries) GetPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error) {
	var s *model.ProjectPhaseState
	err := q.observe(ctx, "select", "project_phase_states", func(ctx context.Context) error {
		var err error
		s, err = scanPhaseState(q.db.QueryRow(ctx, `
			SELECT `+phaseStateColumns+`
			FROM project_phase_states
			WHERE project_id = $1
		`, projectID))
		return err
	})
	if err != nil {
		return nil, notFound(err, "project phase state", projectID)
	}
	return s, nil
}

func (q *queries) LockPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error) {
	var s *model.ProjectPhaseState
	err := q.observe(ctx, "select_for_update", "project_phase_states", func(ctx context.Context) error {
		var err error
		s, err = scanPhaseState(q.db.QueryRow(ctx, `
			SELECT `+phaseStateColumns+`
			FROM project_phase_states
			WHERE project_id = $1
			FOR UPDATE
		`, projectID))
		return err
	})
	if err != nil {
		return nil, notFound(err, "project phase state", projectID)
	}
	return s, nil
}

func (q *queries) CreatePhaseStateIfAbsent(ctx context.Context, s *model.ProjectPhaseState) (bool, error) {
	var created bool
	err := q.observe(ctx, "insert", "project_phase_states", func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			INSERT INTO project_phase_states (
				id, project_id, current_phase, current_step_label, status, blocking_reasons,
				target_completion_date, actual_completion_date, version, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (project_id) DO NOTHING
		`,
			s.ID,
			s.ProjectID,
			s.CurrentPhase,
			s.CurrentStepLabel,
			s.Status,
			nonNil(s.BlockingReasons),
			s.TargetCompletionDate,
			s.ActualCompletionDate,
			s.Version,
			s.CreatedAt,
			s.UpdatedAt,
		)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to create phase state for %s: %w", s.ProjectID, err)
	}
	if created {
		q.logger.Debug("Phase state created", zap.String("project_id", s.ProjectID))
	}
	return created, nil
}

func (q *queries) UpdatePhaseState(ctx context.Context, s *model.ProjectPhaseState) error {
	err := q.observe(ctx, "update", "project_phase_states", func(ctx context.Context) error {
		return q.db.QueryRow(ctx, `
			UPDATE project_phase_states
			SET current_phase = $2,
			    current_step_label = $3,
			    status = $4,
			    blocking_reasons = $5,
			    target_completion_date = $6,
			    actual_completion_date = $7,
			    updated_at = $8,
			    version = version + 1
			WHERE project_id = $1 AND version = $9
			RETURNING version
		`,
			s.ProjectID,
			s.CurrentPhase,
			s.CurrentStepLabel,
			s.Status,
			nonNil(s.BlockingReasons),
			s.TargetCompletionDate,
			s.ActualCompletionDate,
			s.UpdatedAt,
			s.Version,
		).Scan(&s.Version)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: project %s at version %d", repository.ErrVersionConflict, s.ProjectID, s.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to update phase state for %s: %w", s.ProjectID, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
