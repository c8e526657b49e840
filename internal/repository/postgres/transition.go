package postgres

import (
	"context"
	"fmt"

	"projectflow/internal/model"
)

func (q *queries) InsertTransition(ctx context.Context, rec *model.PhaseTransitionRecord) error {
	conditions := rec.ConditionsMet
	if conditions == nil {
		conditions = []model.ConditionCheck{}
	}
	err := q.observe(ctx, "insert", "phase_transitions", func(ctx context.Context) error {
		_, err := q.db.Exec(ctx, `
			INSERT INTO phase_transitions (
				id, project_id, from_phase, to_phase, transition_type, triggered_by, conditions_met, triggered_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			rec.ID,
			rec.ProjectID,
			rec.FromPhase,
			rec.ToPhase,
			rec.TransitionType,
			rec.TriggeredBy,
			conditions,
			rec.TriggeredAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert phase transition: %w", err)
	}
	return nil
}

func (q *queries) ListTransitions(ctx context.Context, projectID string) ([]*model.PhaseTransitionRecord, error) {
	records := []*model.PhaseTransitionRecord{}
	err := q.observe(ctx, "select", "phase_transitions", func(ctx context.Context) error {
		rows, err := q.db.Query(ctx, `
			SELECT id, project_id, from_phase, to_phase, transition_type, triggered_by, conditions_met, triggered_at
			FROM phase_transitions
			WHERE project_id = $1
			ORDER BY triggered_at ASC, id ASC
		`, projectID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r model.PhaseTransitionRecord
			if err := rows.Scan(
				&r.ID,
				&r.ProjectID,
				&r.FromPhase,
				&r.ToPhase,
				&r.TransitionType,
				&r.TriggeredBy,
				&r.ConditionsMet,
				&r.TriggeredAt,
			); err != nil {
				return err
			}
			records = append(records, &r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions for %s: %w", projectID, err)
	}
	return records, nil
}
