package postgres

import (
	"context"
	"fmt"

	"projectflow/internal/apperr"
	"projectflow/internal/model"

	"github.com/jackc/pgx/v5"
)

const defectColumns = `d.id, d.project_id, d.quality_gate_id, d.severity, d.description, d.location,
               d.assigned_to, d.status, d.photos, d.reported_by, d.resolution_notes, d.resolved_at,
               d.resolved_by, d.rejection_reason, d.closed_at, d.closed_by, d.created_at, d.updated_at`

func scanDefect(row pgx.Row) (*model.Defect, error) {
	var d model.Defect
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.QualityGateID,
		&d.Severity,
		&d.Description,
		&d.Location,
		&d.AssignedTo,
		&d.Status,
		&d.Photos,
		&d.ReportedBy,
		&d.ResolutionNotes,
		&d.ResolvedAt,
		&d.ResolvedBy,
		&d.RejectionReason,
		&d.ClosedAt,
		&d.ClosedBy,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if d.Photos == nil {
		d.Photos = []string{}
	}
	return &d, nil
}

func (q *queries) InsertDefect(ctx context.Context, d *model.Defect) error {
	err := q.observe(ctx, "insert", "defects", func(ctx context.Context) error {
		_, err := q.db.Exec(ctx, `
			INSERT INTO defects (
				id, project_id, quality_gate_id, severity, description, location, assigned_to, status,
				photos, reported_by, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			d.ID,
			d.ProjectID,
			d.QualityGateID,
			d.Severity,
			d.Description,
			d.Location,
			d.AssignedTo,
			d.Status,
			nonNil(d.Photos),
			d.ReportedBy,
			d.CreatedAt,
			d.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert defect: %w", err)
	}
	return nil
}

func (q *queries) getDefect(ctx context.Context, defectID string, forUpdate bool) (*model.Defect, error) {
	if !validID(defectID) {
		return nil, apperr.NotFound("defect", defectID)
	}
	query := `SELECT ` + defectColumns + ` FROM defects d WHERE d.id = $1`
	op := "select"
	if forUpdate {
		query += ` FOR UPDATE`
		op = "select_for_update"
	}

	var d *model.Defect
	err := q.observe(ctx, op, "defects", func(ctx context.Context) error {
		var err error
		d, err = scanDefect(q.db.QueryRow(ctx, query, defectID))
		return err
	})
	if err != nil {
		return nil, notFound(err, "defect", defectID)
	}
	return d, nil
}

func (q *queries) GetDefect(ctx context.Context, defectID string) (*model.Defect, error) {
	return q.getDefect(ctx, defectID, false)
}

func (q *queries) LockDefect(ctx context.Context, defectID string) (*model.Defect, error) {
	return q.getDefect(ctx, defectID, true)
}

func (q *queries) UpdateDefect(ctx context.Context, d *model.Defect) error {
	err := q.observe(ctx, "update", "defects", func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			UPDATE defects
			SET status = $2,
			    assigned_to = $3,
			    resolution_notes = $4,
			    resolved_at = $5,
			    resolved_by = $6,
			    rejection_reason = $7,
			    closed_at = $8,
			    closed_by = $9,
			    updated_at = $10
			WHERE id = $1
		`,
			d.ID,
			d.Status,
			d.AssignedTo,
			d.ResolutionNotes,
			d.ResolvedAt,
			d.ResolvedBy,
			d.RejectionReason,
			d.ClosedAt,
			d.ClosedBy,
			d.UpdatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		return nil
	})
	if err != nil {
		return notFound(err, "defect", d.ID)
	}
	return nil
}

func (q *queries) ListDefects(ctx context.Context, projectID string, filter model.DefectFilter) ([]*model.Defect, error) {
	query := `SELECT ` + defectColumns + ` FROM defects d WHERE d.project_id = $1`
	args := []any{projectID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND d.status = $%d", len(args))
	}
	if filter.QualityGateID != "" {
		if !validID(filter.QualityGateID) {
			return []*model.Defect{}, nil
		}
		args = append(args, filter.QualityGateID)
		query += fmt.Sprintf(" AND d.quality_gate_id = $%d", len(args))
	}
	query += " ORDER BY d.created_at ASC"

	defects := []*model.Defect{}
	err := q.observe(ctx, "select", "defects", func(ctx context.Context) error {
		rows, err := q.db.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			d, err := scanDefect(rows)
			if err != nil {
				return err
			}
			defects = append(defects, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list defects for %s: %w", projectID, err)
	}
	return defects, nil
}
