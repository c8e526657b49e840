package postgres

import (
	"context"
	"fmt"

	"projectflow/internal/apperr"
	"projectflow/internal/model"

	"github.com/jackc/pgx/v5"
)

const gateColumns = `g.id, g.project_id, g.phase, g.gate_type, g.inspector_id, g.status, g.inspection_date,
               g.passed, g.comments, g.finalized_by, g.created_at, g.updated_at`

const itemColumns = `i.id, i.quality_gate_id, i.item_description, i.passed, i.comments, i.photos,
               i.position, i.created_at, i.updated_at`

func scanGate(row pgx.Row) (*model.QualityGate, error) {
	g := model.QualityGate{Items: []model.QualityGateItem{}, Defects: []model.Defect{}}
	err := row.Scan(
		&g.ID,
		&g.ProjectID,
		&g.Phase,
		&g.GateType,
		&g.InspectorID,
		&g.Status,
		&g.InspectionDate,
		&g.Passed,
		&g.Comments,
		&g.FinalizedBy,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func scanItem(row pgx.Row) (*model.QualityGateItem, error) {
	var i model.QualityGateItem
	err := row.Scan(
		&i.ID,
		&i.QualityGateID,
		&i.ItemDescription,
		&i.Passed,
		&i.Comments,
		&i.Photos,
		&i.Position,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if i.Photos == nil {
		i.Photos = []string{}
	}
	return &i, nil
}

func (q *queries) InsertGate(ctx context.Context, g *model.QualityGate) error {
	err := q.observe(ctx, "insert", "quality_gates", func(ctx context.Context) error {
		_, err := q.db.Exec(ctx, `
			INSERT INTO quality_gates (
				id, project_id, phase, gate_type, inspector_id, status, inspection_date,
				passed, comments, finalized_by, created_at, updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`,
			g.ID,
			g.ProjectID,
			g.Phase,
			g.GateType,
			g.InspectorID,
			g.Status,
			g.InspectionDate,
			g.Passed,
			g.Comments,
			g.FinalizedBy,
			g.CreatedAt,
			g.UpdatedAt,
		)
		if err != nil {
			return err
		}

		if len(g.Items) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, item := range g.Items {
			batch.Queue(`
				INSERT INTO quality_gate_items (
					id, quality_gate_id, item_description, passed, comments, photos, position, created_at, updated_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				item.ID,
				item.QualityGateID,
				item.ItemDescription,
				item.Passed,
				item.Comments,
				nonNil(item.Photos),
				item.Position,
				item.CreatedAt,
				item.UpdatedAt,
			)
		}
		return q.db.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to insert quality gate: %w", err)
	}
	return nil
}

func (q *queries) loadItems(ctx context.Context, g *model.QualityGate) error {
	rows, err := q.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM quality_gate_items i
		WHERE i.quality_gate_id = $1
		ORDER BY i.position ASC
	`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return err
		}
		g.Items = append(g.Items, *item)
	}
	return rows.Err()
}

func (q *queries) loadDefects(ctx context.Context, g *model.QualityGate) error {
	rows, err := q.db.Query(ctx, `
		SELECT `+defectColumns+`
		FROM defects d
		WHERE d.quality_gate_id = $1
		ORDER BY d.created_at ASC
	`, g.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return err
		}
		g.Defects = append(g.Defects, *d)
	}
	return rows.Err()
}

func (q *queries) getGate(ctx context.Context, gateID string, forUpdate bool) (*model.QualityGate, error) {
	if !validID(gateID) {
		return nil, apperr.NotFound("quality gate", gateID)
	}
	query := `SELECT ` + gateColumns + ` FROM quality_gates g WHERE g.id = $1`
	op := "select"
	if forUpdate {
		query += ` FOR UPDATE`
		op = "select_for_update"
	}

	var g *model.QualityGate
	err := q.observe(ctx, op, "quality_gates", func(ctx context.Context) error {
		var err error
		if g, err = scanGate(q.db.QueryRow(ctx, query, gateID)); err != nil {
			return err
		}
		if err := q.loadItems(ctx, g); err != nil {
			return err
		}
		return q.loadDefects(ctx, g)
	})
	if err != nil {
		return nil, notFound(err, "quality gate", gateID)
	}
	return g, nil
}

func (q *queries) GetGate(ctx context.Context, gateID string) (*model.QualityGate, error) {
	return q.getGate(ctx, gateID, false)
}

func (q *queries) LockGate(ctx context.Context, gateID string) (*model.QualityGate, error) {
	return q.getGate(ctx, gateID, true)
}

func (q *queries) UpdateGate(ctx context.Context, g *model.QualityGate) error {
	err := q.observe(ctx, "update", "quality_gates", func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			UPDATE quality_gates
			SET inspector_id = $2,
			    status = $3,
			    inspection_date = $4,
			    passed = $5,
			    comments = $6,
			    finalized_by = $7,
			    updated_at = $8
			WHERE id = $1
		`,
			g.ID,
			g.InspectorID,
			g.Status,
			g.InspectionDate,
			g.Passed,
			g.Comments,
			g.FinalizedBy,
			g.UpdatedAt,
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
		return notFound(err, "quality gate", g.ID)
	}
	return nil
}

func (q *queries) GetGateItem(ctx context.Context, itemID string) (*model.QualityGateItem, error) {
	if !validID(itemID) {
		return nil, apperr.NotFound("checklist item", itemID)
	}
	var item *model.QualityGateItem
	err := q.observe(ctx, "select", "quality_gate_items", func(ctx context.Context) error {
		var err error
		item, err = scanItem(q.db.QueryRow(ctx, `
			SELECT `+itemColumns+`
			FROM quality_gate_items i
			WHERE i.id = $1
		`, itemID))
		return err
	})
	if err != nil {
		return nil, notFound(err, "checklist item", itemID)
	}
	return item, nil
}

func (q *queries) UpdateGateItem(ctx context.Context, item *model.QualityGateItem) error {
	err := q.observe(ctx, "update", "quality_gate_items", func(ctx context.Context) error {
		tag, err := q.db.Exec(ctx, `
			UPDATE quality_gate_items
			SET passed = $2, comments = $3, photos = $4, updated_at = $5
			WHERE id = $1
		`,
			item.ID,
			item.Passed,
			item.Comments,
			nonNil(item.Photos),
			item.UpdatedAt,
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
		return notFound(err, "checklist item", item.ID)
	}
	return nil
}

func (q *queries) ListGatesByProject(ctx context.Context, projectID string) ([]*model.QualityGate, error) {
	gates := []*model.QualityGate{}
	err := q.observe(ctx, "select", "quality_gates", func(ctx context.Context) error {
		rows, err := q.db.Query(ctx, `
			SELECT `+gateColumns+`
			FROM quality_gates g
			WHERE g.project_id = $1
			ORDER BY g.phase ASC, g.created_at ASC
		`, projectID)
		if err != nil {
			return err
		}
		byID := map[string]*model.QualityGate{}
		for rows.Next() {
			g, err := scanGate(rows)
			if err != nil {
				rows.Close()
				return err
			}
			gates = append(gates, g)
			byID[g.ID] = g
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(gates) == 0 {
			return nil
		}

		if err := q.attachItems(ctx, projectID, byID); err != nil {
			return err
		}
		return q.attachDefects(ctx, projectID, byID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list quality gates for %s: %w", projectID, err)
	}
	return gates, nil
}

func (q *queries) attachItems(ctx context.Context, projectID string, byID map[string]*model.QualityGate) error {
	rows, err := q.db.Query(ctx, `
		SELECT `+itemColumns+`
		FROM quality_gate_items i
		JOIN quality_gates g ON g.id = i.quality_gate_id
		WHERE g.project_id = $1
		ORDER BY i.quality_gate_id, i.position ASC
	`, projectID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return err
		}
		if g, ok := byID[item.QualityGateID]; ok {
			g.Items = append(g.Items, *item)
		}
	}
	return rows.Err()
}

func (q *queries) attachDefects(ctx context.Context, projectID string, byID map[string]*model.QualityGate) error {
	rows, err := q.db.Query(ctx, `
		SELECT `+defectColumns+`
		FROM defects d
		WHERE d.project_id = $1 AND d.quality_gate_id IS NOT NULL
		ORDER BY d.created_at ASC
	`, projectID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return err
		}
		if g, ok := byID[*d.QualityGateID]; ok {
			g.Defects = append(g.Defects, *d)
		}
	}
	return rows.Err()
}

func (q *queries) FindLatestGate(ctx context.Context, projectID string, phase model.Phase, gateType model.GateType) (*model.QualityGate, error) {
	var g *model.QualityGate
	err := q.observe(ctx, "select", "quality_gates", func(ctx context.Context) error {
		var err error
		g, err = scanGate(q.db.QueryRow(ctx, `
			SELECT `+gateColumns+`
			FROM quality_gates g
			WHERE g.project_id = $1 AND g.phase = $2 AND g.gate_type = $3
			ORDER BY g.created_at DESC
			LIMIT 1
		`, projectID, phase, gateType))
		return err
	})
	if err != nil {
		return nil, notFound(err, "quality gate", fmt.Sprintf("%s/%d/%s", projectID, phase, gateType))
	}
	return g, nil
}
