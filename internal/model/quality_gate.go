package model

import "time"

type GateType string

const (
	GateMaterialQA         GateType = "material_qa"
	GateProductionQC       GateType = "production_qc"
	GateFinalQC            GateType = "final_qc"
	GateInstallationReview GateType = "installation_review"
)

func (g GateType) Valid() bool {
	switch g {
	case GateMaterialQA, GateProductionQC, GateFinalQC, GateInstallationReview:
		return true
	}
	return false
}

type GateStatus string

const (
	GateStatusPending    GateStatus = "pending"
	GateStatusInProgress GateStatus = "in_progress"
	GateStatusPassed     GateStatus = "passed"
	GateStatusFailed     GateStatus = "failed"
)

// Finalized reports whether the inspection has a recorded outcome.
func (s GateStatus) Finalized() bool {
	return s == GateStatusPassed || s == GateStatusFailed
}

// QualityGate is an inspection checkpoint tied to a project phase.
type QualityGate struct {
	ID             string            `json:"id"`
	ProjectID      string            `json:"project_id"`
	Phase          Phase             `json:"phase"`
	GateType       GateType          `json:"gate_type"`
	InspectorID    *string           `json:"inspector_id,omitempty"`
	Status         GateStatus        `json:"status"`
	InspectionDate *time.Time        `json:"inspection_date,omitempty"`
	Passed         *bool             `json:"passed"`
	Comments       *string           `json:"comments,omitempty"`
	FinalizedBy    *string           `json:"finalized_by,omitempty"`
	Items          []QualityGateItem `json:"items"`
	Defects        []Defect          `json:"defects"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (g *QualityGate) Clone() *QualityGate {
	if g == nil {
		return nil
	}
	c := *g
	c.InspectorID = cloneString(g.InspectorID)
	c.InspectionDate = cloneTime(g.InspectionDate)
	c.Passed = cloneBool(g.Passed)
	c.Comments = cloneString(g.Comments)
	c.FinalizedBy = cloneString(g.FinalizedBy)
	c.Items = make([]QualityGateItem, 0, len(g.Items))
	for i := range g.Items {
		c.Items = append(c.Items, *g.Items[i].Clone())
	}
	c.Defects = make([]Defect, 0, len(g.Defects))
	for i := range g.Defects {
		c.Defects = append(c.Defects, *g.Defects[i].Clone())
	}
	return &c
}

// QualityGateItem is a single checklist entry. Passed stays nil until verified.
type QualityGateItem struct {
	ID              string    `json:"id"`
	QualityGateID   string    `json:"quality_gate_id"`
	ItemDescription string    `json:"item_description"`
	Passed          *bool     `json:"passed"`
	Comments        *string   `json:"comments,omitempty"`
	Photos          []string  `json:"photos"`
	Position        int       `json:"position"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (i *QualityGateItem) Clone() *QualityGateItem {
	c := *i
	c.Passed = cloneBool(i.Passed)
	c.Comments = cloneString(i.Comments)
	c.Photos = append([]string{}, i.Photos...)
	return &c
}

// ChecklistEntry describes an item supplied when a gate is scheduled.
type ChecklistEntry struct {
	ItemDescription string `json:"item_description"`
}
