package model

import "time"

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

type DefectStatus string

const (
	DefectOpen     DefectStatus = "open"
	DefectInRework DefectStatus = "in_rework"
	DefectResolved DefectStatus = "resolved"
	DefectClosed   DefectStatus = "closed"
	DefectRejected DefectStatus = "rejected"
)

func (s DefectStatus) Valid() bool {
	switch s {
	case DefectOpen, DefectInRework, DefectResolved, DefectClosed, DefectRejected:
		return true
	}
	return false
}

// Defect is a non-conformance report (NCR), optionally raised from a quality gate.
type Defect struct {
	ID              string       `json:"id"`
	ProjectID       string       `json:"project_id"`
	QualityGateID   *string      `json:"quality_gate_id,omitempty"`
	Severity        Severity     `json:"severity"`
	Description     string       `json:"description"`
	Location        *string      `json:"location,omitempty"`
	AssignedTo      *string      `json:"assigned_to,omitempty"`
	Status          DefectStatus `json:"status"`
	Photos          []string     `json:"photos"`
	ReportedBy      *string      `json:"reported_by,omitempty"`
	ResolutionNotes *string      `json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy      *string      `json:"resolved_by,omitempty"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	ClosedBy        *string      `json:"closed_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (d *Defect) Clone() *Defect {
	if d == nil {
		return nil
	}
	c := *d
	c.QualityGateID = cloneString(d.QualityGateID)
	c.Location = cloneString(d.Location)
	c.AssignedTo = cloneString(d.AssignedTo)
	c.Photos = append([]string{}, d.Photos...)
	c.ReportedBy = cloneString(d.ReportedBy)
	c.ResolutionNotes = cloneString(d.ResolutionNotes)
	c.ResolvedAt = cloneTime(d.ResolvedAt)
	c.ResolvedBy = cloneString(d.ResolvedBy)
	c.RejectionReason = cloneString(d.RejectionReason)
	c.ClosedAt = cloneTime(d.ClosedAt)
	c.ClosedBy = cloneString(d.ClosedBy)
	return &c
}

// DefectFilter narrows ListDefects. Zero values match everything.
type DefectFilter struct {
	Status        DefectStatus
	QualityGateID string
}
