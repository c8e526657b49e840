package mq

import "time"

// PhaseChangedPayload workflow.phase.changed 事件
type PhaseChangedPayload struct {
	ProjectID      string    `json:"project_id"`
	FromPhase      int       `json:"from_phase"`
	ToPhase        int       `json:"to_phase"`
	TransitionType string    `json:"transition_type"` // manual / automatic
	TriggeredBy    string    `json:"triggered_by"`
	Timestamp      time.Time `json:"timestamp"`
	TraceID        string    `json:"trace_id,omitempty"`
}

// InspectionFinalizedPayload quality.inspection.passed / failed 事件
type InspectionFinalizedPayload struct {
	GateID      string    `json:"gate_id"`
	ProjectID   string    `json:"project_id"`
	Phase       int       `json:"phase"`
	GateType    string    `json:"gate_type"`
	Passed      bool      `json:"passed"`
	FinalizedBy string    `json:"finalized_by"`
	Timestamp   time.Time `json:"timestamp"`
	TraceID     string    `json:"trace_id,omitempty"`
}

// DefectEventPayload ncr.* 事件
type DefectEventPayload struct {
	DefectID      string    `json:"defect_id"`
	ProjectID     string    `json:"project_id"`
	QualityGateID *string   `json:"quality_gate_id,omitempty"`
	Severity      string    `json:"severity"`
	Status        string    `json:"status"`
	Actor         string    `json:"actor,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	TraceID       string    `json:"trace_id,omitempty"`
}
