package model

import "time"

type TransitionType string

const (
	TransitionManual    TransitionType = "manual"
	TransitionAutomatic TransitionType = "automatic"
)

// ConditionCheck is one evaluated precondition of a phase transition.
type ConditionCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// PhaseTransitionRecord is an append-only audit entry. It is never updated or deleted.
type PhaseTransitionRecord struct {
	ID             string           `json:"id"`
	ProjectID      string           `json:"project_id"`
	FromPhase      *Phase           `json:"from_phase"`
	ToPhase        Phase            `json:"to_phase"`
	TransitionType TransitionType   `json:"transition_type"`
	TriggeredBy    string           `json:"triggered_by"`
	ConditionsMet  []ConditionCheck `json:"conditions_met"`
	TriggeredAt    time.Time        `json:"triggered_at"`
}

func (r *PhaseTransitionRecord) Clone() *PhaseTransitionRecord {
	c := *r
	if r.FromPhase != nil {
		from := *r.FromPhase
		c.FromPhase = &from
	}
	c.ConditionsMet = append([]ConditionCheck{}, r.ConditionsMet...)
	return &c
}
