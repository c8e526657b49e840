package model

import "time"

type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusOnHold    ProjectStatus = "on_hold"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusActive, ProjectStatusCompleted, ProjectStatusOnHold:
		return true
	}
	return false
}

// ProjectPhaseState is the single live phase record of a project.
type ProjectPhaseState struct {
	ID                   string        `json:"id"`
	ProjectID            string        `json:"project_id"`
	CurrentPhase         Phase         `json:"current_phase"`
	CurrentStepLabel     *string       `json:"current_step_label,omitempty"`
	Status               ProjectStatus `json:"status"`
	BlockingReasons      []string      `json:"blocking_reasons"`
	TargetCompletionDate *time.Time    `json:"target_completion_date,omitempty"`
	ActualCompletionDate *time.Time    `json:"actual_completion_date,omitempty"`
	Version              int64         `json:"version"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (s *ProjectPhaseState) Clone() *ProjectPhaseState {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentStepLabel = cloneString(s.CurrentStepLabel)
	c.TargetCompletionDate = cloneTime(s.TargetCompletionDate)
	c.ActualCompletionDate = cloneTime(s.ActualCompletionDate)
	c.BlockingReasons = append([]string{}, s.BlockingReasons...)
	return &c
}

// PhaseDetails carries the non-phase fields of a state that may be edited directly.
type PhaseDetails struct {
	CurrentStepLabel     *string        `json:"current_step_label,omitempty"`
	Status               *ProjectStatus `json:"status,omitempty"`
	TargetCompletionDate *time.Time     `json:"target_completion_date,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
