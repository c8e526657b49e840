// Package repository declares the storage ports of the workflow engine.
//
// Every mutation that must be atomic runs inside Store.InTx. The Queries passed
// to the callback are bound to that transaction; Lock* methods take row locks
// that are held until the callback returns.
package repository

import (
	"context"
	"errors"

	"projectflow/internal/model"
	"projectflow/pkg/outbox"
)

// ErrVersionConflict is returned by UpdatePhaseState when the stored version no
// longer matches the version the caller read.
var ErrVersionConflict = errors.New("phase state version conflict")

type PhaseStateQueries interface {
	GetPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error)
	LockPhaseState(ctx context.Context, projectID string) (*model.ProjectPhaseState, error)
	// CreatePhaseStateIfAbsent inserts state unless the project already has one.
	CreatePhaseStateIfAbsent(ctx context.Context, state *model.ProjectPhaseState) (bool, error)
	// UpdatePhaseState writes state if state.Version is current and bumps state.Version.
	UpdatePhaseState(ctx context.Context, state *model.ProjectPhaseState) error
}

type TransitionQueries interface {
	InsertTransition(ctx context.Context, rec *model.PhaseTransitionRecord) error
	ListTransitions(ctx context.Context, projectID string) ([]*model.PhaseTransitionRecord, error)
}

type GateQueries interface {
	// InsertGate stores the gate and its items together.
	InsertGate(ctx context.Context, gate *model.QualityGate) error
	GetGate(ctx context.Context, gateID string) (*model.QualityGate, error)
	LockGate(ctx context.Context, gateID string) (*model.QualityGate, error)
	UpdateGate(ctx context.Context, gate *model.QualityGate) error
	GetGateItem(ctx context.Context, itemID string) (*model.QualityGateItem, error)
	UpdateGateItem(ctx context.Context, item *model.QualityGateItem) error
	// ListGatesByProject returns gates with items and defects, phase ascending.
	ListGatesByProject(ctx context.Context, projectID string) ([]*model.QualityGate, error)
	// FindLatestGate returns the most recently created matching gate without items.
	FindLatestGate(ctx context.Context, projectID string, phase model.Phase, gateType model.GateType) (*model.QualityGate, error)
}

type DefectQueries interface {
	InsertDefect(ctx context.Context, d *model.Defect) error
	GetDefect(ctx context.Context, defectID string) (*model.Defect, error)
	LockDefect(ctx context.Context, defectID string) (*model.Defect, error)
	UpdateDefect(ctx context.Context, d *model.Defect) error
	ListDefects(ctx context.Context, projectID string, filter model.DefectFilter) ([]*model.Defect, error)
}

type EventQueries interface {
	EnqueueEvent(ctx context.Context, event *outbox.Event) error
}

type Queries interface {
	PhaseStateQueries
	TransitionQueries
	GateQueries
	DefectQueries
	EventQueries
}

type Store interface {
	Queries
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
	Ping(ctx context.Context) error
}
