package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectflow/internal/apperr"
	"projectflow/internal/model"
	"projectflow/internal/repository"
	"projectflow/pkg/outbox"
)

func newState(projectID string) *model.ProjectPhaseState {
	now := time.Now()
	return &model.ProjectPhaseState{
		ID:              "s-" + projectID,
		ProjectID:       projectID,
		CurrentPhase:    model.PhasePlanning,
		Status:          model.ProjectStatusActive,
		BlockingReasons: []string{},
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCreatePhaseStateIfAbsent(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	created, err := s.CreatePhaseStateIfAbsent(ctx, newState("p1"))
	require.NoError(t, err)
	assert.True(t, created)

	other := newState("p1")
	other.CurrentPhase = model.PhaseLogistics
	created, err = s.CreatePhaseStateIfAbsent(ctx, other)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetPhaseState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, got.CurrentPhase)
}

func TestGetPhaseStateNotFound(t *testing.T) {
	_, err := NewStore().GetPhaseState(context.Background(), "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, err := s.CreatePhaseStateIfAbsent(ctx, newState("p1"))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.InTx(ctx, func(ctx context.Context, q repository.Queries) error {
		st, err := q.LockPhaseState(ctx, "p1")
		require.NoError(t, err)
		st.CurrentPhase = model.PhaseSiteDesign
		require.NoError(t, q.UpdatePhaseState(ctx, st))
		require.NoError(t, q.InsertTransition(ctx, &model.PhaseTransitionRecord{ID: "t1", ProjectID: "p1", ToPhase: 2}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	st, err := s.GetPhaseState(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, st.CurrentPhase)
	assert.Equal(t, int64(1), st.Version)

	recs, err := s.ListTransitions(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUpdatePhaseStateVersionConflict(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, err := s.CreatePhaseStateIfAbsent(ctx, newState("p1"))
	require.NoError(t, err)

	a, _ := s.GetPhaseState(ctx, "p1")
	b, _ := s.GetPhaseState(ctx, "p1")

	require.NoError(t, s.UpdatePhaseState(ctx, a))
	assert.Equal(t, int64(2), a.Version)
	assert.ErrorIs(t, s.UpdatePhaseState(ctx, b), repository.ErrVersionConflict)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	_, err := s.CreatePhaseStateIfAbsent(ctx, newState("p1"))
	require.NoError(t, err)

	st, _ := s.GetPhaseState(ctx, "p1")
	st.BlockingReasons = append(st.BlockingReasons, "mutated")
	st.CurrentPhase = model.PhaseQuality

	again, _ := s.GetPhaseState(ctx, "p1")
	assert.Empty(t, again.BlockingReasons)
	assert.Equal(t, model.PhasePlanning, again.CurrentPhase)
}

func TestGatesOrderedByPhaseWithItemsAndDefects(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	g5 := &model.QualityGate{ID: "g5", ProjectID: "p1", Phase: 5, GateType: model.GateProductionQC, Status: model.GateStatusPending}
	g4 := &model.QualityGate{ID: "g4", ProjectID: "p1", Phase: 4, GateType: model.GateMaterialQA, Status: model.GateStatusPending,
		Items: []model.QualityGateItem{{ID: "i1", QualityGateID: "g4", ItemDescription: "raw materials"}}}
	other := &model.QualityGate{ID: "gx", ProjectID: "p2", Phase: 1, GateType: model.GateFinalQC}
	for _, g := range []*model.QualityGate{g5, g4, other} {
		require.NoError(t, s.InsertGate(ctx, g))
	}
	gateID := "g4"
	require.NoError(t, s.InsertDefect(ctx, &model.Defect{ID: "d1", ProjectID: "p1", QualityGateID: &gateID, Status: model.DefectOpen}))

	gates, err := s.ListGatesByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, gates, 2)
	assert.Equal(t, "g4", gates[0].ID)
	assert.Equal(t, "g5", gates[1].ID)
	require.Len(t, gates[0].Items, 1)
	require.Len(t, gates[0].Defects, 1)
	assert.Equal(t, "d1", gates[0].Defects[0].ID)
	assert.Empty(t, gates[1].Defects)
}

func TestFindLatestGate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertGate(ctx, &model.QualityGate{ID: "old", ProjectID: "p1", Phase: 4, GateType: model.GateMaterialQA, Status: model.GateStatusFailed}))
	require.NoError(t, s.InsertGate(ctx, &model.QualityGate{ID: "new", ProjectID: "p1", Phase: 4, GateType: model.GateMaterialQA, Status: model.GateStatusPassed}))

	g, err := s.FindLatestGate(ctx, "p1", 4, model.GateMaterialQA)
	require.NoError(t, err)
	assert.Equal(t, "new", g.ID)

	_, err = s.FindLatestGate(ctx, "p1", 5, model.GateProductionQC)
	assert.True(t, apperr.IsNotFound(err))
}

func TestGateItemUpdate(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	require.NoError(t, s.InsertGate(ctx, &model.QualityGate{ID: "g", ProjectID: "p1", Phase: 4,
		Items: []model.QualityGateItem{{ID: "i1", QualityGateID: "g"}, {ID: "i2", QualityGateID: "g"}}}))

	item, err := s.GetGateItem(ctx, "i2")
	require.NoError(t, err)
	passed := true
	item.Passed = &passed
	require.NoError(t, s.UpdateGateItem(ctx, item))

	g, err := s.GetGate(ctx, "g")
	require.NoError(t, err)
	assert.Nil(t, g.Items[0].Passed)
	require.NotNil(t, g.Items[1].Passed)
	assert.True(t, *g.Items[1].Passed)

	_, err = s.GetGateItem(ctx, "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestListDefectsFilter(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	gate := "g1"
	require.NoError(t, s.InsertDefect(ctx, &model.Defect{ID: "d1", ProjectID: "p1", Status: model.DefectOpen, QualityGateID: &gate}))
	require.NoError(t, s.InsertDefect(ctx, &model.Defect{ID: "d2", ProjectID: "p1", Status: model.DefectResolved}))
	require.NoError(t, s.InsertDefect(ctx, &model.Defect{ID: "d3", ProjectID: "p2", Status: model.DefectOpen}))

	all, err := s.ListDefects(ctx, "p1", model.DefectFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := s.ListDefects(ctx, "p1", model.DefectFilter{Status: model.DefectOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "d1", open[0].ID)

	byGate, err := s.ListDefects(ctx, "p1", model.DefectFilter{QualityGateID: "g1"})
	require.NoError(t, err)
	require.Len(t, byGate, 1)
}

func TestOutboxLifecycle(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	e, err := outbox.NewEvent("project", "p1", "workflow.phase.changed", map[string]int{"to_phase": 2})
	require.NoError(t, err)
	require.NoError(t, s.EnqueueEvent(ctx, e))
	assert.Equal(t, int64(1), e.ID)

	pending, err := s.GetPendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.MarkAsFailed(ctx, e.ID, 2))
	pending, _ = s.GetPendingEvents(ctx, 10)
	assert.Empty(t, pending, "event is backing off")

	now = now.Add(time.Minute)
	pending, _ = s.GetPendingEvents(ctx, 10)
	assert.Len(t, pending, 1)

	require.NoError(t, s.MarkAsFailed(ctx, e.ID, 2))
	failed, err := s.GetFailedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	require.NoError(t, s.MarkAsSent(ctx, e.ID))
	got, err := s.GetEventByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusSent, got.Status)

	_, err = s.GetEventByID(ctx, 99)
	assert.ErrorIs(t, err, outbox.ErrEventNotFound)
}

func TestInTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewStore().InTx(ctx, func(context.Context, repository.Queries) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
