package quality

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "projectflow/contracts/mq"
	"projectflow/internal/apperr"
	"projectflow/internal/document"
	"projectflow/internal/model"
	"projectflow/internal/repository/memory"
	"projectflow/internal/workflow"
	"projectflow/pkg/lock"
)

func newGateService() (*GateService, *memory.Store) {
	store := memory.NewStore()
	return NewGateService(store, zap.NewNop()), store
}

func createGate(t *testing.T, svc *GateService, projectID string, descs ...string) *model.QualityGate {
	t.Helper()
	items := make([]model.ChecklistEntry, 0, len(descs))
	for _, d := range descs {
		items = append(items, model.ChecklistEntry{ItemDescription: d})
	}
	gate, err := svc.CreateQualityGate(context.Background(), CreateGateRequest{
		ProjectID: projectID,
		Phase:     model.PhaseProcurement,
		GateType:  model.GateMaterialQA,
		Items:     items,
	})
	require.NoError(t, err)
	return gate
}

func setItem(t *testing.T, svc *GateService, itemID string, passed bool) {
	t.Helper()
	_, err := svc.UpdateChecklistItem(context.Background(), itemID, ChecklistUpdate{Passed: passed})
	require.NoError(t, err)
}

func reasonOf(t *testing.T, err error) apperr.Reason {
	t.Helper()
	ve, ok := apperr.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	return ve.Reason
}

func TestCreateQualityGate(t *testing.T) {
	svc, _ := newGateService()
	inspector := "insp-1"
	gate, err := svc.CreateQualityGate(context.Background(), CreateGateRequest{
		ProjectID:   "P1",
		Phase:       model.PhaseProduction,
		GateType:    model.GateProductionQC,
		Items:       []model.ChecklistEntry{{ItemDescription: "weld seams"}, {ItemDescription: " paint thickness "}},
		InspectorID: &inspector,
	})
	require.NoError(t, err)

	assert.Equal(t, model.GateStatusPending, gate.Status)
	assert.Nil(t, gate.Passed)
	require.Len(t, gate.Items, 2)
	for i, item := range gate.Items {
		assert.Nil(t, item.Passed)
		assert.Equal(t, gate.ID, item.QualityGateID)
		assert.Equal(t, i, item.Position)
	}
	assert.Equal(t, "paint thickness", gate.Items[1].ItemDescription)

	// duplicates are allowed
	_, err = svc.CreateQualityGate(context.Background(), CreateGateRequest{
		ProjectID: "P1", Phase: model.PhaseProduction, GateType: model.GateProductionQC,
	})
	require.NoError(t, err)
	gates, err := svc.GetProjectQualityGates(context.Background(), "P1")
	require.NoError(t, err)
	assert.Len(t, gates, 2)
}

func TestCreateQualityGateValidation(t *testing.T) {
	svc, _ := newGateService()
	ctx := context.Background()

	_, err := svc.CreateQualityGate(ctx, CreateGateRequest{ProjectID: "P1", Phase: 9, GateType: model.GateFinalQC})
	assert.Equal(t, apperr.ReasonInvalidPhase, reasonOf(t, err))

	_, err = svc.CreateQualityGate(ctx, CreateGateRequest{ProjectID: "P1", Phase: 4, GateType: "smoke_test"})
	assert.Equal(t, apperr.ReasonInvalidInput, reasonOf(t, err))

	_, err = svc.CreateQualityGate(ctx, CreateGateRequest{
		ProjectID: "P1", Phase: 4, GateType: model.GateMaterialQA,
		Items: []model.ChecklistEntry{{ItemDescription: "  "}},
	})
	assert.Equal(t, apperr.ReasonInvalidInput, reasonOf(t, err))
}

func TestFinalizeRequiresVerifiedItems(t *testing.T) {
	svc, store := newGateService()
	ctx := context.Background()
	gate := createGate(t, svc, "P1", "a", "b")

	_, err := svc.FinalizeInspection(ctx, gate.ID, true, "inspector1", nil)
	assert.Equal(t, apperr.ReasonChecklistIncomplete, reasonOf(t, err))

	setItem(t, svc, gate.Items[0].ID, true)
	_, err = svc.FinalizeInspection(ctx, gate.ID, true, "inspector1", nil)
	assert.Equal(t, apperr.ReasonChecklistIncomplete, reasonOf(t, err))
	assert.Empty(t, store.Events())

	setItem(t, svc, gate.Items[1].ID, true)
	comments := "all good"
	done, err := svc.FinalizeInspection(ctx, gate.ID, true, "inspector1", &comments)
	require.NoError(t, err)
	assert.Equal(t, model.GateStatusPassed, done.Status)
	require.NotNil(t, done.Passed)
	assert.True(t, *done.Passed)
	assert.NotNil(t, done.InspectionDate)
	assert.Equal(t, "inspector1", *done.FinalizedBy)

	events := store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.RoutingKeyInspectionPassed, events[0].RoutingKey)
	assert.Contains(t, string(events[0].Payload), `"gate_id":"`+gate.ID+`"`)
}

func TestFinalizeRejectsFailedItems(t *testing.T) {
	svc, _ := newGateService()
	ctx := context.Background()
	gate := createGate(t, svc, "P1", "a", "b", "c")
	setItem(t, svc, gate.Items[0].ID, true)
	setItem(t, svc, gate.Items[1].ID, false)
	setItem(t, svc, gate.Items[2].ID, true)

	_, err := svc.FinalizeInspection(ctx, gate.ID, true, "inspector1", nil)
	assert.Equal(t, apperr.ReasonChecklistFailed, reasonOf(t, err))
	ve, _ := apperr.AsValidation(err)
	assert.Equal(t, gate.ID, ve.GateID)
}

func TestFinalizeFailAlwaysAllowed(t *testing.T) {
	svc, store := newGateService()
	gate := createGate(t, svc, "P1", "a", "b")

	done, err := svc.FinalizeInspection(context.Background(), gate.ID, false, "inspector1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.GateStatusFailed, done.Status)
	assert.False(t, *done.Passed)
	assert.Equal(t, mqcontracts.RoutingKeyInspectionFailed, store.Events()[0].RoutingKey)
}

func TestFinalizedGateIsLocked(t *testing.T) {
	svc, _ := newGateService()
	ctx := context.Background()
	gate := createGate(t, svc, "P1", "a")
	_, err := svc.FinalizeInspection(ctx, gate.ID, false, "inspector1", nil)
	require.NoError(t, err)

	_, err = svc.UpdateChecklistItem(ctx, gate.Items[0].ID, ChecklistUpdate{Passed: true})
	assert.Equal(t, apperr.ReasonGateFinalized, reasonOf(t, err))

	_, err = svc.FinalizeInspection(ctx, gate.ID, false, "inspector1", nil)
	assert.Equal(t, apperr.ReasonGateFinalized, reasonOf(t, err))
}

func TestUpdateChecklistItem(t *testing.T) {
	svc, _ := newGateService()
	ctx := context.Background()
	gate := createGate(t, svc, "P1", "a")

	comments := "scratch on panel 3"
	item, err := svc.UpdateChecklistItem(ctx, gate.Items[0].ID, ChecklistUpdate{
		Passed:   false,
		Comments: &comments,
		Photos:   []string{"p1.jpg"},
	})
	require.NoError(t, err)
	assert.False(t, *item.Passed)
	assert.Equal(t, comments, *item.Comments)

	// omitted fields are kept
	item, err = svc.UpdateChecklistItem(ctx, gate.Items[0].ID, ChecklistUpdate{Passed: true})
	require.NoError(t, err)
	assert.True(t, *item.Passed)
	assert.Equal(t, comments, *item.Comments)
	assert.Equal(t, []string{"p1.jpg"}, item.Photos)

	got, err := svc.GetQualityGate(ctx, gate.ID)
	require.NoError(t, err)
	assert.Equal(t, model.GateStatusInProgress, got.Status)

	_, err = svc.UpdateChecklistItem(ctx, "missing", ChecklistUpdate{Passed: true})
	assert.True(t, apperr.IsNotFound(err))
}

func TestFinalizeUnknownGate(t *testing.T) {
	svc, _ := newGateService()
	_, err := svc.FinalizeInspection(context.Background(), "missing", true, "inspector1", nil)
	assert.True(t, apperr.IsNotFound(err))
}

func TestProjectGatesOrderedByPhase(t *testing.T) {
	svc, _ := newGateService()
	ctx := context.Background()
	for _, p := range []model.Phase{model.PhaseQuality, model.PhaseProcurement, model.PhaseProduction} {
		_, err := svc.CreateQualityGate(ctx, CreateGateRequest{ProjectID: "P1", Phase: p, GateType: model.GateFinalQC})
		require.NoError(t, err)
	}
	_, err := svc.CreateQualityGate(ctx, CreateGateRequest{ProjectID: "P2", Phase: 1, GateType: model.GateFinalQC})
	require.NoError(t, err)

	gates, err := svc.GetProjectQualityGates(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, gates, 3)
	assert.Equal(t, model.PhaseProcurement, gates[0].Phase)
	assert.Equal(t, model.PhaseProduction, gates[1].Phase)
	assert.Equal(t, model.PhaseQuality, gates[2].Phase)
}

func TestScenarioInspectionUnblocksProduction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	docs := document.NewMemoryOracle()
	for _, d := range []string{document.SiteMeasurements, document.BOM, document.TechnicalDrawings} {
		docs.Add("P1", d)
	}
	wf := workflow.NewService(store, workflow.NewValidator(docs, zap.NewNop()), nil, lock.NewLocalLocker(), zap.NewNop())
	gates := NewGateService(store, zap.NewNop())

	for p := model.PhaseSiteDesign; p <= model.PhaseProcurement; p++ {
		_, err := wf.TransitionPhase(ctx, "P1", p, "admin")
		require.NoError(t, err)
	}

	gate := createGate(t, gates, "P1", "check raw materials")
	_, err := gates.FinalizeInspection(ctx, gate.ID, true, "inspector1", nil)
	require.Error(t, err)

	_, err = wf.TransitionPhase(ctx, "P1", model.PhaseProduction, "admin")
	assert.Equal(t, apperr.ReasonGateNotPassed, reasonOf(t, err))

	setItem(t, gates, gate.Items[0].ID, true)
	done, err := gates.FinalizeInspection(ctx, gate.ID, true, "inspector1", nil)
	require.NoError(t, err)
	assert.Equal(t, model.GateStatusPassed, done.Status)

	state, err := wf.TransitionPhase(ctx, "P1", model.PhaseProduction, "admin")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseProduction, state.CurrentPhase)
}
