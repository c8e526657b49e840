package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "projectflow/contracts/mq"
	"projectflow/internal/apperr"
	"projectflow/internal/document"
	"projectflow/internal/model"
	"projectflow/internal/repository"
	"projectflow/internal/repository/memory"
	"projectflow/pkg/lock"
	"projectflow/pkg/trace"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	docs  *document.MemoryOracle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	docs := document.NewMemoryOracle()
	svc := NewService(store, NewValidator(docs, zap.NewNop()), NewHooks(), lock.NewLocalLocker(), zap.NewNop())
	return &fixture{svc: svc, store: store, docs: docs}
}

// advance moves the project to phase target, satisfying document requirements on the way.
func (f *fixture) advance(t *testing.T, projectID string, target model.Phase) {
	t.Helper()
	ctx := context.Background()
	for _, doc := range []string{document.SiteMeasurements, document.BOM, document.TechnicalDrawings, document.InstallationGuide} {
		f.docs.Add(projectID, doc)
	}
	state, err := f.svc.GetCurrentPhase(ctx, projectID)
	require.NoError(t, err)
	for p := state.CurrentPhase + 1; p <= target; p++ {
		_, err := f.svc.TransitionPhase(ctx, projectID, p, "setup")
		require.NoError(t, err)
	}
}

func (f *fixture) insertGate(t *testing.T, projectID string, phase model.Phase, gateType model.GateType, status model.GateStatus) *model.QualityGate {
	t.Helper()
	now := time.Now()
	gate := &model.QualityGate{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Phase:     phase,
		GateType:  gateType,
		Status:    status,
		Items:     []model.QualityGateItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := f.store.InTx(context.Background(), func(ctx context.Context, q repository.Queries) error {
		return q.InsertGate(ctx, gate)
	})
	require.NoError(t, err)
	return gate
}

func (f *fixture) history(t *testing.T, projectID string) []*model.PhaseTransitionRecord {
	t.Helper()
	records, err := f.svc.GetTransitionHistory(context.Background(), projectID)
	require.NoError(t, err)
	return records
}

func requireReason(t *testing.T, err error, reason apperr.Reason) *apperr.ValidationError {
	t.Helper()
	require.Error(t, err)
	ve, ok := apperr.AsValidation(err)
	require.True(t, ok, "expected validation error, got %v", err)
	assert.Equal(t, reason, ve.Reason)
	return ve
}

func TestGetCurrentPhaseInitializesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.GetCurrentPhase(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, first.CurrentPhase)
	assert.Equal(t, model.ProjectStatusActive, first.Status)
	assert.Empty(t, first.BlockingReasons)

	second, err := f.svc.GetCurrentPhase(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	records := f.history(t, "P1")
	require.Len(t, records, 1)
	assert.Nil(t, records[0].FromPhase)
	assert.Equal(t, model.PhasePlanning, records[0].ToPhase)
	assert.Equal(t, model.TransitionAutomatic, records[0].TransitionType)
	assert.Equal(t, SystemActor, records[0].TriggeredBy)
}

func TestGetCurrentPhaseConcurrentFirstAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state, err := f.svc.GetCurrentPhase(ctx, "P1")
			if assert.NoError(t, err) {
				ids[i] = state.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, f.history(t, "P1"), 1)
}

func TestGetCurrentPhaseRequiresProjectID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetCurrentPhase(context.Background(), "")
	requireReason(t, err, apperr.ReasonInvalidInput)
}

func TestTransitionSamePhaseIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhaseSiteDesign)
	before := f.history(t, "P1")
	eventsBefore := len(f.store.Events())

	state, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSiteDesign, state.CurrentPhase)
	assert.Len(t, f.history(t, "P1"), len(before))
	assert.Len(t, f.store.Events(), eventsBefore)
}

func TestTransitionSamePhaseOnNewProjectOnlyInitializes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	state, err := f.svc.TransitionPhase(ctx, "P-new", model.PhasePlanning, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, state.CurrentPhase)

	// only the initialization record; the call itself adds nothing
	history := f.history(t, "P-new")
	require.Len(t, history, 1)
	assert.Nil(t, history[0].FromPhase)
	assert.Equal(t, model.TransitionAutomatic, history[0].TransitionType)
	assert.Equal(t, SystemActor, history[0].TriggeredBy)
	assert.Empty(t, f.store.Events())

	_, err = f.svc.TransitionPhase(ctx, "P-new", model.PhasePlanning, "alice")
	require.NoError(t, err)
	assert.Len(t, f.history(t, "P-new"), 1)
}

func TestTransitionRejectsSkips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhasePlanning)

	for _, to := range []model.Phase{model.PhaseTechnical, model.PhaseProcurement, model.PhaseInstallation} {
		_, err := f.svc.TransitionPhase(ctx, "P1", to, "alice")
		ve := requireReason(t, err, apperr.ReasonPhaseSkip)
		assert.Equal(t, 1, ve.FromPhase)
		assert.Equal(t, int(to), ve.ToPhase)
		assert.Equal(t, "P1", ve.ProjectID)
	}

	state, err := f.svc.GetCurrentPhase(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, state.CurrentPhase)
	assert.Len(t, f.history(t, "P1"), 1)
}

func TestTransitionRejectsUnknownPhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, to := range []model.Phase{0, 9, -1} {
		_, err := f.svc.TransitionPhase(ctx, "P1", to, "alice")
		requireReason(t, err, apperr.ReasonInvalidPhase)
	}
}

func TestTransitionRequiresActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TransitionPhase(context.Background(), "P1", model.PhaseSiteDesign, "")
	requireReason(t, err, apperr.ReasonInvalidInput)
}

func TestTransitionRequiresDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.NoError(t, err)

	_, err = f.svc.TransitionPhase(ctx, "P1", model.PhaseTechnical, "alice")
	ve := requireReason(t, err, apperr.ReasonDocumentMissing)
	assert.Equal(t, document.SiteMeasurements, ve.DocumentType)
	assert.Contains(t, ve.Message, document.SiteMeasurements)

	f.docs.Add("P1", document.SiteMeasurements)
	state, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseTechnical, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseTechnical, state.CurrentPhase)

	// procurement needs both documents; the first missing one is reported
	f.docs.Add("P1", document.TechnicalDrawings)
	_, err = f.svc.TransitionPhase(ctx, "P1", model.PhaseProcurement, "alice")
	ve = requireReason(t, err, apperr.ReasonDocumentMissing)
	assert.Equal(t, document.BOM, ve.DocumentType)
}

func TestTransitionGateSoftEnforcement(t *testing.T) {
	t.Run("absent gate does not block", func(t *testing.T) {
		f := newFixture(t)
		f.advance(t, "P1", model.PhaseProcurement)
		state, err := f.svc.TransitionPhase(context.Background(), "P1", model.PhaseProduction, "admin")
		require.NoError(t, err)
		assert.Equal(t, model.PhaseProduction, state.CurrentPhase)
	})

	t.Run("existing gate must pass", func(t *testing.T) {
		for _, status := range []model.GateStatus{model.GateStatusPending, model.GateStatusInProgress, model.GateStatusFailed} {
			f := newFixture(t)
			f.advance(t, "P1", model.PhaseProcurement)
			gate := f.insertGate(t, "P1", model.PhaseProcurement, model.GateMaterialQA, status)

			_, err := f.svc.TransitionPhase(context.Background(), "P1", model.PhaseProduction, "admin")
			ve := requireReason(t, err, apperr.ReasonGateNotPassed)
			assert.Equal(t, gate.ID, ve.GateID)
			assert.Equal(t, string(model.GateMaterialQA), ve.GateType)
		}
	})

	t.Run("latest gate decides", func(t *testing.T) {
		f := newFixture(t)
		f.advance(t, "P1", model.PhaseProcurement)
		f.insertGate(t, "P1", model.PhaseProcurement, model.GateMaterialQA, model.GateStatusFailed)
		f.insertGate(t, "P1", model.PhaseProcurement, model.GateMaterialQA, model.GateStatusPassed)

		_, err := f.svc.TransitionPhase(context.Background(), "P1", model.PhaseProduction, "admin")
		require.NoError(t, err)
	})

	t.Run("gates of other phases are ignored", func(t *testing.T) {
		f := newFixture(t)
		f.advance(t, "P1", model.PhaseProcurement)
		f.insertGate(t, "P1", model.PhaseProduction, model.GateMaterialQA, model.GateStatusFailed)
		f.insertGate(t, "P2", model.PhaseProcurement, model.GateMaterialQA, model.GateStatusFailed)

		_, err := f.svc.TransitionPhase(context.Background(), "P1", model.PhaseProduction, "admin")
		require.NoError(t, err)
	})
}

func TestTransitionBackwardUsesTargetRequirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhaseProcurement)

	f.docs.Remove("P1", document.SiteMeasurements)
	_, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseTechnical, "alice")
	requireReason(t, err, apperr.ReasonDocumentMissing)

	f.docs.Add("P1", document.SiteMeasurements)
	state, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseTechnical, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseTechnical, state.CurrentPhase)

	// backward moves of more than one phase are not sequence-checked
	state, err = f.svc.TransitionPhase(ctx, "P1", model.PhasePlanning, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, state.CurrentPhase)
}

func TestTransitionAppendsRecordAndEvent(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.svc.WithClock(func() time.Time { return fixed })
	ctx := trace.WithContext(context.Background(), "trace-1")

	state, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSiteDesign, state.CurrentPhase)
	require.NotNil(t, state.ActualCompletionDate)
	assert.True(t, fixed.Equal(*state.ActualCompletionDate))

	records := f.history(t, "P1")
	require.Len(t, records, 2)
	last := records[1]
	require.NotNil(t, last.FromPhase)
	assert.Equal(t, model.PhasePlanning, *last.FromPhase)
	assert.Equal(t, model.PhaseSiteDesign, last.ToPhase)
	assert.Equal(t, "alice", last.TriggeredBy)
	assert.Equal(t, model.TransitionManual, last.TransitionType)
	assert.NotEmpty(t, last.ConditionsMet)
	for _, c := range last.ConditionsMet {
		assert.True(t, c.Passed)
	}

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, mqcontracts.RoutingKeyPhaseChanged, events[0].RoutingKey)
	assert.Equal(t, mqcontracts.AggregateProject, events[0].AggregateType)
	assert.Contains(t, string(events[0].Payload), `"trace_id":"trace-1"`)
	assert.Contains(t, string(events[0].Payload), `"to_phase":2`)
}

func TestTransitionAutomaticType(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.TransitionPhase(context.Background(), "P1", model.PhaseSiteDesign, "mq",
		WithTransitionType(model.TransitionAutomatic))
	require.NoError(t, err)

	records := f.history(t, "P1")
	assert.Equal(t, model.TransitionAutomatic, records[len(records)-1].TransitionType)
}

func TestTransitionRecordCountIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhasePlanning)

	count := len(f.history(t, "P1"))
	steps := []model.Phase{2, 3, 2, 2, 4, 3, 4}
	f.docs.Add("P1", document.SiteMeasurements)
	for _, to := range steps {
		_, _ = f.svc.TransitionPhase(ctx, "P1", to, "alice")
		n := len(f.history(t, "P1"))
		assert.GreaterOrEqual(t, n, count)
		count = n
	}
}

func TestConcurrentTransitionsRecordOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhasePlanning)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	moves := 0
	for _, r := range f.history(t, "P1") {
		if r.FromPhase != nil && *r.FromPhase == model.PhasePlanning && r.ToPhase == model.PhaseSiteDesign {
			moves++
		}
	}
	assert.Equal(t, 1, moves)
	assert.Len(t, f.store.Events(), 1)
}

func TestPreHookFailureAbortsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhasePlanning)

	boom := errors.New("boom")
	f.svc.Hooks().Register(model.PhaseSiteDesign, Pre, "reserve-crew", func(context.Context, TransitionEvent) error {
		return boom
	})

	_, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.ErrorIs(t, err, boom)

	state, err := f.svc.GetCurrentPhase(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, state.CurrentPhase)
	assert.Len(t, f.history(t, "P1"), 1)
	assert.Empty(t, f.store.Events())
}

func TestPreHookWritesInsideTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhasePlanning)

	var sawQueries bool
	f.svc.Hooks().Register(AnyPhase, Pre, "inspect", func(ctx context.Context, ev TransitionEvent) error {
		sawQueries = ev.Queries != nil
		state, err := ev.Queries.LockPhaseState(ctx, ev.ProjectID)
		if err != nil {
			return err
		}
		assert.Equal(t, model.PhasePlanning, state.CurrentPhase)
		return nil
	})

	_, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.NoError(t, err)
	assert.True(t, sawQueries)
}

func TestPostHookFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhasePlanning)

	var got TransitionEvent
	f.svc.Hooks().Register(model.PhaseSiteDesign, Post, "notify", func(_ context.Context, ev TransitionEvent) error {
		got = ev
		return errors.New("notify failed")
	})

	state, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSiteDesign, state.CurrentPhase)
	assert.Equal(t, model.PhasePlanning, got.FromPhase)
	assert.Nil(t, got.Queries)
}

func TestCheckTransitionStoresBlockingReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.advance(t, "P1", model.PhaseTechnical)
	f.docs.Remove("P1", document.BOM)
	f.docs.Remove("P1", document.TechnicalDrawings)

	res, err := f.svc.CheckTransition(ctx, "P1", model.PhaseProcurement)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Len(t, res.BlockingReasons(), 2)

	state, err := f.svc.GetCurrentPhase(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseTechnical, state.CurrentPhase)
	assert.Len(t, state.BlockingReasons, 2)
	historyLen := len(f.history(t, "P1"))

	f.docs.Add("P1", document.BOM)
	f.docs.Add("P1", document.TechnicalDrawings)
	state, err = f.svc.TransitionPhase(ctx, "P1", model.PhaseProcurement, "alice")
	require.NoError(t, err)
	assert.Empty(t, state.BlockingReasons)
	assert.Len(t, f.history(t, "P1"), historyLen+1)
}

func TestUpdatePhaseDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	label := "awaiting survey"
	onHold := model.ProjectStatusOnHold
	target := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)

	state, err := f.svc.UpdatePhaseDetails(ctx, "P1", model.PhaseDetails{
		CurrentStepLabel:     &label,
		Status:               &onHold,
		TargetCompletionDate: &target,
	})
	require.NoError(t, err)
	assert.Equal(t, model.PhasePlanning, state.CurrentPhase)
	assert.Equal(t, label, *state.CurrentStepLabel)
	assert.Equal(t, model.ProjectStatusOnHold, state.Status)
	assert.Len(t, f.history(t, "P1"), 1)

	bad := model.ProjectStatus("archived")
	_, err = f.svc.UpdatePhaseDetails(ctx, "P1", model.PhaseDetails{Status: &bad})
	requireReason(t, err, apperr.ReasonInvalidInput)
}

func TestScenarioDocumentGatedProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.TransitionPhase(ctx, "P1", model.PhaseSiteDesign, "alice")
	require.NoError(t, err)

	_, err = f.svc.TransitionPhase(ctx, "P1", model.PhaseTechnical, "alice")
	requireReason(t, err, apperr.ReasonDocumentMissing)

	f.docs.Add("P1", document.SiteMeasurements)
	_, err = f.svc.TransitionPhase(ctx, "P1", model.PhaseTechnical, "alice")
	require.NoError(t, err)

	state, err := f.svc.GetCurrentPhase(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseTechnical, state.CurrentPhase)
}

func TestPhasesCatalogue(t *testing.T) {
	phases := Phases()
	require.Len(t, phases, 8)
	assert.Equal(t, "Planning", phases[0].Name)
	assert.Empty(t, phases[0].Documents)
	assert.Equal(t, []string{document.BOM, document.TechnicalDrawings}, phases[3].Documents)
	assert.Equal(t, string(model.GateMaterialQA), phases[4].GateType)
	assert.Equal(t, int(model.PhaseProcurement), phases[4].GatePhase)
	assert.Equal(t, []string{document.InstallationGuide}, phases[7].Documents)
}
