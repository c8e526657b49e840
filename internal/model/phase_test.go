package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhaseValid(t *testing.T) {
	assert.False(t, Phase(0).Valid())
	assert.True(t, PhasePlanning.Valid())
	assert.True(t, PhaseInstallation.Valid())
	assert.False(t, Phase(9).Valid())
}

func TestPhaseNames(t *testing.T) {
	assert.Equal(t, "Site & Design", PhaseSiteDesign.Name())
	assert.Equal(t, "Installation", PhaseInstallation.Name())
	assert.Equal(t, "Phase(12)", Phase(12).Name())
	assert.Equal(t, "3 (Technical)", PhaseTechnical.String())
}

func TestPhasesOrdered(t *testing.T) {
	phases := Phases()
	assert.Len(t, phases, 8)
	for i, p := range phases {
		assert.Equal(t, Phase(i+1), p)
	}
}

func TestGateStatusFinalized(t *testing.T) {
	assert.False(t, GateStatusPending.Finalized())
	assert.False(t, GateStatusInProgress.Finalized())
	assert.True(t, GateStatusPassed.Finalized())
	assert.True(t, GateStatusFailed.Finalized())
}

func TestQualityGateCloneIsDeep(t *testing.T) {
	passed := true
	g := &QualityGate{
		ID:    "g1",
		Items: []QualityGateItem{{ID: "i1", Passed: &passed, Photos: []string{"a.jpg"}}},
	}
	c := g.Clone()
	*c.Items[0].Passed = false
	c.Items[0].Photos[0] = "b.jpg"

	assert.True(t, *g.Items[0].Passed)
	assert.Equal(t, "a.jpg", g.Items[0].Photos[0])
}
