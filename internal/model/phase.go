package model

import "fmt"

// Phase is one of the eight sequential stages a project moves through.
type Phase int

const (
	PhasePlanning Phase = iota + 1
	PhaseSiteDesign
	PhaseTechnical
	PhaseProcurement
	PhaseProduction
	PhaseQuality
	PhaseLogistics
	PhaseInstallation
)

const (
	FirstPhase = PhasePlanning
	LastPhase  = PhaseInstallation
)

var phaseNames = map[Phase]string{
	PhasePlanning:     "Planning",
	PhaseSiteDesign:   "Site & Design",
	PhaseTechnical:    "Technical",
	PhaseProcurement:  "Procurement",
	PhaseProduction:   "Production",
	PhaseQuality:      "Quality",
	PhaseLogistics:    "Logistics",
	PhaseInstallation: "Installation",
}

// Valid reports whether p is one of the eight defined phases.
func (p Phase) Valid() bool {
	return p >= FirstPhase && p <= LastPhase
}

func (p Phase) Name() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) String() string {
	return fmt.Sprintf("%d (%s)", int(p), p.Name())
}

// Phases returns all phases in order.
func Phases() []Phase {
	out := make([]Phase, 0, int(LastPhase))
	for p := FirstPhase; p <= LastPhase; p++ {
		out = append(out, p)
	}
	return out
}
