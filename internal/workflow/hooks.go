package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"projectflow/internal/model"
	"projectflow/internal/repository"
	"projectflow/pkg/metrics"
)

type Timing string

const (
	// Pre hooks run inside the transition transaction; an error aborts the transition.
	Pre Timing = "pre"
	// Post hooks run after commit; errors are reported but never undo the transition.
	Post Timing = "post"
)

// AnyPhase registers a hook for every target phase.
const AnyPhase model.Phase = 0

// TransitionEvent describes the transition a hook is invoked for.
type TransitionEvent struct {
	ProjectID      string
	FromPhase      model.Phase
	ToPhase        model.Phase
	TransitionType model.TransitionType
	TriggeredBy    string
	// Queries is bound to the transition transaction for pre hooks and nil for post hooks.
	Queries repository.Queries
}

type HookFunc func(ctx context.Context, ev TransitionEvent) error

type hook struct {
	name string
	fn   HookFunc
}

type hookKey struct {
	phase  model.Phase
	timing Timing
}

// Hooks is the registry of phase actions keyed by target phase and timing.
type Hooks struct {
	mu    sync.RWMutex
	hooks map[hookKey][]hook
}

func NewHooks() *Hooks {
	return &Hooks{hooks: map[hookKey][]hook{}}
}

// Register adds fn to run when a project enters phase.
func (h *Hooks) Register(phase model.Phase, timing Timing, name string, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := hookKey{phase: phase, timing: timing}
	h.hooks[k] = append(h.hooks[k], hook{name: name, fn: fn})
}

// matching returns AnyPhase hooks first, then phase-specific ones, each in registration order.
func (h *Hooks) matching(phase model.Phase, timing Timing) []hook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := append([]hook{}, h.hooks[hookKey{phase: AnyPhase, timing: timing}]...)
	return append(out, h.hooks[hookKey{phase: phase, timing: timing}]...)
}

// RunPre stops at the first failing hook.
func (h *Hooks) RunPre(ctx context.Context, ev TransitionEvent) error {
	for _, hk := range h.matching(ev.ToPhase, Pre) {
		if err := hk.fn(ctx, ev); err != nil {
			metrics.IncrementPhaseHookFailure(string(Pre), hk.name)
			return fmt.Errorf("pre-transition hook %s: %w", hk.name, err)
		}
	}
	return nil
}

// RunPost runs every hook and joins their errors.
func (h *Hooks) RunPost(ctx context.Context, ev TransitionEvent) error {
	var errs []error
	for _, hk := range h.matching(ev.ToPhase, Post) {
		if err := hk.fn(ctx, ev); err != nil {
			metrics.IncrementPhaseHookFailure(string(Post), hk.name)
			errs = append(errs, fmt.Errorf("post-transition hook %s: %w", hk.name, err))
		}
	}
	return errors.Join(errs...)
}
