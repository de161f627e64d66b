package flash

import (
	"fmt"
	"slices"

	"isoforge/internal/events"
)

// Phase is the state of a FlashJob.
type Phase = events.Phase

const (
	PhaseIdle      = events.PhaseIdle
	PhasePreparing = events.PhasePreparing
	PhaseWriting   = events.PhaseWriting
	PhaseVerifying = events.PhaseVerifying
	PhaseDone      = events.PhaseDone
	PhaseFailed    = events.PhaseFailed
	PhaseCancelled = events.PhaseCancelled
)

// transitions lists the legal successors of each phase. Cancelled is absent
// from Verifying: a cancelled verification ends Failed.
var transitions = map[Phase][]Phase{
	PhaseIdle:      {PhasePreparing, PhaseFailed},
	PhasePreparing: {PhaseWriting, PhaseFailed, PhaseCancelled},
	PhaseWriting:   {PhaseVerifying, PhaseFailed, PhaseCancelled},
	PhaseVerifying: {PhaseDone, PhaseFailed},
}

// CanTransition reports whether a job may move from one phase to the next.
func CanTransition(from, to Phase) bool {
	return slices.Contains(transitions[from], to)
}

func checkTransition(from, to Phase) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal phase transition %s -> %s", from, to)
	}
	return nil
}
