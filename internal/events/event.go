package events

import (
	"fmt"
	"time"
)

// Phase is a flash job state.
type Phase string

const (
	PhaseIdle      Phase = "Idle"
	PhasePreparing Phase = "Preparing"
	PhaseWriting   Phase = "Writing"
	PhaseVerifying Phase = "Verifying"
	PhaseDone      Phase = "Done"
	PhaseFailed    Phase = "Failed"
	PhaseCancelled Phase = "Cancelled"
)

// IsTerminal reports whether no transition leaves p.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseDone, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// Stage names the activity a progress event measures.
type Stage string

const (
	StageDownload Stage = "download"
	StageChecksum Stage = "checksum"
	StageWrite    Stage = "write"
	StageSync     Stage = "sync"
	StageVerify   Stage = "verify"
)

// Type distinguishes phase transitions from progress samples.
type Type string

const (
	TypePhase    Type = "phase"
	TypeProgress Type = "progress"
)

// Event is a single progress or state-transition notice for one job.
// BytesTotal is -1 when the total is unknown.
type Event struct {
	JobID      string
	Type       Type
	Phase      Phase
	Stage      Stage
	BytesDone  int64
	BytesTotal int64
	Time       time.Time
	Message    string
	Err        error
}

// Terminal reports whether e ends the job's event stream.
func (e Event) Terminal() bool {
	return e.Type == TypePhase && e.Phase.IsTerminal()
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (e Event) Percent() float64 {
	if e.BytesTotal <= 0 {
		return -1
	}
	return min(float64(e.BytesDone)*100/float64(e.BytesTotal), 100)
}

func (e Event) String() string {
	switch e.Type {
	case TypeProgress:
		return fmt.Sprintf("%s/%s %d/%d", e.Phase, e.Stage, e.BytesDone, e.BytesTotal)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Phase, e.Err)
		}
		return string(e.Phase)
	}
}

// PhaseEvent builds a transition notice.
func PhaseEvent(phase Phase, message string, err error) Event {
	return Event{Type: TypePhase, Phase: phase, BytesTotal: -1, Message: message, Err: err}
}

// ProgressEvent builds a byte-progress sample.
func ProgressEvent(phase Phase, stage Stage, done, total int64) Event {
	if total < 0 {
		total = -1
	}
	return Event{Type: TypeProgress, Phase: phase, Stage: stage, BytesDone: done, BytesTotal: total}
}
