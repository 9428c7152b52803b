package worker

import (
	"fmt"

	"github.com/02loveslollipop/aws-rainfall/internal/models"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/db"
)

// State is the worker lifecycle position.
type State int

const (
	Idle State = iota
	Connecting
	Running
	Waiting
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Status is the outcome class of one cycle.
type Status int

const (
	StatusSkipped Status = iota + 1
	StatusPersisted
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusPersisted:
		return "persisted"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// CycleResult describes what one cycle did. Outcome is set for Persisted,
// Reason for Fatal. Record is the record built in the cycle, if any.
type CycleResult struct {
	Status  Status
	Outcome db.Outcome
	Reason  Reason
	Record  *models.Record
	Err     error
}

// Mode selects how many cycles the worker runs.
type Mode string

const (
	ModeContinuous Mode = "continuous"
	ModeSingle     Mode = "single"
	ModeLimited    Mode = "limited"
)

// ParseMode accepts the names used on the command line.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeContinuous, ModeSingle, ModeLimited:
		return m, nil
	case "":
		return ModeContinuous, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want continuous, single or limited)", s)
	}
}
