package worker

import (
	"errors"
	"fmt"

	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/db"
	"github.com/02loveslollipop/aws-rainfall/services/worker/internal/weatherlink"
)

// Reason classifies a fatal condition. It is also the error_type written to
// failover files.
type Reason string

const (
	ReasonDBConn      Reason = "DB_CONN_FAIL"
	ReasonDBReconnect Reason = "DB_RECONNECT_FAIL"
	ReasonAPIFetch    Reason = "API_FETCH_FAIL"
	// ReasonDBInsert covers rejected records: incomplete ones and failed writes.
	ReasonDBInsert  Reason = "DB_INSERT_FAIL"
	ReasonGeneral   Reason = "GENERAL_ERROR"
	ReasonSingleRun Reason = "SINGLE_RUN_FAIL"
)

// FatalError terminates the worker. main maps it to exit status 1.
type FatalError struct {
	Reason Reason
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Classify maps an error returned by a collaborator to a Reason.
func Classify(err error) Reason {
	var fatal *FatalError
	switch {
	case errors.As(err, &fatal):
		return fatal.Reason
	case errors.Is(err, db.ErrConnect), errors.Is(err, db.ErrReconnect):
		return ReasonDBConn
	case errors.Is(err, db.ErrIncomplete), errors.Is(err, db.ErrWrite):
		return ReasonDBInsert
	case errors.Is(err, weatherlink.ErrFetch):
		return ReasonAPIFetch
	default:
		return ReasonGeneral
	}
}
