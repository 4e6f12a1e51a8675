package sim

import (
	"errors"
	"fmt"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
)

var (
	// ErrValidation is returned when input violates an archetype schema or a type invariant.
	ErrValidation = errors.New("validation error")
	// ErrState is returned for operations requested at the wrong time or phase.
	ErrState = errors.New("state error")
)

// ErrorKind classifies simulation errors.
type ErrorKind string

const (
	KindValidation         ErrorKind = "ValidationError"
	KindInvalidComposition ErrorKind = "InvalidComposition"
	KindConservation       ErrorKind = "ConservationViolation"
	KindQualityMismatch    ErrorKind = "QualityMismatch"
	KindSchemaMismatch     ErrorKind = "SchemaMismatch"
	KindAgentFault         ErrorKind = "AgentFault"
	KindState              ErrorKind = "StateError"
	KindSolver             ErrorKind = "SolverError"
	KindBackend            ErrorKind = "BackendError"
	KindWarning            ErrorKind = "Warning"
	KindCancelled          ErrorKind = "Cancelled"
	KindUnknown            ErrorKind = "Unknown"
)

// Error is the structured error a failed simulation surfaces to its caller.
type Error struct {
	Kind    ErrorKind
	Message string
	AgentID int // 0 when no agent is involved
	Time    int
	Phase   Phase
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s at t=%d (%s)", e.Kind, e.Time, e.Phase)
	if e.AgentID != 0 {
		msg += fmt.Sprintf(" agent %d", e.AgentID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies any error returned by the kernel.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	var te *exchange.TraderError
	if errors.As(err, &te) {
		return KindAgentFault
	}
	switch {
	case errors.Is(err, comp.ErrInvalidComposition):
		return KindInvalidComposition
	case errors.Is(err, resource.ErrConservation):
		return KindConservation
	case errors.Is(err, resource.ErrQualityMismatch):
		return KindQualityMismatch
	case errors.Is(err, resource.ErrValue), errors.Is(err, ErrValidation), errors.Is(err, exchange.ErrPortfolio):
		return KindValidation
	case errors.Is(err, recorder.ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, recorder.ErrBackend):
		return KindBackend
	case errors.Is(err, exchange.ErrSolver):
		return KindSolver
	case errors.Is(err, ErrState):
		return KindState
	case errors.Is(err, errCancelled):
		return KindCancelled
	}
	return KindUnknown
}

var errCancelled = errors.New("simulation cancelled")

// agentFault wraps an error raised by an agent callback.
func agentFault(agentID, t int, phase Phase, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: KindAgentFault, AgentID: agentID, Time: t, Phase: phase, Err: err}
}

// callAgent runs fn, converting an error or panic into an AgentFault.
func callAgent(agentID, t int, phase Phase, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = agentFault(agentID, t, phase, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		return agentFault(agentID, t, phase, err)
	}
	return nil
}
