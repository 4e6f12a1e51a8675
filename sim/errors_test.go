package sim

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cycsim/cycsim/sim/comp"
	"github.com/cycsim/cycsim/sim/exchange"
	"github.com/cycsim/cycsim/sim/recorder"
	"github.com/cycsim/cycsim/sim/resource"
)

func TestKindOf_Classifies(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{fmt.Errorf("x: %w", comp.ErrInvalidComposition), KindInvalidComposition},
		{fmt.Errorf("x: %w", resource.ErrConservation), KindConservation},
		{resource.ErrQualityMismatch, KindQualityMismatch},
		{resource.ErrValue, KindValidation},
		{exchange.ErrPortfolio, KindValidation},
		{ErrValidation, KindValidation},
		{fmt.Errorf("t: %w", recorder.ErrSchemaMismatch), KindSchemaMismatch},
		{recorder.ErrBackend, KindBackend},
		{exchange.ErrSolver, KindSolver},
		{ErrState, KindState},
		{errCancelled, KindCancelled},
		{&exchange.TraderError{AgentID: 3, Op: "supply", Err: errors.New("boom")}, KindAgentFault},
		{&Error{Kind: KindWarning}, KindWarning},
		{errors.New("mystery"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestCallAgent_WrapsErrorsAndPanics(t *testing.T) {
	// GIVEN a callback that fails and one that panics
	boom := errors.New("boom")

	// WHEN each is run through callAgent
	errRet := callAgent(4, 2, PhaseTick, func() error { return boom })
	errPanic := callAgent(5, 3, PhaseTock, func() error { panic("kaput") })

	// THEN both become AgentFaults carrying id, time and phase
	var se *Error
	require.ErrorAs(t, errRet, &se)
	assert.Equal(t, KindAgentFault, se.Kind)
	assert.Equal(t, 4, se.AgentID)
	assert.Equal(t, PhaseTick, se.Phase)
	assert.ErrorIs(t, errRet, boom)

	require.ErrorAs(t, errPanic, &se)
	assert.Equal(t, 5, se.AgentID)
	assert.Equal(t, 3, se.Time)
	assert.Contains(t, se.Error(), "panic: kaput")

	assert.NoError(t, callAgent(1, 0, PhaseTick, func() error { return nil }))
}

func TestCallAgent_KeepsStructuredErrors(t *testing.T) {
	inner := &Error{Kind: KindWarning, Message: "limit"}
	err := callAgent(9, 1, PhaseTick, func() error { return inner })
	assert.Same(t, inner, err)
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindAgentFault, AgentID: 7, Time: 3, Phase: PhaseExchange, Message: "bad bid", Err: errors.New("nan")}
	assert.Equal(t, "AgentFault at t=3 (exchange) agent 7: bad bid: nan", err.Error())
}
