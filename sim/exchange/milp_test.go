package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// crossedGraph is a graph where greedy is suboptimal: agent 1 grabs the
// bid agent 2 values far more, although agent 1 has an alternative.
func crossedGraph() (*graphBuilder, *Arc, *Arc, *Arc) {
	b := newGraphBuilder()
	ra := b.node(b.group(1, true), 1, false)
	rb := b.node(b.group(2, true), 1, false)
	x := b.node(b.group(3, false), 1, false)
	y := b.node(b.group(4, false), 1, false)
	ax := b.g.AddArc(ra, x, 2)
	ay := b.g.AddArc(ra, y, 1)
	bx := b.g.AddArc(rb, x, 10)
	return b, ax, ay, bx
}

func TestMILP_BeatsGreedyOnCrossedGraph(t *testing.T) {
	// GIVEN the crossed graph
	b, ax, ay, bx := crossedGraph()

	// WHEN solved both ways
	greedy, err := (&GreedySolver{}).Solve(context.Background(), b.g)
	require.NoError(t, err)
	milp, err := (&MILPSolver{}).Solve(context.Background(), b.g)
	require.NoError(t, err)

	// THEN greedy takes the locally best arc and MILP the globally best pair
	assert.Equal(t, map[int]float64{ax.ID: 1}, amounts(greedy))
	got := amounts(milp)
	assert.InDelta(t, 1, got[ay.ID], Eps)
	assert.InDelta(t, 1, got[bx.ID], Eps)
	assert.Zero(t, got[ax.ID])
	assert.NoError(t, b.g.Verify(milp))
}

func TestMILP_ExclusiveArcsAreAllOrNothing(t *testing.T) {
	// GIVEN an exclusive request of 2 and two bids of 1.5
	b := newGraphBuilder()
	req := b.node(b.group(1, true), 2, true)
	b.g.AddArc(req, b.node(b.group(2, false), 1.5, false), 5)
	b.g.AddArc(req, b.node(b.group(3, false), 1.5, false), 5)

	// WHEN solved
	matches, err := (&MILPSolver{}).Solve(context.Background(), b.g)
	require.NoError(t, err)

	// THEN nothing can be matched
	assert.Empty(t, matches)
}

func TestMILP_ExclusiveChoosesBestCombination(t *testing.T) {
	// GIVEN exclusive requests of 2 and 3 against one bid of 3
	b := newGraphBuilder()
	r2 := b.node(b.group(1, true), 2, true)
	r3 := b.node(b.group(2, true), 3, true)
	bid := b.node(b.group(3, false), 3, false)
	b.g.AddArc(r2, bid, 1)
	a3 := b.g.AddArc(r3, bid, 1)

	matches, err := (&MILPSolver{}).Solve(context.Background(), b.g)
	require.NoError(t, err)

	// THEN the larger request is served since it moves more weighted flow
	require.Len(t, matches, 1)
	assert.Equal(t, a3, matches[0].Arc)
	assert.InDelta(t, 3, matches[0].Amount, Eps)
}

func TestMILP_TieBreaksOnLowestArc(t *testing.T) {
	// GIVEN one request of 1 and two identical bids
	b := newGraphBuilder()
	req := b.node(b.group(1, true), 1, false)
	first := b.g.AddArc(req, b.node(b.group(2, false), 1, false), 1)
	b.g.AddArc(req, b.node(b.group(3, false), 1, false), 1)

	matches, err := (&MILPSolver{}).Solve(context.Background(), b.g)
	require.NoError(t, err)

	// THEN the lexicographically smallest arc carries the flow
	require.Len(t, matches, 1)
	assert.Equal(t, first, matches[0].Arc)
}

func TestMILP_RespectsCapacity(t *testing.T) {
	b := newGraphBuilder()
	r1 := b.node(b.group(1, true), 5, false)
	r2 := b.node(b.group(2, true), 5, false)
	bidGrp := b.group(3, false, 6)
	a1 := b.g.AddArc(r1, b.node(bidGrp, 5, false), 1)
	a2 := b.g.AddArc(r2, b.node(bidGrp, 5, false), 3)

	matches, err := (&MILPSolver{}).Solve(context.Background(), b.g)
	require.NoError(t, err)

	got := amounts(matches)
	assert.InDelta(t, 5, got[a2.ID], 1e-6)
	assert.InDelta(t, 1, got[a1.ID], 1e-6)
	assert.NoError(t, b.g.Verify(matches))
}

func TestMILP_CancelledContext(t *testing.T) {
	b, _, _, _ := crossedGraph()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&MILPSolver{}).Solve(ctx, b.g)
	assert.True(t, errors.Is(err, ErrSolver))
}

func TestMILP_NodeLimit(t *testing.T) {
	// GIVEN a problem whose relaxation is fractional and a one-node budget
	b := newGraphBuilder()
	bid := b.node(b.group(3, false), 3, false)
	b.g.AddArc(b.node(b.group(1, true), 2, true), bid, 1)
	b.g.AddArc(b.node(b.group(2, true), 2, true), bid, 1)

	_, err := (&MILPSolver{MaxNodes: 1}).Solve(context.Background(), b.g)
	assert.ErrorIs(t, err, ErrSolver)
}

func TestMILP_EmptyGraph(t *testing.T) {
	matches, err := (&MILPSolver{}).Solve(context.Background(), NewGraph())
	require.NoError(t, err)
	assert.Empty(t, matches)
}
