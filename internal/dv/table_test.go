package dv_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/overlay-lossroute/internal/cost"
	"github.com/sandia-minimega/overlay-lossroute/internal/dv"
)

type recordingBroadcaster struct {
	mu  sync.Mutex
	got map[uint16]dv.Vector
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{got: make(map[uint16]dv.Vector)}
}

func (r *recordingBroadcaster) send(dest uint16, vec dv.Vector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got[dest] = vec
}

// TestTable_InitialState covers the §3 initialization rule: self and
// every neighbor start at zero cost with no hops.
func TestTable_InitialState(t *testing.T) {
	table := dv.New(1000, []uint16{1001, 1002}, nil)
	snap := table.Snapshot()

	require.Contains(t, snap, uint16(1000))
	assert.True(t, snap[1000].Cost.Equal(cost.Zero))
	assert.Nil(t, snap[1000].Hops)

	require.Contains(t, snap, uint16(1001))
	assert.True(t, snap[1001].Cost.Equal(cost.Zero))
}

// TestTable_Relax_LinearChain covers Scenario S3: a four-node linear
// chain 1000-1001-1002-1003 where node 1000 learns the cost to 1003
// through 1001 with a single-hop next-hop list.
func TestTable_Relax_LinearChain(t *testing.T) {
	bc := newRecordingBroadcaster()
	table := dv.New(1000, []uint16{1001}, bc.send)
	table.SetLinkCost(1001, cost.FromFloat(0.1))

	// 1001 advertises that it can reach 1002 at cost 0.2, and 1003 at
	// cost 0.5 (having learned it from 1002 already).
	incoming := dv.Vector{
		1001: {Cost: cost.Zero, Hops: nil},
		1002: {Cost: cost.FromFloat(0.2), Hops: []uint16{1002}},
		1003: {Cost: cost.FromFloat(0.5), Hops: []uint16{1002}},
	}
	changed := table.Relax(1001, incoming)
	require.True(t, changed)

	snap := table.Snapshot()
	require.Contains(t, snap, uint16(1002))
	assert.InDelta(t, 0.3, snap[1002].Cost.Float64(), 1e-9)
	assert.Equal(t, []uint16{1001}, snap[1002].Hops)

	require.Contains(t, snap, uint16(1003))
	assert.InDelta(t, 0.6, snap[1003].Cost.Float64(), 1e-9)
	assert.Equal(t, []uint16{1001}, snap[1003].Hops)
}

// TestTable_Relax_TieBreak covers Scenario S4: a triangle where the
// direct link is strictly cheaper than the path through a third node,
// so the incumbent direct route must win and never get replaced by an
// equal-cost alternative.
func TestTable_Relax_TieBreak(t *testing.T) {
	bc := newRecordingBroadcaster()
	table := dv.New(1000, []uint16{1001, 1002}, bc.send)
	table.SetLinkCost(1001, cost.FromFloat(0.1))
	table.SetLinkCost(1002, cost.FromFloat(0.1))

	// 1002 advertises a path to 1001 at cost 0.0 (direct neighbor to
	// 1001 with zero measured loss): 0.1 (self->1002) + 0.0 = 0.1,
	// exactly tying the existing direct 1000->1001 route of 0.1. The
	// strict "<" rule means the incumbent (learned first, via 1001
	// directly) must not be replaced.
	incoming := dv.Vector{
		1001: {Cost: cost.Zero, Hops: nil},
		1002: {Cost: cost.Zero, Hops: nil},
	}
	table.Relax(1002, incoming)

	snap := table.Snapshot()
	assert.InDelta(t, 0.1, snap[1001].Cost.Float64(), 1e-9)
	assert.Equal(t, []uint16(nil), snap[1001].Hops)
}

// TestTable_SetLinkCost_Rebroadcasts confirms a measured-cost update
// triggers dispatch to every known destination except self.
func TestTable_SetLinkCost_Rebroadcasts(t *testing.T) {
	bc := newRecordingBroadcaster()
	table := dv.New(5000, []uint16{5001, 5002}, bc.send)

	table.SetLinkCost(5001, cost.FromFloat(0.25))

	bc.mu.Lock()
	defer bc.mu.Unlock()
	assert.Contains(t, bc.got, uint16(5001))
	assert.Contains(t, bc.got, uint16(5002))
	assert.NotContains(t, bc.got, uint16(5000))
}

// TestEncodeDecodeVector_RoundTrip exercises the wire-shape helpers
// node and cmd/dvnode both rely on for DV payload (de)serialization.
func TestEncodeDecodeVector_RoundTrip(t *testing.T) {
	v := dv.Vector{
		100: {Cost: cost.FromFloat(0.0), Hops: nil},
		200: {Cost: cost.FromFloat(0.33), Hops: []uint16{100}},
	}

	encoded := dv.EncodeVector(v)
	roundTripped := dv.DecodeVector(encoded)

	require.Contains(t, roundTripped, uint16(200))
	assert.InDelta(t, 0.33, roundTripped[200].Cost.Float64(), 1e-9)
	assert.Equal(t, []uint16{100}, roundTripped[200].Hops)
}
