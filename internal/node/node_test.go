package node_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/overlay-lossroute/internal/gbn"
	"github.com/sandia-minimega/overlay-lossroute/internal/node"
	"github.com/sandia-minimega/overlay-lossroute/internal/transport"
)

func freePort(t *testing.T) uint16 {
	t.Helper()
	ep, err := transport.NewEndpoint(0, func(string, transport.Message) {}, nil)
	require.NoError(t, err)
	port := ep.LocalPort()
	require.NoError(t, ep.Close())
	return port
}

// TestNode_DVPropagatesToNeighbor covers the composite node's basic
// wiring: broadcasting node A's table to node B causes B to relax its
// own table and learn A as a reachable destination.
func TestNode_DVPropagatesToNeighbor(t *testing.T) {
	orig := transport.PollInterval
	transport.PollInterval = 20 * time.Millisecond
	defer func() { transport.PollInterval = orig }()

	portA := freePort(t)
	portB := freePort(t)

	noDrop := func() gbn.DropPolicy { return gbn.NewDeterministic(0) }

	nodeA, err := node.New(node.Config{
		LocalPort:     portA,
		SendNeighbors: []uint16{portB},
		WindowSize:    4,
		NewDropPolicy: noDrop,
		Initiator:     true,
	}, nil)
	require.NoError(t, err)

	// B is not configured with A as a neighbor, so its table can only
	// gain a row for A by relaxing A's broadcast.
	nodeB, err := node.New(node.Config{
		LocalPort:     portB,
		WindowSize:    4,
		NewDropPolicy: noDrop,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go nodeA.Run(ctx)
	go nodeB.Run(ctx)

	require.Eventually(t, func() bool {
		snap := nodeB.Table().Snapshot()
		_, ok := snap[portA]
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	snap := nodeB.Table().Snapshot()
	entry, ok := snap[portA]
	require.True(t, ok)
	assert.InDelta(t, 0.0, entry.Cost.Float64(), 1e-9)
}

// TestNode_ProbeMeasuredLossFeedsRoutingCost covers Scenario S5: once
// probing starts, the GBN-measured loss rate to a send-neighbor
// overwrites that link's routing cost, regardless of whatever loss
// value the CLI originally declared for the reverse recv-neighbor
// link (which is always seeded at zero and never used to initialize
// a composite node's own costs).
func TestNode_ProbeMeasuredLossFeedsRoutingCost(t *testing.T) {
	origPump := gbn.PumpIdleInterval
	gbn.PumpIdleInterval = time.Millisecond
	defer func() { gbn.PumpIdleInterval = origPump }()

	orig := transport.PollInterval
	transport.PollInterval = 20 * time.Millisecond
	defer func() { transport.PollInterval = orig }()

	portA := freePort(t)
	portB := freePort(t)

	noDrop := func() gbn.DropPolicy { return gbn.NewDeterministic(0) }
	lossyRecv := func() gbn.DropPolicy { return gbn.NewDeterministic(2) }

	nodeA, err := node.New(node.Config{
		LocalPort:     portA,
		SendNeighbors: []uint16{portB},
		WindowSize:    5,
		NewDropPolicy: noDrop,
		Initiator:     true,
	}, nil)
	require.NoError(t, err)

	// nodeB declares a nonzero initial loss for its recv-neighbor link
	// to nodeA; per S5 this value must never seed nodeA's routing cost
	// to portB — only nodeA's own probe measurement may.
	nodeB, err := node.New(node.Config{
		LocalPort:     portB,
		RecvNeighbors: []node.RecvNeighbor{{Port: portA, InitialLoss: 0.9}},
		WindowSize:    5,
		NewDropPolicy: lossyRecv,
		Initiator:     true,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go nodeA.Run(ctx)
	go nodeB.Run(ctx)

	require.Eventually(t, func() bool {
		snap := nodeA.Table().Snapshot()
		entry, ok := snap[portB]
		return ok && entry.Cost.Float64() > 0
	}, 5*time.Second, 20*time.Millisecond)

	snap := nodeA.Table().Snapshot()
	entry, ok := snap[portB]
	require.True(t, ok)
	assert.InDelta(t, 1.0/6.0, entry.Cost.Float64(), 0.05)
}
