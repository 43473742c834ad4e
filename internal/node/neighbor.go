package node

import "github.com/sandia-minimega/overlay-lossroute/internal/gbn"

// RecvNeighbor is a peer this node receives probes from and measures
// inbound link loss for.
type RecvNeighbor struct {
	Port        uint16
	InitialLoss float64
}

// Config is the startup configuration for a composite node: the
// listening port and its two disjoint neighbor sets.
type Config struct {
	LocalPort     uint16
	RecvNeighbors []RecvNeighbor
	SendNeighbors []uint16
	Initiator     bool // CLI "last" flag: broadcast the first DV unprompted

	WindowSize int
	NewDropPolicy func() gbn.DropPolicy // fresh policy per GBN engine

	MetricsAddr string // empty disables the /metrics exporter
}
