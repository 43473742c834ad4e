// Package dv implements the distance-vector routing engine: a
// Bellman-Ford-style routing table that relaxes against neighbor
// vectors and re-broadcasts on change. Adapted from the original
// Link.sync_distance_vector/dispatch_dv pair, generalized with a
// Broadcaster capability so the table never holds a reference back to
// the node or transport that owns it (the "cyclic ownership" design
// note).
package dv

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sandia-minimega/overlay-lossroute/internal/cost"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
)

// Entry is one routing table row: the best known cost to the row's
// destination (its key in a Vector) and the ordered intermediate hops
// to reach it.
type Entry struct {
	Cost cost.Loss
	Hops []uint16
}

// Vector is the wire shape of a routing table: destination port to
// entry, used both as the table's own snapshot and as an incoming
// neighbor advertisement.
type Vector map[uint16]Entry

// Broadcaster sends this node's current vector to dest. The table
// calls it once per known destination (excluding self) whenever a
// relaxation changes the table, and once up front for the network
// initiator.
type Broadcaster func(dest uint16, vec Vector)

// Table is one node's routing table.
type Table struct {
	self uint16

	mu    sync.Mutex
	rows  Vector
	clock func() time.Time

	broadcast Broadcaster
}

// New builds a table seeded with zero-cost, empty-hop entries for
// self and every neighbor port, per the spec's initialization rule.
func New(self uint16, neighbors []uint16, broadcast Broadcaster) *Table {
	rows := Vector{self: {Cost: cost.Zero, Hops: nil}}
	for _, p := range neighbors {
		if p == self {
			continue
		}
		if _, ok := rows[p]; !ok {
			rows[p] = Entry{Cost: cost.Zero, Hops: nil}
		}
	}
	return &Table{self: self, rows: rows, broadcast: broadcast, clock: time.Now}
}

// Snapshot returns a defensive copy of the current table.
func (t *Table) Snapshot() Vector {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneVector(t.rows)
}

// SetLinkCost rewrites the direct cost of neighbor and relaxes the
// table against itself, used when a GBN probe produces a fresh
// measured loss rate for that link. If anything in the table changed,
// the table is broadcast and SetLinkCost returns true.
func (t *Table) SetLinkCost(neighbor uint16, c cost.Loss) bool {
	t.mu.Lock()
	e, ok := t.rows[neighbor]
	updated := !ok || !e.Cost.Equal(c)
	if updated {
		t.rows[neighbor] = Entry{Cost: c, Hops: e.Hops}
	}
	self := cloneVector(t.rows)
	t.mu.Unlock()

	changed := t.Relax(neighbor, self)
	if updated && !changed {
		t.dispatch(t.Snapshot())
	}
	return changed || updated
}

// Relax applies the spec's relaxation rule: for every destination d
// in incoming (other than self), candidate = round(link + incoming
// cost, 2); if d is new or candidate is strictly less than the
// incumbent, adopt it with hop list [incomingPort]. It always prints
// the resulting table, and broadcasts it to every known destination
// (except self) if anything changed.
func (t *Table) Relax(incomingPort uint16, incoming Vector) bool {
	t.mu.Lock()

	link, ok := t.rows[incomingPort]
	if !ok {
		// Incoming from a port we don't yet treat as a direct link:
		// take the link cost as zero so non-neighbor destinations can
		// still be discovered through it.
		link = Entry{Cost: cost.Zero, Hops: nil}
	}

	changed := false
	for dest, e := range incoming {
		if dest == t.self {
			continue
		}
		candidate := link.Cost.Add(e.Cost)

		existing, has := t.rows[dest]
		if !has || candidate.Less(existing.Cost) {
			t.rows[dest] = Entry{Cost: candidate, Hops: []uint16{incomingPort}}
			changed = true
		}
	}

	snapshot := cloneVector(t.rows)
	t.mu.Unlock()

	t.print(snapshot)

	if changed {
		t.dispatch(snapshot)
	}
	return changed
}

// Broadcast sends the current table to every known destination except
// self, unconditionally. Used by the network initiator on startup.
func (t *Table) Broadcast() {
	snapshot := t.Snapshot()
	t.dispatch(snapshot)
}

func (t *Table) dispatch(snapshot Vector) {
	if t.broadcast == nil {
		return
	}
	dests := make([]uint16, 0, len(snapshot))
	for d := range snapshot {
		if d != t.self {
			dests = append(dests, d)
		}
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })
	for _, d := range dests {
		t.broadcast(d, snapshot)
	}
}

func (t *Table) print(snapshot Vector) {
	dests := make([]uint16, 0, len(snapshot))
	for d := range snapshot {
		dests = append(dests, d)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	mlog.Infoln(fmt.Sprintf("[%d] Node %d Routing Table", t.clock().Unix(), t.self))
	for _, d := range dests {
		e := snapshot[d]
		line := fmt.Sprintf("- (%s) -> Node %d", e.Cost.String(), d)
		for _, h := range e.Hops {
			line += fmt.Sprintf("; Next hop -> %d", h)
		}
		mlog.Infoln(line)
	}
}

// EncodeVector renders a vector into the wire shape used inside a DV
// message payload: destination port (as a decimal string, since JSON
// object keys must be strings) to {loss, hops}.
func EncodeVector(v Vector) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for port, e := range v {
		hops := e.Hops
		if hops == nil {
			hops = []uint16{}
		}
		out[strconv.Itoa(int(port))] = map[string]interface{}{
			"loss": e.Cost.Float64(),
			"hops": hops,
		}
	}
	return out
}

// DecodeVector parses the wire shape produced by EncodeVector back
// into a Vector, tolerating the float64 numeric decoding
// encoding/json applies by default.
func DecodeVector(raw map[string]interface{}) Vector {
	out := make(Vector, len(raw))
	for k, v := range raw {
		entry, _ := v.(map[string]interface{})
		loss, _ := entry["loss"].(float64)

		var hops []uint16
		switch rawHops := entry["hops"].(type) {
		case []interface{}:
			for _, h := range rawHops {
				if f, ok := h.(float64); ok {
					hops = append(hops, uint16(f))
				}
			}
		case []uint16:
			hops = append(hops, rawHops...)
		}

		port, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[uint16(port)] = Entry{Cost: cost.FromFloat(loss), Hops: hops}
	}
	return out
}

func cloneVector(v Vector) Vector {
	out := make(Vector, len(v))
	for k, e := range v {
		var hops []uint16
		if e.Hops != nil {
			hops = make([]uint16, len(e.Hops))
			copy(hops, e.Hops)
		}
		out[k] = Entry{Cost: e.Cost, Hops: hops}
	}
	return out
}
