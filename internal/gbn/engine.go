// Package gbn implements the Go-Back-N reliable byte transport: a
// sliding-window sender and cumulative-ACK receiver sharing one engine
// per ordered (local, peer) pair, since the wire protocol is
// symmetric. Adapted from the original Sender class's buffer/window
// pump and timer threads, generalized with a pluggable DropPolicy and
// context-based cancellation in place of a polled stop_event.
package gbn

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
	"github.com/sandia-minimega/overlay-lossroute/internal/metrics"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
	"github.com/sandia-minimega/overlay-lossroute/internal/transport"
)

// RetransmitInterval is the fixed Go-Back-N timeout. Exposed as a
// variable so tests can shrink it.
var RetransmitInterval = 500 * time.Millisecond

// PumpIdleInterval is how long the buffer pump sleeps when it has
// nothing to send, so it doesn't spin the CPU. The original
// implementation busy-loops here; a short sleep preserves its "send
// as soon as a slot is free" behavior without burning a core.
var PumpIdleInterval = 2 * time.Millisecond

// Snapshot reports the state of a completed or in-flight transfer.
type Snapshot struct {
	Sent    uint64
	Acked   uint64
	Dropped uint64
	Total   uint64
}

// Engine is one endpoint of a reliable byte stream to a single peer.
// It plays both the sender role (for text enqueued locally) and the
// receiver role (for "message" packets arriving from the peer),
// because both roles share the same wire protocol and drop policy.
type Engine struct {
	local, peer uint16
	windowSize  int
	drop        DropPolicy
	sender      transport.Sender
	onStats     func(dropped, total uint64)
	metrics     *metrics.Registry

	// sender-side state, guarded by mu
	mu          sync.Mutex
	buffer      []byte
	windowBase  uint32
	nextSeq     uint32
	totalMsg    string
	ackedWindow uint64

	// receiver-side state, guarded by rmu
	rmu         sync.Mutex
	expectedSeq uint32
	partial     []byte
	rDropped    uint64
	rAcked      uint64
}

// New builds an engine for the ordered pair (local, peer). sender is
// the transport used to emit packets; onStats, if non-nil, is invoked
// with the measured loss whenever this engine receives a "stats"
// message (i.e. when it was acting as the sending side of a transfer).
func New(local, peer uint16, windowSize int, drop DropPolicy, sender transport.Sender, onStats func(dropped, total uint64), reg *metrics.Registry) *Engine {
	return &Engine{
		local:      local,
		peer:       peer,
		windowSize: windowSize,
		drop:       drop,
		sender:     sender,
		onStats:    onStats,
		metrics:    reg,
	}
}

// Enqueue appends text to the outbound buffer. It does not itself
// transmit; the buffer pump drains it.
func (e *Engine) Enqueue(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, text...)
	e.totalMsg += text
}

// Run starts the buffer pump and retransmission timer and blocks
// until ctx is canceled.
func (e *Engine) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); e.pump(ctx) }()
	go func() { defer wg.Done(); e.timer(ctx) }()
	wg.Wait()
}

// pump transmits exactly one outstanding packet per iteration when
// the window has room, matching the spec's natural-pacing rule.
func (e *Engine) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		sent := e.pumpOnce()
		if !sent {
			select {
			case <-ctx.Done():
				return
			case <-time.After(PumpIdleInterval):
			}
		}
	}
}

func (e *Engine) pumpOnce() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	offset := e.nextSeq - e.windowBase
	if int(offset) >= e.windowSize || int(e.nextSeq) >= len(e.buffer) {
		return false
	}

	c := e.buffer[e.nextSeq]
	e.sendPacket(e.nextSeq, c)
	e.nextSeq++
	return true
}

// sendPacket transmits the data packet for sequence seq carrying byte
// c. Caller must hold mu.
func (e *Engine) sendPacket(seq uint32, c byte) {
	msg := transport.Message{
		Type:    transport.TypeMessage,
		Payload: string(c),
		Metadata: map[string]interface{}{
			"port":          e.local,
			"packet_num":    seq,
			"total_message": e.totalMsg,
		},
	}
	if err := e.sender.Send(msg, e.peer, "127.0.0.1"); err != nil {
		mlog.Error("gbn send to %d: %v", e.peer, err)
		return
	}
	if e.metrics != nil {
		e.metrics.PacketsSent.WithLabelValues(peerLabel(e.peer)).Inc()
	}
	mlog.Infoln("packet" + strconv.FormatUint(uint64(seq), 10) + " " + string(c) + " sent")
}

// timer implements the single retransmission timer: snapshot the
// window base, sleep the fixed interval, and retransmit the whole
// outstanding window if the base hasn't advanced.
func (e *Engine) timer(ctx context.Context) {
	for {
		e.mu.Lock()
		empty := len(e.buffer) == 0 || e.windowBase >= uint32(len(e.buffer))
		base := e.windowBase
		e.mu.Unlock()

		if empty {
			select {
			case <-ctx.Done():
				return
			case <-time.After(PumpIdleInterval):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(RetransmitInterval):
		}

		e.mu.Lock()
		if e.windowBase > base {
			e.mu.Unlock()
			continue
		}
		e.retransmitWindowLocked()
		e.mu.Unlock()
	}
}

// retransmitWindowLocked resends every packet in [windowBase, nextSeq)
// in order without advancing nextSeq. Caller must hold mu.
func (e *Engine) retransmitWindowLocked() {
	mlog.Infoln("packet" + strconv.FormatUint(uint64(e.windowBase), 10) + " timeout")
	if e.metrics != nil {
		e.metrics.Retransmissions.WithLabelValues(peerLabel(e.peer)).Inc()
	}
	for seq := e.windowBase; seq < e.nextSeq; seq++ {
		if int(seq) >= len(e.buffer) {
			break
		}
		e.sendPacket(seq, e.buffer[seq])
	}
}

// HandleMessage dispatches an incoming datagram to the sender-side or
// receiver-side handler based on its type.
func (e *Engine) HandleMessage(msg transport.Message) {
	switch msg.Type {
	case transport.TypeAck:
		e.handleAck(msg)
	case transport.TypeStats:
		e.handleStats(msg)
	case transport.TypeMessage:
		e.handleData(msg)
	default:
		mlog.Warn("gbn: %v", errs.NewProtocolViolation("unknown message type %q", msg.Type))
	}
}

func (e *Engine) handleAck(msg transport.Message) {
	seq, ok := transport.MetaUint32(msg.Metadata, "packet_num")
	if !ok {
		mlog.Warn("gbn: %v", errs.NewProtocolViolation("ack missing packet_num"))
		return
	}

	if e.drop.ShouldDrop(seq) {
		mlog.Infoln("ACK" + strconv.FormatUint(uint64(seq), 10) + " discarded")
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if seq != e.windowBase {
		mlog.Infoln("ACK" + strconv.FormatUint(uint64(seq), 10) + " dropped, at base " + strconv.FormatUint(uint64(e.windowBase), 10))
		return
	}

	e.windowBase++
	e.ackedWindow++
	if e.metrics != nil {
		e.metrics.PacketsAcked.WithLabelValues(peerLabel(e.peer)).Inc()
	}
	mlog.Infoln("ACK" + strconv.FormatUint(uint64(seq), 10) + " received, window moves to " + strconv.FormatUint(uint64(e.windowBase), 10))
}

func (e *Engine) handleStats(msg transport.Message) {
	payload, _ := msg.Payload.(map[string]interface{})
	dropped := numberField(payload, "dropped_packets")
	total := numberField(payload, "total_packets")

	e.mu.Lock()
	e.buffer = nil
	e.windowBase = 0
	e.nextSeq = 0
	e.totalMsg = ""
	e.ackedWindow = 0
	e.mu.Unlock()

	e.rmu.Lock()
	e.expectedSeq = 0
	e.partial = nil
	e.rDropped = 0
	e.rAcked = 0
	e.rmu.Unlock()

	if e.onStats != nil {
		e.onStats(dropped, total)
	}
}

func (e *Engine) handleData(msg transport.Message) {
	seq, ok := transport.MetaUint32(msg.Metadata, "packet_num")
	if !ok {
		mlog.Warn("gbn: %v", errs.NewProtocolViolation("message missing packet_num"))
		return
	}
	totalMessage, _ := transport.MetaString(msg.Metadata, "total_message")
	c, _ := msg.Payload.(string)

	if e.drop.ShouldDrop(seq) {
		e.rmu.Lock()
		e.rDropped++
		e.rmu.Unlock()
		if e.metrics != nil {
			e.metrics.PacketsDropped.WithLabelValues(peerLabel(e.peer)).Inc()
		}
		mlog.Infoln("packet" + strconv.FormatUint(uint64(seq), 10) + " " + c + " discarded")
		return
	}

	mlog.Infoln("packet" + strconv.FormatUint(uint64(seq), 10) + " " + c + " received")

	e.rmu.Lock()
	defer e.rmu.Unlock()

	switch {
	case seq > e.expectedSeq:
		mlog.Infoln("packet" + strconv.FormatUint(uint64(seq), 10) + " " + c + " dropped")
		return
	case seq < e.expectedSeq:
		e.sendAck(seq)
		mlog.Infoln("dup ACK" + strconv.FormatUint(uint64(seq), 10) + " sent, expecting packet" + strconv.FormatUint(uint64(e.expectedSeq), 10))
		return
	default:
		e.partial = append(e.partial, c...)
		e.expectedSeq++
		e.rAcked++
		e.sendAck(seq)
		mlog.Infoln("ACK" + strconv.FormatUint(uint64(seq), 10) + " sent, expecting packet" + strconv.FormatUint(uint64(e.expectedSeq), 10))
	}

	if string(e.partial) == totalMessage {
		e.sendStatsLocked()
	}
}

// sendAck transmits an ack for seq. Caller must hold rmu.
func (e *Engine) sendAck(seq uint32) {
	msg := transport.Message{
		Type: transport.TypeAck,
		Metadata: map[string]interface{}{
			"port":       e.local,
			"packet_num": seq,
		},
	}
	if err := e.sender.Send(msg, e.peer, "127.0.0.1"); err != nil {
		mlog.Error("gbn ack to %d: %v", e.peer, err)
	}
}

// sendStatsLocked transmits the end-of-transfer summary and resets
// receiver state. Caller must hold rmu.
func (e *Engine) sendStatsLocked() {
	total := e.rDropped + e.rAcked
	msg := transport.Message{
		Type: transport.TypeStats,
		Payload: map[string]interface{}{
			"dropped_packets": e.rDropped,
			"total_packets":   total,
		},
		Metadata: map[string]interface{}{"port": e.local},
	}
	dropped, acked := e.rDropped, e.rAcked
	if err := e.sender.Send(msg, e.peer, "127.0.0.1"); err != nil {
		mlog.Error("gbn stats to %d: %v", e.peer, err)
	}

	rate := 0.0
	if total > 0 {
		rate = float64(dropped) / float64(total)
	}
	mlog.Infoln("[Summary] " + strconv.FormatUint(dropped, 10) + "/" + strconv.FormatUint(total, 10) +
		" packets discarded, loss rate = " + pyFloatString(rate) + "%")

	e.expectedSeq = 0
	e.partial = nil
	e.rDropped = 0
	_ = acked
	e.rAcked = 0
}

// Stats returns a snapshot of the sender-side transfer state, mainly
// useful in tests; production code gets measurements via onStats.
// Only Sent (packets pumped so far) and Acked are filled; Dropped and
// Total are left zero.
func (e *Engine) Stats() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Sent:  uint64(e.nextSeq),
		Acked: e.ackedWindow,
	}
}

func numberField(m map[string]interface{}, key string) uint64 {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return uint64(n)
	case uint64:
		return n
	case int:
		return uint64(n)
	}
	return 0
}

func peerLabel(p uint16) string { return strconv.Itoa(int(p)) }

// pyFloatString renders a float the way the original Python
// implementation's str(float) does for the summary line, e.g. 0.0 ->
// "0.0" rather than Go's default "0". This is cosmetic but the log
// line is part of the tested surface, so it must match exactly.
func pyFloatString(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
