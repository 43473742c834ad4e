// Package node implements the composite node that ties the GBN probe
// transport to the distance-vector routing engine: it runs a GBN
// receiver per inbound probe neighbor, starts GBN senders per outbound
// probe neighbor once the network is alive, feeds measured link loss
// into the DV table, and prints per-link loss statistics every
// second. Adapted from the original CNLink class.
package node

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandia-minimega/overlay-lossroute/internal/cost"
	"github.com/sandia-minimega/overlay-lossroute/internal/dv"
	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
	"github.com/sandia-minimega/overlay-lossroute/internal/gbn"
	"github.com/sandia-minimega/overlay-lossroute/internal/metrics"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
	"github.com/sandia-minimega/overlay-lossroute/internal/transport"
)

// LossRatePrintInterval is how often the link-loss printer wakes.
var LossRatePrintInterval = time.Second

type linkStat struct {
	Sent, Lost uint64
	Rate       float64
}

// Node is the composite overlay-routing node.
type Node struct {
	cfg Config

	ep      *transport.Endpoint
	table   *dv.Table
	metrics *metrics.Registry

	probeMu    sync.Mutex
	probes     map[uint16]*gbn.Engine // send_neighbor port -> probe-sending engine
	inFlight   map[uint16]bool
	startedDV  bool
	firstDVMu  sync.Mutex

	recvMu sync.Mutex
	recv   map[uint16]*gbn.Engine // recv_neighbor port -> probe-receiving engine

	lossMu sync.Mutex
	loss   map[uint16]linkStat

	runCtx context.Context // set by Run; stops the printer and probe loops
}

// New constructs a node's runtime state (routing table, receiving
// probe engines) without starting any goroutines. Call Run to start
// listening and, if Config.Initiator, send the first DV broadcast.
func New(cfg Config, reg *metrics.Registry) (*Node, error) {
	n := &Node{
		cfg:      cfg,
		metrics:  reg,
		probes:   make(map[uint16]*gbn.Engine),
		inFlight: make(map[uint16]bool),
		recv:     make(map[uint16]*gbn.Engine),
		loss:     make(map[uint16]linkStat),
	}

	ep, err := transport.NewEndpoint(cfg.LocalPort, n.handleMessage, reg)
	if err != nil {
		return nil, err
	}
	n.ep = ep

	neighborPorts := make([]uint16, 0, len(cfg.RecvNeighbors)+len(cfg.SendNeighbors))
	for _, rn := range cfg.RecvNeighbors {
		neighborPorts = append(neighborPorts, rn.Port)
	}
	neighborPorts = append(neighborPorts, cfg.SendNeighbors...)

	n.table = dv.New(cfg.LocalPort, neighborPorts, n.broadcastDV)

	for _, rn := range cfg.RecvNeighbors {
		n.recv[rn.Port] = gbn.New(cfg.LocalPort, rn.Port, cfg.WindowSize, cfg.NewDropPolicy(), ep, nil, reg)
	}

	n.updateTableMetric()

	return n, nil
}

// Table returns this node's routing table, mainly for tests and the
// composite binary's future introspection hooks.
func (n *Node) Table() *dv.Table { return n.table }

// Run blocks, listening for datagrams and driving every receiving GBN
// engine, until ctx is canceled. If this node is the configured
// initiator it broadcasts its table once before blocking. Its
// lifecycle goroutines (one per receiving engine, the endpoint
// listener, and the optional metrics server) are supervised with an
// errgroup rather than a bare WaitGroup so a hard failure in any one
// of them cancels the rest instead of leaking them.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	n.runCtx = gctx

	for _, eng := range n.recv {
		e := eng
		g.Go(func() error {
			e.Run(gctx)
			return nil
		})
	}

	if n.cfg.MetricsAddr != "" && n.metrics != nil {
		srv := &http.Server{Addr: n.cfg.MetricsAddr, Handler: n.metrics.Handler()}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errs.NewTransportError("metrics server", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	if n.cfg.Initiator {
		n.table.Broadcast()
	}

	g.Go(func() error {
		return n.ep.Listen(gctx)
	})

	return g.Wait()
}

func (n *Node) handleMessage(_ string, msg transport.Message) {
	switch msg.Type {
	case transport.TypeDV:
		n.handleDV(msg)
	case transport.TypeMessage, transport.TypeAck, transport.TypeStats:
		n.routeToEngine(msg)
	default:
		mlog.Warn("node: %v", errs.NewProtocolViolation("unknown message type %q", msg.Type))
	}
}

// routeToEngine dispatches a GBN-protocol message to the engine for
// the peer that sent it: the receiving engine of a recv_neighbor, or
// the probe engine probeLoop created for a send_neighbor. A message
// from a peer with neither engine is logged and dropped.
func (n *Node) routeToEngine(msg transport.Message) {
	peer, ok := transport.MetaUint16(msg.Metadata, "port")
	if !ok {
		mlog.Warn("node: gbn message missing sender port")
		return
	}

	n.recvMu.Lock()
	eng, isRecv := n.recv[peer]
	n.recvMu.Unlock()
	if isRecv {
		eng.HandleMessage(msg)
		return
	}

	n.probeMu.Lock()
	eng, ok = n.probes[peer]
	n.probeMu.Unlock()
	if ok {
		eng.HandleMessage(msg)
		return
	}

	mlog.Warn("node: no engine for peer %d", peer)
}

// handleDV applies an incoming distance-vector advertisement, and, on
// the very first one this node has ever seen, kicks off probing and
// the loss-rate printer (the GBN probing side of the composite node
// only makes sense once the network is alive).
func (n *Node) handleDV(msg transport.Message) {
	srcPort, ok := transport.MetaUint16(msg.Metadata, "port")
	if !ok {
		mlog.Warn("node: dv message missing sender port")
		return
	}

	payload, _ := msg.Payload.(map[string]interface{})
	vecRaw, _ := payload["vector"].(map[string]interface{})
	incoming := dv.DecodeVector(vecRaw)

	mlog.Infoln(fmt.Sprintf("Message received at Node %d from Node %d", n.cfg.LocalPort, srcPort))

	n.table.Relax(srcPort, incoming)
	n.updateTableMetric()

	n.maybeStartProbing()
}

func (n *Node) updateTableMetric() {
	if n.metrics == nil {
		return
	}
	n.metrics.RoutingTableEntries.Set(float64(len(n.table.Snapshot())))
}

func (n *Node) maybeStartProbing() {
	n.firstDVMu.Lock()
	defer n.firstDVMu.Unlock()
	if n.startedDV {
		return
	}
	n.startedDV = true

	go n.printLossRates(n.runCtx)
	for _, peer := range n.cfg.SendNeighbors {
		go n.probeLoop(n.runCtx, peer)
	}
}

// probeLoop repeatedly runs one-at-a-time probe transfers to peer,
// enforcing the one-in-flight rule: a new probe only starts once the
// previous transfer's stats have been received.
func (n *Node) probeLoop(ctx context.Context, peer uint16) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n.probeMu.Lock()
		if n.inFlight[peer] {
			n.probeMu.Unlock()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		n.inFlight[peer] = true

		eng, ok := n.probes[peer]
		if !ok {
			eng = gbn.New(n.cfg.LocalPort, peer, n.cfg.WindowSize, n.cfg.NewDropPolicy(), n.ep, n.onProbeStats(peer), n.metrics)
			n.probes[peer] = eng
			engCtx, cancel := context.WithCancel(ctx)
			go func() {
				eng.Run(engCtx)
				cancel()
			}()
		}
		n.probeMu.Unlock()

		eng.Enqueue("probe")

		// Wait for this probe to complete (inFlight cleared by the
		// stats callback) before starting the next one.
		for {
			n.probeMu.Lock()
			done := !n.inFlight[peer]
			n.probeMu.Unlock()
			if done {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}
}

// onProbeStats returns the GBN on_stats callback for the probe engine
// to peer: it records the measured loss rate and feeds it back into
// the routing table as that link's new cost.
func (n *Node) onProbeStats(peer uint16) func(dropped, total uint64) {
	return func(dropped, total uint64) {
		rate := 0.0
		if total > 0 {
			rate = float64(dropped) / float64(total)
		}

		n.lossMu.Lock()
		n.loss[peer] = linkStat{Sent: total, Lost: dropped, Rate: rate}
		n.lossMu.Unlock()

		n.table.SetLinkCost(peer, cost.FromFloat(rate))
		n.updateTableMetric()

		n.probeMu.Lock()
		n.inFlight[peer] = false
		n.probeMu.Unlock()
	}
}

func (n *Node) broadcastDV(dest uint16, vec dv.Vector) {
	mlog.Infoln(fmt.Sprintf("Message sent from Node %d to Node %d", n.cfg.LocalPort, dest))
	msg := transport.Message{
		Type:     transport.TypeDV,
		Payload:  map[string]interface{}{"vector": dv.EncodeVector(vec)},
		Metadata: map[string]interface{}{"port": n.cfg.LocalPort},
	}
	if err := n.ep.Send(msg, dest, "127.0.0.1"); err != nil {
		mlog.Error("node: dv send to %d: %v", dest, err)
	}
}

func (n *Node) printLossRates(ctx context.Context) {
	ticker := time.NewTicker(LossRatePrintInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.lossMu.Lock()
			ports := make([]uint16, 0, len(n.loss))
			for p := range n.loss {
				ports = append(ports, p)
			}
			sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
			for _, p := range ports {
				s := n.loss[p]
				if n.metrics != nil {
					n.metrics.LinkLossRate.WithLabelValues(portLabel(p)).Set(s.Rate)
				}
				mlog.Infoln(fmt.Sprintf("Link to %d: %d sent, %d lost, loss %v", p, s.Sent, s.Lost, s.Rate))
			}
			n.lossMu.Unlock()
		}
	}
}

func portLabel(p uint16) string { return fmt.Sprintf("%d", p) }
