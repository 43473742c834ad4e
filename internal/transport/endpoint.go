// Package transport owns the UDP socket boilerplate the core treats as
// an external collaborator: a single datagram endpoint per node that
// serializes/deserializes Messages and dispatches them to a handler.
// Adapted from the teacher's SocketClient-equivalent listen loop
// (select() on a 1s timeout) using a context-cancelable read deadline
// instead of a polled stop_event.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
	"github.com/sandia-minimega/overlay-lossroute/internal/metrics"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
)

// MaxDatagramSize bounds a single UDP read; payloads in this system
// are tiny, so a larger datagram almost certainly indicates corruption.
const MaxDatagramSize = 4096

// PollInterval bounds how long Listen blocks between checks of
// ctx.Done(), mirroring the original select() timeout. Tests may
// shrink it.
var PollInterval = time.Second

// Handler processes one received message from senderIP.
type Handler func(senderIP string, msg Message)

// Sender is the send-only capability other components depend on, so a
// GBN engine or DV table can't accidentally rebind the listener.
type Sender interface {
	Send(msg Message, port uint16, ip string) error
}

// Endpoint owns a single UDP socket bound to a node's listening port.
type Endpoint struct {
	port    uint16
	conn    *net.UDPConn
	handler Handler
	metrics *metrics.Registry

	sendMu sync.Mutex
}

// NewEndpoint binds a UDP socket on 0.0.0.0:port and returns an
// endpoint that will dispatch received messages to handler once
// Listen is running. Port 0 binds a free port, which LocalPort then
// reports. reg may be nil to disable metrics.
func NewEndpoint(port uint16, handler Handler, reg *metrics.Registry) (*Endpoint, error) {
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: int(port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, errs.NewTransportError("listen", err)
	}
	port = uint16(conn.LocalAddr().(*net.UDPAddr).Port)
	return &Endpoint{port: port, conn: conn, handler: handler, metrics: reg}, nil
}

// LocalPort returns the port this endpoint is bound to.
func (e *Endpoint) LocalPort() uint16 { return e.port }

// Close releases the underlying socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

// Send serializes and transmits msg to ip:port. Sends are
// concurrency-safe: the underlying socket is shared by every caller.
func (e *Endpoint) Send(msg Message, port uint16, ip string) error {
	if ip == "" {
		ip = "127.0.0.1"
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return errs.NewTransportError("marshal", err)
	}

	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: int(port)}

	e.sendMu.Lock()
	_, err = e.conn.WriteToUDP(data, addr)
	e.sendMu.Unlock()
	if err != nil {
		return errs.NewTransportError("send to "+addrString(ip, port), err)
	}
	if e.metrics != nil {
		e.metrics.DatagramsSent.WithLabelValues(portLabel(e.port)).Inc()
	}
	return nil
}

// Listen blocks, dispatching each received datagram to the handler,
// until ctx is canceled. It polls the read deadline every
// PollInterval so shutdown latency is bounded, mirroring the 1-second
// select() timeout in the original implementation.
func (e *Endpoint) Listen(ctx context.Context) error {
	buf := make([]byte, MaxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(PollInterval)); err != nil {
			return errs.NewTransportError("set read deadline", err)
		}

		n, addr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return errs.NewTransportError("read", err)
		}

		if e.metrics != nil {
			e.metrics.DatagramsReceived.WithLabelValues(portLabel(e.port)).Inc()
		}

		var msg Message
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			pv := errs.NewProtocolViolation("malformed datagram from %v: %v", addr, err)
			mlog.Warn("discarding %v", pv)
			if e.metrics != nil {
				e.metrics.DatagramsMalformed.Inc()
			}
			continue
		}

		e.handler(addr.IP.String(), msg)
	}
}

func portLabel(p uint16) string { return strconv.Itoa(int(p)) }

func addrString(ip string, port uint16) string {
	return fmt.Sprintf("%s:%d", ip, port)
}
