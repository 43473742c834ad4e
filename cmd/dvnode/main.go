// Command dvnode runs a distance-vector-only overlay node: it
// advertises and relaxes routing costs against statically configured
// neighbor links, with no GBN probing. Adapted from the teacher's
// cmd/minimega entry point (flag-free, signal-driven shutdown) and the
// original dvnode.py.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandia-minimega/overlay-lossroute/internal/cliparse"
	"github.com/sandia-minimega/overlay-lossroute/internal/cost"
	"github.com/sandia-minimega/overlay-lossroute/internal/dv"
	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
	"github.com/sandia-minimega/overlay-lossroute/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	mlog.Init(mlog.INFO)

	parsed, err := cliparse.ParseDV(os.Args[1:])
	if err != nil {
		return err
	}

	neighborPorts := make([]uint16, 0, len(parsed.Neighbors))
	for _, nb := range parsed.Neighbors {
		neighborPorts = append(neighborPorts, nb.Port)
	}

	var table *dv.Table

	handler := func(_ string, msg transport.Message) {
		if msg.Type != transport.TypeDV {
			mlog.Warn("dvnode: ignoring message type %q", msg.Type)
			return
		}
		payload, _ := msg.Payload.(map[string]interface{})
		vecRaw, _ := payload["vector"].(map[string]interface{})
		incoming := dv.DecodeVector(vecRaw)
		srcPort, _ := transport.MetaUint16(msg.Metadata, "port")
		mlog.Infoln(fmt.Sprintf("Message received at Node %d from Node %d", parsed.LocalPort, srcPort))
		table.Relax(srcPort, incoming)
	}

	ep, err := transport.NewEndpoint(parsed.LocalPort, handler, nil)
	if err != nil {
		return err
	}
	defer ep.Close()

	broadcast := func(dest uint16, vec dv.Vector) {
		mlog.Infoln(fmt.Sprintf("Message sent from Node %d to Node %d", parsed.LocalPort, dest))
		msg := transport.Message{
			Type:     transport.TypeDV,
			Payload:  map[string]interface{}{"vector": dv.EncodeVector(vec)},
			Metadata: map[string]interface{}{"port": parsed.LocalPort},
		}
		if err := ep.Send(msg, dest, "127.0.0.1"); err != nil {
			mlog.Error("dvnode: send to %d: %v", dest, err)
		}
	}

	table = dv.New(parsed.LocalPort, neighborPorts, broadcast)
	for _, nb := range parsed.Neighbors {
		table.SetLinkCost(nb.Port, cost.FromFloat(nb.Loss))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupted := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		mlog.Warn("caught interrupt, shutting down")
		close(interrupted)
		cancel()
	}()

	if parsed.Last {
		table.Broadcast()
	}

	if err := ep.Listen(ctx); err != nil {
		return err
	}
	select {
	case <-interrupted:
		return errs.ErrInterrupt
	default:
		return nil
	}
}
