// Command cnnode runs a composite overlay node: GBN loss probing to
// its send-neighbors feeding live link costs into a distance-vector
// routing table shared with its receive-neighbors. Adapted from the
// original cnnode.py's CNLink and the teacher's cmd/minimega entry
// point for signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandia-minimega/overlay-lossroute/internal/cliparse"
	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
	"github.com/sandia-minimega/overlay-lossroute/internal/gbn"
	"github.com/sandia-minimega/overlay-lossroute/internal/metrics"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
	"github.com/sandia-minimega/overlay-lossroute/internal/node"
)

const defaultWindowSize = 5

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	metricsAddr := flag.String("metrics", "", "address to serve /metrics on, e.g. :9100 (disabled if empty)")
	windowSize := flag.Int("window", defaultWindowSize, "GBN window size for probe transfers")
	dropProb := flag.Float64("drop", 0, "probabilistic drop rate applied to probe traffic")
	flag.Parse()

	mlog.Init(mlog.INFO)

	parsed, err := cliparse.ParseCN(flag.Args())
	if err != nil {
		return err
	}

	var reg *metrics.Registry
	if *metricsAddr != "" {
		reg = metrics.New()
	}

	recvNeighbors := make([]node.RecvNeighbor, 0, len(parsed.RecvNeighbors))
	for _, nb := range parsed.RecvNeighbors {
		recvNeighbors = append(recvNeighbors, node.RecvNeighbor{Port: nb.Port, InitialLoss: nb.Loss})
	}

	cfg := node.Config{
		LocalPort:     parsed.LocalPort,
		RecvNeighbors: recvNeighbors,
		SendNeighbors: parsed.SendNeighbors,
		Initiator:     parsed.Last,
		WindowSize:    *windowSize,
		NewDropPolicy: func() gbn.DropPolicy { return gbn.NewProbabilistic(*dropProb, 1) },
		MetricsAddr:   *metricsAddr,
	}

	n, err := node.New(cfg, reg)
	if err != nil {
		return err
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

	if err := n.Run(ctx); err != nil {
		return err
	}
	select {
	case <-interrupted:
		return errs.ErrInterrupt
	default:
		return nil
	}
}
