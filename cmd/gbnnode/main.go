// Command gbnnode runs a single Go-Back-N link in isolation: it
// listens for packets from one peer and offers an interactive prompt
// for queuing outbound transfers. Adapted from the original
// gbnnode.py's Sender and the teacher's cmd/minimega interactive CLI
// (liner-backed prompt, Ctrl-C shutdown).
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterh/liner"

	"github.com/sandia-minimega/overlay-lossroute/internal/cliparse"
	"github.com/sandia-minimega/overlay-lossroute/internal/errs"
	"github.com/sandia-minimega/overlay-lossroute/internal/gbn"
	"github.com/sandia-minimega/overlay-lossroute/internal/mlog"
	"github.com/sandia-minimega/overlay-lossroute/internal/repl"
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

	parsed, err := cliparse.ParseGBN(os.Args[1:])
	if err != nil {
		return err
	}

	var eng *gbn.Engine
	handler := func(_ string, msg transport.Message) {
		eng.HandleMessage(msg)
	}

	ep, err := transport.NewEndpoint(parsed.SelfPort, handler, nil)
	if err != nil {
		return err
	}
	defer ep.Close()

	drop, err := dropPolicy(parsed)
	if err != nil {
		return err
	}

	onStats := func(dropped, total uint64) {
		mlog.Infoln(fmt.Sprintf("transfer complete: %d/%d packets dropped", dropped, total))
	}

	eng = gbn.New(parsed.SelfPort, parsed.PeerPort, parsed.WindowSize, drop, ep, onStats, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		mlog.Warn("caught interrupt, shutting down")
		cancel()
	}()

	go func() { _ = ep.Listen(ctx) }()
	go eng.Run(ctx)

	// This node runs until interrupted (signal, "quit"/"exit", or EOF on
	// the prompt) — there is no normal-termination path here, per the
	// exit-code contract.
	runPrompt(ctx, cancel, eng)
	return errs.ErrInterrupt
}

func dropPolicy(parsed cliparse.GBNArgs) (gbn.DropPolicy, error) {
	switch parsed.Mode {
	case "-p":
		return gbn.NewProbabilistic(parsed.ModeValue, int64(parsed.SelfPort)), nil
	case "-d":
		return gbn.NewDeterministic(int(parsed.ModeValue)), nil
	default:
		return nil, fmt.Errorf("unreachable: unknown mode %q", parsed.Mode)
	}
}

// runPrompt drives the interactive "send <text>" REPL until ctx is
// canceled or stdin hits EOF.
func runPrompt(ctx context.Context, cancel context.CancelFunc, eng *gbn.Engine) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		text, err := line.Prompt("gbnnode> ")
		if err == liner.ErrPromptAborted {
			cancel()
			return
		}
		if err == io.EOF {
			cancel()
			return
		}
		if err != nil {
			mlog.Error("prompt: %v", err)
			continue
		}

		cmd, err := repl.Parse(text)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if cmd.Name == "" {
			continue
		}

		line.AppendHistory(strings.TrimSpace(text))

		switch cmd.Name {
		case "send":
			if len(cmd.Args) == 0 {
				fmt.Fprintln(os.Stderr, "usage: send <text>")
				continue
			}
			eng.Enqueue(strings.Join(cmd.Args, " "))
		case "quit", "exit":
			cancel()
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd.Name)
		}
	}
}
