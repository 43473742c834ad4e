package transport_test

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandia-minimega/overlay-lossroute/internal/transport"
)

// TestEndpoint_SendReceive covers the §4.1 contract: a message sent
// to a listening endpoint's port is decoded and dispatched to its
// handler with the same type/payload/metadata.
func TestEndpoint_SendReceive(t *testing.T) {
	orig := transport.PollInterval
	transport.PollInterval = 20 * time.Millisecond
	defer func() { transport.PollInterval = orig }()

	var mu sync.Mutex
	var got transport.Message
	received := make(chan struct{})

	receiver, err := transport.NewEndpoint(0, func(_ string, msg transport.Message) {
		mu.Lock()
		got = msg
		mu.Unlock()
		close(received)
	}, nil)
	require.NoError(t, err)
	defer receiver.Close()

	sender, err := transport.NewEndpoint(0, func(string, transport.Message) {}, nil)
	require.NoError(t, err)
	defer sender.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go receiver.Listen(ctx)

	msg := transport.Message{
		Type:     transport.TypeMessage,
		Payload:  "x",
		Metadata: map[string]interface{}{"port": float64(sender.LocalPort()), "packet_num": float64(0)},
	}
	require.NoError(t, sender.Send(msg, receiver.LocalPort(), "127.0.0.1"))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, transport.TypeMessage, got.Type)
	assert.Equal(t, "x", got.Payload)

	seq, ok := transport.MetaUint32(got.Metadata, "packet_num")
	require.True(t, ok)
	assert.Equal(t, uint32(0), seq)
}

// TestEndpoint_MalformedDatagramIsDropped confirms malformed JSON is
// discarded rather than crashing the listener or reaching the handler.
func TestEndpoint_MalformedDatagramIsDropped(t *testing.T) {
	orig := transport.PollInterval
	transport.PollInterval = 20 * time.Millisecond
	defer func() { transport.PollInterval = orig }()

	var mu sync.Mutex
	handlerCalled := false
	receiver, err := transport.NewEndpoint(0, func(string, transport.Message) {
		mu.Lock()
		handlerCalled = true
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer receiver.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go receiver.Listen(ctx)

	conn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", receiver.LocalPort()))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("not valid json"))
	require.NoError(t, err)

	// Give the listener a poll cycle to process (and discard) the
	// malformed datagram, then confirm it never reached the handler.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, handlerCalled)
}
